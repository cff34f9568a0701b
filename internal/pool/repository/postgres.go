package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"training-lab-control-plane/internal/pool/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetConfig(ctx context.Context, tier string) (*domain.Config, error) {
	query := `
		SELECT tier, min_size, max_size, warm_min, warm_max_prepared, compute_group
		FROM pools
		WHERE tier = $1
	`
	var c domain.Config
	err := r.db.QueryRowContext(ctx, query, tier).Scan(
		&c.Tier, &c.MinSize, &c.MaxSize, &c.WarmMin, &c.WarmMaxPrepared, &c.ComputeGroup,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pool config: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) ListConfigs(ctx context.Context) ([]*domain.Config, error) {
	query := `
		SELECT tier, min_size, max_size, warm_min, warm_max_prepared, compute_group
		FROM pools
		ORDER BY tier
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pool configs: %w", err)
	}
	defer rows.Close()

	var configs []*domain.Config
	for rows.Next() {
		var c domain.Config
		if err := rows.Scan(&c.Tier, &c.MinSize, &c.MaxSize, &c.WarmMin, &c.WarmMaxPrepared, &c.ComputeGroup); err != nil {
			return nil, fmt.Errorf("scan pool config: %w", err)
		}
		configs = append(configs, &c)
	}
	return configs, rows.Err()
}

// ClaimWarm uses SKIP LOCKED so concurrent assigns never contend on the same
// row and never claim the same instance twice.
func (r *PostgresRepository) ClaimWarm(ctx context.Context, tier string) (*domain.Instance, error) {
	query := `
		UPDATE pool_instances
		SET status = 'assigned', updated_at = NOW()
		WHERE id = (
			SELECT id FROM pool_instances
			WHERE tier = $1 AND status = 'warm'
			ORDER BY updated_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, tier, instance_id, private_ip, status, updated_at
	`
	var inst domain.Instance
	err := r.db.QueryRowContext(ctx, query, tier).Scan(
		&inst.ID, &inst.Tier, &inst.InstanceID, &inst.PrivateIP, &inst.Status, &inst.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim warm instance: %w", err)
	}
	return &inst, nil
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, tier string) (int, int, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'warm'),
			COUNT(*) FILTER (WHERE status = 'assigned')
		FROM pool_instances
		WHERE tier = $1
	`
	var warm, assigned int
	if err := r.db.QueryRowContext(ctx, query, tier).Scan(&warm, &assigned); err != nil {
		return 0, 0, fmt.Errorf("count pool instances: %w", err)
	}
	return warm, assigned, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, inst *domain.Instance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	query := `
		INSERT INTO pool_instances (id, tier, instance_id, private_ip, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (instance_id) DO UPDATE
		SET private_ip = EXCLUDED.private_ip, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, inst.ID, inst.Tier, inst.InstanceID, inst.PrivateIP, inst.Status); err != nil {
		return fmt.Errorf("insert pool instance: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReleaseToWarm(ctx context.Context, instanceID string) (bool, error) {
	return r.transition(ctx, instanceID, domain.InstanceAssigned, domain.InstanceWarm)
}

func (r *PostgresRepository) MarkTerminating(ctx context.Context, instanceID string) (bool, error) {
	return r.transition(ctx, instanceID, domain.InstanceAssigned, domain.InstanceTerminating)
}

func (r *PostgresRepository) transition(ctx context.Context, instanceID string, from, to domain.InstanceStatus) (bool, error) {
	query := `
		UPDATE pool_instances
		SET status = $1, updated_at = NOW()
		WHERE instance_id = $2 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, to, instanceID, from)
	if err != nil {
		return false, fmt.Errorf("transition pool instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition pool instance rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Remove(ctx context.Context, instanceID string) error {
	query := `DELETE FROM pool_instances WHERE instance_id = $1`
	if _, err := r.db.ExecContext(ctx, query, instanceID); err != nil {
		return fmt.Errorf("remove pool instance: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByTier(ctx context.Context, tier string) ([]*domain.Instance, error) {
	query := `
		SELECT id, tier, instance_id, private_ip, status, updated_at
		FROM pool_instances
		WHERE tier = $1
		ORDER BY updated_at
	`
	rows, err := r.db.QueryContext(ctx, query, tier)
	if err != nil {
		return nil, fmt.Errorf("list pool instances: %w", err)
	}
	defer rows.Close()

	var instances []*domain.Instance
	for rows.Next() {
		var inst domain.Instance
		if err := rows.Scan(&inst.ID, &inst.Tier, &inst.InstanceID, &inst.PrivateIP, &inst.Status, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pool instance: %w", err)
		}
		instances = append(instances, &inst)
	}
	return instances, rows.Err()
}
