package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"training-lab-control-plane/internal/quota/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a quota repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Latest returns the most recent usage period for the user, or nil if the
// user has never consumed time. It returns an error only for database failures.
func (r *PostgresRepository) Latest(ctx context.Context, userID string) (*domain.UsagePeriod, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, plan, quota_minutes, consumed_minutes, period_start, period_end
		FROM usage_periods WHERE user_id = $1
		ORDER BY period_start DESC LIMIT 1`, userID)
	var p domain.UsagePeriod
	err := row.Scan(&p.UserID, &p.Plan, &p.QuotaMinutes, &p.ConsumedMinutes, &p.PeriodStart, &p.PeriodEnd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Start persists a fresh usage period. A concurrent rollover by another
// instance wins silently via ON CONFLICT DO NOTHING.
func (r *PostgresRepository) Start(ctx context.Context, p *domain.UsagePeriod) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_periods (user_id, period_start, period_end, plan, quota_minutes, consumed_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, period_start) DO NOTHING`,
		p.UserID, p.PeriodStart, p.PeriodEnd, p.Plan, p.QuotaMinutes, p.ConsumedMinutes)
	return err
}

// AddConsumption records the session's minutes at most once. The usage entry
// insert and the period increment run in one transaction; a duplicate
// session_id makes the whole call a no-op returning false.
func (r *PostgresRepository) AddConsumption(ctx context.Context, userID, sessionID string, periodStart time.Time, minutes int, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO usage_entries (session_id, user_id, minutes, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO NOTHING`,
		sessionID, userID, minutes, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE usage_periods SET consumed_minutes = consumed_minutes + $3
		WHERE user_id = $1 AND period_start = $2`,
		userID, periodStart, minutes); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetPlan returns the plan by name, or nil if unknown.
func (r *PostgresRepository) GetPlan(ctx context.Context, name string) (*domain.Plan, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT name, quota_minutes, period_days FROM plans WHERE name = $1`, name)
	var p domain.Plan
	if err := row.Scan(&p.Name, &p.QuotaMinutes, &p.PeriodDays); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
