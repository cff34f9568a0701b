package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"training-lab-control-plane/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `
	id, user_id, plan, tier, status, instance_id, instance_ip, connection_id,
	metadata, focus_mode, idle_warning_at, created_at, expires_at,
	terminated_at, termination_reason, error_code, error_message, version
`

// Create enforces the per-user concurrent session cap. A bare
// INSERT ... SELECT COUNT guard is not enough under READ COMMITTED: two
// racing creates each count on a snapshot that misses the other's
// uncommitted row. The per-user advisory transaction lock serializes the
// count and the insert, and releases automatically at commit or rollback.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session, maxActive int) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("create session: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.UserID); err != nil {
		return false, fmt.Errorf("create session: user lock: %w", err)
	}

	query := `
		INSERT INTO sessions (
			id, user_id, plan, tier, status, metadata, focus_mode,
			created_at, expires_at, version
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, 1
		WHERE (
			SELECT COUNT(*) FROM sessions
			WHERE user_id = $2 AND status NOT IN ('TERMINATED', 'ERROR')
		) < $10
	`
	res, err := tx.ExecContext(ctx, query,
		s.ID, s.UserID, s.Plan, s.Tier, s.Status, s.Metadata, s.FocusMode,
		s.CreatedAt, s.ExpiresAt, maxActive,
	)
	if err != nil {
		return false, fmt.Errorf("create session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create session rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("create session: commit: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, terminalOnly bool) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1`
	if terminalOnly {
		query += ` AND status IN ('TERMINATED', 'ERROR')`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions by user: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *PostgresRepository) ListAdmin(ctx context.Context, f ListFilter) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		query += fmt.Sprintf(` AND (user_id ILIKE $%d OR id ILIKE $%d)`, len(args), len(args))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE status NOT IN ('TERMINATED', 'ERROR') AND expires_at <= $1
		ORDER BY expires_at
	`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE status IN ('READY', 'ACTIVE')
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *PostgresRepository) MarkProvisioning(ctx context.Context, id, instanceID, instanceIP, connectionID string) (bool, error) {
	query := `
		UPDATE sessions
		SET status = $1, instance_id = $2, instance_ip = $3, connection_id = $4,
			version = version + 1
		WHERE id = $5 AND status = ANY($6)
	`
	return r.exec(ctx, query,
		domain.StatusProvisioning, instanceID, instanceIP, connectionID,
		id, statusList(domain.Predecessors(domain.StatusProvisioning)),
	)
}

func (r *PostgresRepository) MarkReady(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, domain.StatusReady)
}

func (r *PostgresRepository) MarkActive(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, domain.StatusActive)
}

func (r *PostgresRepository) BeginTermination(ctx context.Context, id, reason string) (bool, error) {
	query := `
		UPDATE sessions
		SET status = $1, termination_reason = $2, version = version + 1
		WHERE id = $3 AND status = ANY($4)
	`
	return r.exec(ctx, query,
		domain.StatusTerminating, reason,
		id, statusList(domain.Predecessors(domain.StatusTerminating)),
	)
}

func (r *PostgresRepository) FinalizeTermination(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET status = $1, terminated_at = $2, version = version + 1
		WHERE id = $3 AND status = ANY($4)
	`
	return r.exec(ctx, query,
		domain.StatusTerminated, at,
		id, statusList(domain.Predecessors(domain.StatusTerminated)),
	)
}

func (r *PostgresRepository) MarkError(ctx context.Context, id, code, message string) (bool, error) {
	query := `
		UPDATE sessions
		SET status = $1, error_code = $2, error_message = $3, version = version + 1
		WHERE id = $4 AND status = ANY($5)
	`
	return r.exec(ctx, query,
		domain.StatusError, code, message,
		id, statusList(domain.Predecessors(domain.StatusError)),
	)
}

func (r *PostgresRepository) SetIdleWarning(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `
		UPDATE sessions
		SET idle_warning_at = $1, version = version + 1
		WHERE id = $2 AND idle_warning_at IS NULL AND status IN ('READY', 'ACTIVE')
	`
	return r.exec(ctx, query, at, id)
}

func (r *PostgresRepository) transition(ctx context.Context, id string, to domain.Status) (bool, error) {
	query := `
		UPDATE sessions
		SET status = $1, version = version + 1
		WHERE id = $2 AND status = ANY($3)
	`
	return r.exec(ctx, query, to, id, statusList(domain.Predecessors(to)))
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("session transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session transition rows: %w", err)
	}
	return n == 1, nil
}

// statusList renders predecessors as a text array for status = ANY($n).
func statusList(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var instanceID, instanceIP, connectionID, metadata sql.NullString
	var terminationReason, errorCode, errorMessage sql.NullString
	var idleWarningAt, terminatedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.UserID, &s.Plan, &s.Tier, &s.Status,
		&instanceID, &instanceIP, &connectionID,
		&metadata, &s.FocusMode, &idleWarningAt, &s.CreatedAt, &s.ExpiresAt,
		&terminatedAt, &terminationReason, &errorCode, &errorMessage, &s.Version,
	)
	if err != nil {
		return nil, err
	}
	s.InstanceID = instanceID.String
	s.InstanceIP = instanceIP.String
	s.ConnectionID = connectionID.String
	s.Metadata = metadata.String
	s.TerminationReason = terminationReason.String
	s.ErrorCode = errorCode.String
	s.ErrorMessage = errorMessage.String
	if idleWarningAt.Valid {
		t := idleWarningAt.Time
		s.IdleWarningAt = &t
	}
	if terminatedAt.Valid {
		t := terminatedAt.Time
		s.TerminatedAt = &t
	}
	return &s, nil
}

func collectSessions(rows *sql.Rows) ([]*domain.Session, error) {
	var sessions []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
