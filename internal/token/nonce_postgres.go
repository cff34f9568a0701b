package token

import (
	"context"
	"database/sql"
	"time"
)

// PostgresNonceStore implements NonceStore against the shared token_nonces
// table, giving all control-plane instances one view of consumed nonces.
type PostgresNonceStore struct {
	db *sql.DB
}

// NewPostgresNonceStore returns a nonce store backed by the given db.
func NewPostgresNonceStore(db *sql.DB) *PostgresNonceStore {
	return &PostgresNonceStore{db: db}
}

// CheckAndSet records nonce until expiresAt in one atomic statement. The
// upsert succeeds for a new nonce or one whose previous recording has
// expired; zero rows affected means the nonce is live, i.e. a replay.
func (s *PostgresNonceStore) CheckAndSet(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO token_nonces (nonce, expires_at) VALUES ($1, $2)
		ON CONFLICT (nonce) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE token_nonces.expires_at <= NOW()`,
		nonce, expiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Purge deletes expired nonce rows. Run periodically by the sweeper to keep
// the table small; replay safety does not depend on it.
func (s *PostgresNonceStore) Purge(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM token_nonces WHERE expires_at <= NOW()`)
	return err
}
