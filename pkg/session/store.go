package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists login-token hashes. The DELETE ... RETURNING on
// redeem makes single-use atomic at the database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates the store and ensures its schema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	store := &PostgresStore{db: db}
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure login_tokens table: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS login_tokens (
		token_hash VARCHAR(64) PRIMARY KEY,
		user_id UUID NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_login_tokens_expires_at ON login_tokens(expires_at);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_tokens (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to save login token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Redeem(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM login_tokens
		WHERE token_hash = $1 AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)

	if err == sql.ErrNoRows {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to redeem login token: %w", err)
	}
	return userID, nil
}

// PurgeExpired removes tokens past their expiry. Run periodically.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM login_tokens WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge login tokens: %w", err)
	}
	return result.RowsAffected()
}
