package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBLogger writes audit events to PostgreSQL.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger and ensures its schema.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db}
	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID,
		action VARCHAR(32) NOT NULL,
		sso_provider VARCHAR(128),
		ip_address VARCHAR(45),
		user_agent TEXT,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_action ON audit_events(action);
	`
	_, err := l.db.Exec(query)
	return err
}

// Record inserts one event. The event's zero timestamp is filled with now.
func (l *DBLogger) Record(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (user_id, action, sso_provider, ip_address, user_agent, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.UserID, event.Action, event.SSOProvider,
		nullIfEmpty(event.IPAddress), nullIfEmpty(event.UserAgent), event.Timestamp)

	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the database handle.
func (l *DBLogger) Close() error { return nil }

// PurgeOlderThan removes events past the retention window.
func (l *DBLogger) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return result.RowsAffected()
}

func nullIfEmpty(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
