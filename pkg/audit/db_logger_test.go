package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDBLogger(t *testing.T) (*DBLogger, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))

	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger, mock
}

func TestDBLogger_Record(t *testing.T) {
	logger, mock := newDBLogger(t)

	event := &Event{
		UserID:      "user-1",
		Action:      ActionProvision,
		SSOProvider: "okta",
		IPAddress:   "203.0.113.9",
		UserAgent:   "Mozilla/5.0",
		Timestamp:   time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(event.UserID, event.Action, event.SSOProvider,
			sqlmock.AnyArg(), sqlmock.AnyArg(), event.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, logger.Record(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_RecordFillsTimestamp(t *testing.T) {
	logger, mock := newDBLogger(t)

	event := &Event{UserID: "user-1", Action: ActionSignIn, SSOProvider: "okta"}

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, logger.Record(context.Background(), event))
	assert.False(t, event.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_PurgeOlderThan(t *testing.T) {
	logger, mock := newDBLogger(t)

	cutoff := time.Now().UTC().Add(-90 * 24 * time.Hour)
	mock.ExpectExec("DELETE FROM audit_events").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 12))

	removed, err := logger.PurgeOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(12), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNopLogger(t *testing.T) {
	var logger Logger = NopLogger{}
	assert.NoError(t, logger.Record(context.Background(), &Event{Action: ActionSignIn}))
	assert.NoError(t, logger.Close())
}
