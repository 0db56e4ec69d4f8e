package audit

import "context"

// Logger records audit events. Implementations must be safe for concurrent
// use; callers treat failures as non-fatal.
type Logger interface {
	// Record writes one event.
	Record(ctx context.Context, event *Event) error

	// Close flushes and releases the backend.
	Close() error
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Record(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                   { return nil }
