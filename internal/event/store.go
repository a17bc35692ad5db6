package event

import "context"

// Log reads the audit history. Events are written by the shared store in the
// same commit as the state change they describe.
type Log interface {
	// Load returns all events for an aggregate, ordered by version.
	Load(ctx context.Context, aggregateID string) ([]Event, error)
	// Recent returns up to limit of the newest events, oldest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}
