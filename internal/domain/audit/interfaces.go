package audit

import "context"

// Listener receives an event. Listeners must be quick and side-effect
// free toward the emitter: errors and panics are isolated by the bus and
// never reach the code that emitted.
type Listener func(ctx context.Context, e Event)

// Bus is a synchronous in-process multicaster of lifecycle events.
type Bus interface {
	Subscribe(t EventType, l Listener)

	SubscribeAll(l Listener)

	Emit(ctx context.Context, e Event)
}

// LogRepository persists the audit trail.
type LogRepository interface {
	// Append stores the record. A zero EventVersion is assigned the
	// next version for the order; explicit versions make the call
	// idempotent (duplicates are silently dropped).
	Append(ctx context.Context, rec *Record) error

	// ListByOrder returns the order's trail ordered by
	// (timestamp asc, event_version asc).
	ListByOrder(ctx context.Context, orderID string) ([]*Record, error)
}
