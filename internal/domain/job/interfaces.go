package job

import (
	"context"
	"time"
)

// Queue is a durable FIFO of execution jobs with at-least-once delivery.
// Consumers must treat processing as idempotent keyed by order id: a job
// may be delivered more than once.
type Queue interface {
	// Enqueue durably accepts a job for the order. Orders with a live
	// job (queued, delayed or active) are rejected with ErrDuplicate so
	// at most one worker ever executes a given order at a time.
	Enqueue(ctx context.Context, orderID string, opts Options) (*Job, error)

	// Lease blocks up to the given duration for the next ready job and
	// returns it with a fencing token. ErrNoJob when nothing became
	// ready in time.
	Lease(ctx context.Context, block time.Duration) (*Lease, error)

	// Ack finishes the lease successfully and releases the order's
	// dedup guard. ErrLeaseLost if the lease was reclaimed meanwhile.
	Ack(ctx context.Context, lease *Lease) error

	// Nack records the attempt failure. Before the attempt budget is
	// exhausted the job is rescheduled with exponential backoff;
	// afterwards it is moved to the dead-letter partition and the
	// order's dedup guard is released.
	Nack(ctx context.Context, lease *Lease, cause error) error

	// Progress records a best-effort progress percentage on the job.
	Progress(ctx context.Context, lease *Lease, pct int) error

	// PromoteDue moves delayed jobs whose backoff has elapsed back to
	// the ready partition. Returns the number promoted.
	PromoteDue(ctx context.Context) (int, error)

	// ReclaimStale returns leases whose deadline passed to the ready
	// partition for another attempt. Returns the number reclaimed.
	ReclaimStale(ctx context.Context) (int, error)

	// Counts reports queue depth by state.
	Counts(ctx context.Context) (Counts, error)

	// Sweep applies the retention policies to finished job records.
	// Returns the number of records removed.
	Sweep(ctx context.Context) (int, error)

	// Health verifies the backing store answers.
	Health(ctx context.Context) error

	Close() error
}
