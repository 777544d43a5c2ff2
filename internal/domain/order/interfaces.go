package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository is the durable store of orders. Every transition method is
// a single atomic check-and-set: concurrent writers to the same order are
// serialized at the row, so two retries can never both observe the same
// retry count.
type Repository interface {
	Create(ctx context.Context, o *Order) error

	GetByID(ctx context.Context, id string) (*Order, error)

	Update(ctx context.Context, id string, update Update) (*Order, error)

	// UpdateStatus rejects transitions out of terminal states with
	// ErrTerminalState and unknown orders with ErrNotFound.
	UpdateStatus(ctx context.Context, id string, status Status) (*Order, error)

	// RecordRetry atomically moves the order back to pending, increments
	// retry_count and records the attempt error. Fails with
	// ErrRetriesExhausted when retry_count has reached max_retries and
	// with ErrTerminalState when the order is already terminal.
	RecordRetry(ctx context.Context, id string, errMsg string) (*Order, error)

	// Complete atomically writes the successful outcome: status completed,
	// selected venue, executed price, transaction hash and confirmation
	// time. Fails with ErrTerminalState if the order is already terminal.
	Complete(ctx context.Context, id, venue string, price decimal.Decimal, txHash string, confirmedAt time.Time) (*Order, error)

	// Fail marks the order terminally failed with the given message.
	Fail(ctx context.Context, id, errMsg string) (*Order, error)

	// Cancel marks the order cancelled. Only non-terminal orders may be
	// cancelled; terminal orders fail with ErrTerminalState.
	Cancel(ctx context.Context, id string) (*Order, error)

	// Delete removes the row. Permitted only while the order is still
	// pending; it exists to roll back creation when enqueueing fails.
	Delete(ctx context.Context, id string) error

	List(ctx context.Context, filter Filter) ([]*Order, int64, error)

	Count(ctx context.Context, filter Filter) (int64, error)
}
