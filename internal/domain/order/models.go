package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRouting    Status = "routing"
	StatusSubmitted  Status = "submitted"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

const (
	DefaultSlippageTolerance = 0.5
	DefaultMaxRetries        = 3
	MaxRetriesLimit          = 10
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusRouting, StatusSubmitted,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsProgress reports whether s is an in-memory progress state. Progress
// states are pushed to subscribers and written to the audit log but are
// never stored in the orders table.
func (s Status) IsProgress() bool {
	return s == StatusRouting || s == StatusSubmitted
}

// Persisted maps s to the value stored in orders.status. Progress states
// collapse to processing so the stored value always satisfies the table's
// CHECK constraint.
func (s Status) Persisted() Status {
	if s.IsProgress() {
		return StatusProcessing
	}
	return s
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle transition. Terminal states accept nothing. Any non-terminal
// state may fail, or return to pending for a retry. Cancellation is legal
// from every non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StatusPending, StatusFailed, StatusCancelled:
		return true
	case StatusProcessing:
		return s == StatusPending
	case StatusRouting:
		return s == StatusProcessing
	case StatusSubmitted:
		return s == StatusRouting
	case StatusCompleted:
		return s == StatusSubmitted || s == StatusRouting || s == StatusProcessing
	}
	return false
}

// Order is a user request to swap TokenIn for TokenOut.
type Order struct {
	ID                string           `json:"id"`
	TokenIn           string           `json:"tokenIn"`
	TokenOut          string           `json:"tokenOut"`
	Amount            decimal.Decimal  `json:"amount"`
	Status            Status           `json:"status"`
	SlippageTolerance float64          `json:"slippageTolerance"`
	MaxRetries        int              `json:"maxRetries"`
	RetryCount        int              `json:"retryCount"`
	SelectedVenue     string           `json:"selectedVenue,omitempty"`
	ExecutedPrice     *decimal.Decimal `json:"executedPrice,omitempty"`
	TransactionHash   string           `json:"transactionHash,omitempty"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`
	ConfirmedAt       *time.Time       `json:"confirmedAt,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// CanRetry reports whether the order has retry budget left.
func (o *Order) CanRetry() bool {
	return o.RetryCount < o.MaxRetries
}

// IsTerminal reports whether the order has reached a terminal status.
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// CreateInput carries the client-supplied fields of a new order.
type CreateInput struct {
	TokenIn           string          `json:"tokenIn"`
	TokenOut          string          `json:"tokenOut"`
	Amount            decimal.Decimal `json:"amount"`
	SlippageTolerance *float64        `json:"slippageTolerance,omitempty"`
	MaxRetries        *int            `json:"maxRetries,omitempty"`
}

// Normalize fills unset optional fields with their defaults.
func (in *CreateInput) Normalize() {
	if in.SlippageTolerance == nil {
		v := DefaultSlippageTolerance
		in.SlippageTolerance = &v
	}
	if in.MaxRetries == nil {
		v := DefaultMaxRetries
		in.MaxRetries = &v
	}
}

// Validate checks the input against the creation rules. All violations
// wrap ErrValidation so the transport layer can map them to a 400.
func (in *CreateInput) Validate() error {
	if in.TokenIn == "" || in.TokenOut == "" {
		return fmt.Errorf("%w: tokenIn and tokenOut are required", ErrValidation)
	}
	if in.TokenIn == in.TokenOut {
		return fmt.Errorf("%w: tokenIn and tokenOut must differ", ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if in.SlippageTolerance != nil {
		if s := *in.SlippageTolerance; s < 0 || s > 100 {
			return fmt.Errorf("%w: slippageTolerance must be between 0 and 100", ErrValidation)
		}
	}
	if in.MaxRetries != nil {
		if r := *in.MaxRetries; r < 0 || r > MaxRetriesLimit {
			return fmt.Errorf("%w: maxRetries must be between 0 and %d", ErrValidation, MaxRetriesLimit)
		}
	}
	return nil
}

// Update carries a partial order update. Nil fields are left unchanged.
type Update struct {
	Status          *Status
	RetryCount      *int
	SelectedVenue   *string
	ExecutedPrice   *decimal.Decimal
	TransactionHash *string
	ErrorMessage    *string
	ConfirmedAt     *time.Time
}

// Filter narrows List and Count queries.
type Filter struct {
	Status        *Status
	TokenIn       string
	TokenOut      string
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}
