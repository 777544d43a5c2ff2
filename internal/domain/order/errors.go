package order

import "errors"

var (
	ErrNotFound             = errors.New("order not found")
	ErrValidation           = errors.New("order validation failed")
	ErrTerminalState        = errors.New("order is in a terminal state")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrNotPending           = errors.New("order is not pending")
	ErrRetriesExhausted     = errors.New("order retries exhausted")
	ErrDuplicateTransaction = errors.New("transaction hash already recorded")
)
