package venue

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrDisabled         = errors.New("venue is disabled")
	ErrUnavailable      = errors.New("venue unavailable")
	ErrQuoteTimeout     = errors.New("quote request timed out")
	ErrNoQuotes         = errors.New("no quotes available")
	ErrSlippageExceeded = errors.New("slippage tolerance exceeded")
	ErrProtocol         = errors.New("venue protocol error")
	ErrUnsupportedPair  = errors.New("token pair not supported")
	ErrUnknownSignature = errors.New("unknown transaction signature")
	ErrSwapNotConfirmed = errors.New("swap not confirmed within budget")
)

// SlippageError reports an execution whose actual output fell below the
// quote's minimum. errors.Is(err, ErrSlippageExceeded) matches it.
type SlippageError struct {
	Venue      string
	MinimumOut decimal.Decimal
	ActualOut  decimal.Decimal
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("%s: actual out %s below minimum %s on %s",
		ErrSlippageExceeded, e.ActualOut, e.MinimumOut, e.Venue)
}

func (e *SlippageError) Unwrap() error { return ErrSlippageExceeded }

// ProtocolError wraps a venue-specific failure that is neither a
// disablement nor a timeout. errors.Is(err, ErrProtocol) matches it.
type ProtocolError struct {
	Venue string
	Msg   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrProtocol, e.Venue, e.Msg)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }
