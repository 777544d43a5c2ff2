package venue

import "context"

// Adapter is the uniform contract over one DEX. The execution pipeline
// treats every venue as opaque behind this interface.
type Adapter interface {
	// Name returns the stable identifier of the venue.
	Name() string

	// Enabled reports whether the venue accepts requests. Disabled
	// venues fail all operations with ErrDisabled.
	Enabled() bool

	// GetQuote returns the venue's current offer for the request. It
	// fails with ErrDisabled when the venue is disabled, ErrQuoteTimeout
	// when the venue does not answer before ctx's deadline, and a
	// *ProtocolError otherwise.
	GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error)

	// ExecuteSwap submits the quoted swap from the given wallet. It
	// fails with a *SlippageError when the actual output is below the
	// quote's MinimumAmountOut, ErrDisabled when the venue is disabled,
	// and a *ProtocolError otherwise.
	ExecuteSwap(ctx context.Context, quote *Quote, wallet string) (*SwapResult, error)

	// GetTransactionStatus reports the confirmation state of a
	// previously returned signature.
	GetTransactionStatus(ctx context.Context, signature string) (TxStatus, error)

	// HealthCheck reports whether the venue currently answers.
	HealthCheck(ctx context.Context) bool

	// SupportedPairs lists the token pairs the venue trades.
	SupportedPairs() []Pair
}
