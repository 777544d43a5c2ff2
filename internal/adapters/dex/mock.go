// Package dex provides the built-in venue adapters. They simulate DEX
// behavior deterministically: rate tables drive quotes, execution drift
// models the spread between quoted and actual output, and failure
// injection covers the error surface of a real venue integration.
package dex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/novadex/swap-engine/internal/domain/venue"
)

// Mock implements venue.Adapter with configurable behavior.
type Mock struct {
	name string

	mu           sync.Mutex
	enabled      bool
	healthy      bool
	rates        map[venue.Pair]decimal.Decimal
	feeRate      decimal.Decimal
	priceImpact  decimal.Decimal
	drift        decimal.Decimal
	latency      time.Duration
	quoteErr     error
	swapErr      error
	swapFailures int
	confirmAfter time.Duration
	signature    func() string
	txs          map[string]txRecord
}

type txRecord struct {
	status    venue.TxStatus
	confirmAt time.Time
}

// Option customizes a Mock.
type Option func(*Mock)

// WithRate sets the output rate for one direction of a pair.
func WithRate(tokenIn, tokenOut string, rate decimal.Decimal) Option {
	return func(m *Mock) {
		m.rates[venue.Pair{TokenIn: tokenIn, TokenOut: tokenOut}] = rate
	}
}

// WithFeeRate sets the fee fraction charged on the output amount.
func WithFeeRate(rate decimal.Decimal) Option {
	return func(m *Mock) { m.feeRate = rate }
}

// WithPriceImpact sets the quoted price impact percentage.
func WithPriceImpact(impact decimal.Decimal) Option {
	return func(m *Mock) { m.priceImpact = impact }
}

// WithDrift sets the multiplier between quoted and executed output.
func WithDrift(drift decimal.Decimal) Option {
	return func(m *Mock) { m.drift = drift }
}

// WithLatency delays quote and swap responses.
func WithLatency(d time.Duration) Option {
	return func(m *Mock) { m.latency = d }
}

// WithQuoteError forces GetQuote to fail.
func WithQuoteError(err error) Option {
	return func(m *Mock) { m.quoteErr = err }
}

// WithSwapError forces ExecuteSwap to fail.
func WithSwapError(err error) Option {
	return func(m *Mock) { m.swapErr = err }
}

// WithSwapFailures fails the first n swaps with err, then succeeds.
func WithSwapFailures(n int, err error) Option {
	return func(m *Mock) {
		m.swapFailures = n
		m.swapErr = err
	}
}

// WithSignature overrides transaction signature generation.
func WithSignature(fn func() string) Option {
	return func(m *Mock) { m.signature = fn }
}

// WithConfirmationDelay makes swaps report pending until the delay has
// passed, exercising the confirmation polling path.
func WithConfirmationDelay(d time.Duration) Option {
	return func(m *Mock) { m.confirmAfter = d }
}

// WithDisabled starts the venue disabled.
func WithDisabled() Option {
	return func(m *Mock) { m.enabled = false }
}

// WithUnhealthy makes health checks fail while keeping the venue enabled.
func WithUnhealthy() Option {
	return func(m *Mock) { m.healthy = false }
}

// NewMock creates a venue mock with the given stable name.
func NewMock(name string, opts ...Option) *Mock {
	m := &Mock{
		name:        name,
		enabled:     true,
		healthy:     true,
		rates:       make(map[venue.Pair]decimal.Decimal),
		feeRate:     decimal.NewFromFloat(0.002),
		priceImpact: decimal.NewFromFloat(0.1),
		drift:       decimal.NewFromFloat(0.9995),
		signature: func() string {
			return uuid.NewString()
		},
		txs: make(map[string]txRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the venue identifier.
func (m *Mock) Name() string { return m.name }

// Enabled reports whether the venue accepts requests.
func (m *Mock) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// SetEnabled toggles the venue at runtime.
func (m *Mock) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// GetQuote returns a deterministic offer for the requested pair.
func (m *Mock) GetQuote(ctx context.Context, req venue.QuoteRequest) (*venue.Quote, error) {
	m.mu.Lock()
	enabled, latency, forced := m.enabled, m.latency, m.quoteErr
	rate, supported := m.rates[venue.Pair{TokenIn: req.TokenIn, TokenOut: req.TokenOut}]
	feeRate, impact := m.feeRate, m.priceImpact
	m.mu.Unlock()

	if !enabled {
		return nil, fmt.Errorf("%s: %w", m.name, venue.ErrDisabled)
	}
	if err := m.wait(ctx, latency); err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, venue.ErrQuoteTimeout)
	}
	if forced != nil {
		return nil, fmt.Errorf("%s: %w", m.name, forced)
	}
	if !supported {
		return nil, &venue.ProtocolError{
			Venue: m.name,
			Msg:   fmt.Sprintf("pair %s/%s not supported", req.TokenIn, req.TokenOut),
		}
	}

	amountOut := req.AmountIn.Mul(rate)
	return &venue.Quote{
		VenueName:        m.name,
		TokenIn:          req.TokenIn,
		TokenOut:         req.TokenOut,
		AmountIn:         req.AmountIn,
		AmountOut:        amountOut,
		PricePerToken:    rate,
		PriceImpact:      impact,
		MinimumAmountOut: venue.MinimumOut(amountOut, req.SlippageTolerance),
		EstimatedFee:     amountOut.Mul(feeRate),
		Route:            []string{req.TokenIn, req.TokenOut},
		Timestamp:        time.Now().UTC(),
		ExpiresIn:        30,
	}, nil
}

// ExecuteSwap settles the quote, applying the configured drift to the
// output and enforcing the quote's slippage floor.
func (m *Mock) ExecuteSwap(ctx context.Context, quote *venue.Quote, wallet string) (*venue.SwapResult, error) {
	m.mu.Lock()
	enabled, latency := m.enabled, m.latency
	var forced error
	if m.swapErr != nil {
		if m.swapFailures > 0 {
			m.swapFailures--
			forced = m.swapErr
			if m.swapFailures == 0 {
				m.swapErr = nil
			}
		} else {
			forced = m.swapErr
		}
	}
	drift, confirmAfter, sigFn := m.drift, m.confirmAfter, m.signature
	m.mu.Unlock()

	if !enabled {
		return nil, fmt.Errorf("%s: %w", m.name, venue.ErrDisabled)
	}
	if err := m.wait(ctx, latency); err != nil {
		return nil, &venue.ProtocolError{Venue: m.name, Msg: "swap deadline exceeded"}
	}
	if forced != nil {
		return nil, fmt.Errorf("%s: %w", m.name, forced)
	}

	actualOut := quote.AmountOut.Mul(drift)
	if actualOut.LessThan(quote.MinimumAmountOut) {
		return nil, &venue.SlippageError{
			Venue:      m.name,
			MinimumOut: quote.MinimumAmountOut,
			ActualOut:  actualOut,
		}
	}

	now := time.Now().UTC()
	sig := sigFn()
	status := venue.SwapCompleted
	record := txRecord{status: venue.TxConfirmed}
	if confirmAfter > 0 {
		status = venue.SwapPending
		record = txRecord{status: venue.TxPending, confirmAt: now.Add(confirmAfter)}
	}

	m.mu.Lock()
	m.txs[sig] = record
	m.mu.Unlock()

	return &venue.SwapResult{
		Signature:      sig,
		VenueName:      m.name,
		AmountOut:      actualOut,
		ExecutionPrice: actualOut.Div(quote.AmountIn),
		ExecutedAt:     now,
		Status:         status,
	}, nil
}

// GetTransactionStatus reports the confirmation state of a signature.
func (m *Mock) GetTransactionStatus(ctx context.Context, signature string) (venue.TxStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.txs[signature]
	if !ok {
		return venue.TxNotFound, nil
	}
	if rec.status == venue.TxPending && !time.Now().Before(rec.confirmAt) {
		rec.status = venue.TxConfirmed
		m.txs[signature] = rec
	}
	return rec.status, nil
}

// HealthCheck reports liveness.
func (m *Mock) HealthCheck(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled && m.healthy
}

// SupportedPairs lists the directions present in the rate table.
func (m *Mock) SupportedPairs() []venue.Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	pairs := make([]venue.Pair, 0, len(m.rates))
	for p := range m.rates {
		pairs = append(pairs, p)
	}
	return pairs
}

func (m *Mock) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
