package venue

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteRequest asks a venue how much TokenOut it would return for
// AmountIn of TokenIn under the given slippage tolerance (percent).
type QuoteRequest struct {
	TokenIn           string          `json:"tokenIn"`
	TokenOut          string          `json:"tokenOut"`
	AmountIn          decimal.Decimal `json:"amountIn"`
	SlippageTolerance float64         `json:"slippageTolerance"`
}

// Quote is a venue's non-binding offer for a swap at a moment in time.
// Quotes are ephemeral and never persisted.
type Quote struct {
	VenueName        string          `json:"venueName"`
	TokenIn          string          `json:"tokenIn"`
	TokenOut         string          `json:"tokenOut"`
	AmountIn         decimal.Decimal `json:"amountIn"`
	AmountOut        decimal.Decimal `json:"amountOut"`
	PricePerToken    decimal.Decimal `json:"pricePerToken"`
	PriceImpact      decimal.Decimal `json:"priceImpact"`
	MinimumAmountOut decimal.Decimal `json:"minimumAmountOut"`
	EstimatedFee     decimal.Decimal `json:"estimatedFee"`
	Route            []string        `json:"route"`
	Timestamp        time.Time       `json:"timestamp"`
	ExpiresIn        int             `json:"expiresInSeconds"`
}

// Expired reports whether the quote's validity window has passed.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.Timestamp.Add(time.Duration(q.ExpiresIn) * time.Second))
}

// MinimumOut computes the slippage floor: amountOut reduced by the
// tolerance percentage.
func MinimumOut(amountOut decimal.Decimal, slippagePct float64) decimal.Decimal {
	tolerance := decimal.NewFromFloat(slippagePct).Div(decimal.NewFromInt(100))
	return amountOut.Mul(decimal.NewFromInt(1).Sub(tolerance))
}

// SwapStatus is the venue-reported state of a submitted swap.
type SwapStatus string

const (
	SwapPending   SwapStatus = "pending"
	SwapCompleted SwapStatus = "completed"
	SwapFailed    SwapStatus = "failed"
)

// SwapResult is the outcome of executing a quote on a venue.
type SwapResult struct {
	Signature      string          `json:"signature"`
	VenueName      string          `json:"venueName"`
	AmountOut      decimal.Decimal `json:"amountOut"`
	ExecutionPrice decimal.Decimal `json:"executionPrice"`
	ExecutedAt     time.Time       `json:"executedAt"`
	Status         SwapStatus      `json:"status"`
}

// TxStatus is the confirmation state of a transaction signature.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxNotFound  TxStatus = "not_found"
)

// Pair is a tradeable token combination supported by a venue.
type Pair struct {
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
}

// Info is the observable state of a registered venue.
type Info struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
	Pairs   []Pair `json:"pairs"`
}
