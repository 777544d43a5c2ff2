package dex

import (
	"github.com/shopspring/decimal"
)

// Venue identifiers used across routing, metrics and audit trails.
const (
	Jupiter = "jupiter"
	Meteora = "meteora"
)

// NewJupiter builds the jupiter venue with its default rate table.
func NewJupiter(opts ...Option) *Mock {
	defaults := []Option{
		WithRate("SOL", "USDC", decimal.NewFromFloat(95.5)),
		WithRate("USDC", "SOL", decimal.NewFromFloat(0.010465)),
		WithRate("SOL", "USDT", decimal.NewFromFloat(95.42)),
		WithRate("USDT", "SOL", decimal.NewFromFloat(0.010473)),
		WithRate("USDC", "USDT", decimal.NewFromFloat(0.9996)),
		WithRate("USDT", "USDC", decimal.NewFromFloat(1.0002)),
		WithFeeRate(decimal.NewFromFloat(0.002)),
		WithPriceImpact(decimal.NewFromFloat(0.08)),
		WithDrift(decimal.NewFromFloat(0.9996)),
	}
	return NewMock(Jupiter, append(defaults, opts...)...)
}

// NewMeteora builds the meteora venue. Its SOL/USDC rate is stronger
// than jupiter's while charging a slightly higher fee.
func NewMeteora(opts ...Option) *Mock {
	defaults := []Option{
		WithRate("SOL", "USDC", decimal.NewFromFloat(96.2)),
		WithRate("USDC", "SOL", decimal.NewFromFloat(0.010389)),
		WithRate("SOL", "USDT", decimal.NewFromFloat(96.05)),
		WithRate("USDT", "SOL", decimal.NewFromFloat(0.010405)),
		WithFeeRate(decimal.NewFromFloat(0.003)),
		WithPriceImpact(decimal.NewFromFloat(0.12)),
		WithDrift(decimal.NewFromFloat(0.99958)),
	}
	return NewMock(Meteora, append(defaults, opts...)...)
}
