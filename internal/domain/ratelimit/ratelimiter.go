// Package ratelimit defines the request throttling contract enforced
// in front of the HTTP API. Budgets are expressed over a sliding
// window; enforcement lives in the infrastructure layer.
package ratelimit

import (
	"context"
	"time"
)

// Tier is one admission budget: at most Limit requests per Window.
type Tier struct {
	Limit  int
	Window time.Duration
}

// Config holds the budgets applied to API traffic. Global caps the
// whole service so aggregate load cannot starve the execution
// pipeline; PerIP caps a single client.
type Config struct {
	Global Tier
	PerIP  Tier
}

// DefaultConfig returns the budgets used when none are configured.
func DefaultConfig() *Config {
	return &Config{
		Global: Tier{Limit: 1000, Window: time.Minute},
		PerIP:  Tier{Limit: 120, Window: time.Minute},
	}
}

// Result reports the outcome of one admission check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter admits or rejects requests against a keyed sliding window.
type Limiter interface {
	// Check records a request against the key's window and reports
	// whether it fit the budget.
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)

	// GetStatus reports the window state without consuming budget.
	GetStatus(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)

	// Reset clears the window for a key.
	Reset(ctx context.Context, key string) error
}
