package venue

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinimumOut(t *testing.T) {
	tests := []struct {
		name      string
		amountOut string
		slippage  float64
		want      string
	}{
		{"one percent", "96.2", 1.0, "95.238"},
		{"half percent default", "100", 0.5, "99.5"},
		{"zero slippage keeps full amount", "96.2", 0, "96.2"},
		{"full tolerance floors at zero", "50", 100, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := MinimumOut(decimal.RequireFromString(tt.amountOut), tt.slippage)
			assert.True(t, out.Equal(decimal.RequireFromString(tt.want)),
				"got %s, want %s", out, tt.want)
		})
	}
}

func TestQuote_Expired(t *testing.T) {
	now := time.Now()
	q := &Quote{Timestamp: now, ExpiresIn: 30}

	assert.False(t, q.Expired(now.Add(29*time.Second)))
	assert.True(t, q.Expired(now.Add(31*time.Second)))
}

func TestSlippageError(t *testing.T) {
	err := &SlippageError{
		Venue:      "meteora",
		MinimumOut: decimal.RequireFromString("95.238"),
		ActualOut:  decimal.RequireFromString("94.0"),
	}

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlippageExceeded))
	assert.Contains(t, err.Error(), "meteora")
	assert.Contains(t, err.Error(), "94")
}

func TestProtocolError(t *testing.T) {
	err := &ProtocolError{Venue: "jupiter", Msg: "pool account missing"}

	assert.True(t, errors.Is(err, ErrProtocol))
	assert.False(t, errors.Is(err, ErrSlippageExceeded))
	assert.Contains(t, err.Error(), "jupiter")
}
