package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoff_DelayCapped(t *testing.T) {
	b := Backoff{Initial: 5 * time.Second, Multiplier: 2, Max: 30 * time.Second}

	assert.Equal(t, 20*time.Second, b.Delay(3))
	assert.Equal(t, 30*time.Second, b.Delay(4))
	assert.Equal(t, 30*time.Second, b.Delay(10))
}

func TestJob_AttemptsLeft(t *testing.T) {
	j := &Job{MaxAttempts: 3}

	j.Attempt = 1
	assert.Equal(t, 2, j.AttemptsLeft())

	j.Attempt = 3
	assert.Equal(t, 0, j.AttemptsLeft())

	j.Attempt = 5
	assert.Equal(t, 0, j.AttemptsLeft())
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions(3)

	assert.Equal(t, 3, opts.Attempts)
	assert.Equal(t, 5*time.Second, opts.Backoff.Initial)
	assert.Equal(t, float64(2), opts.Backoff.Multiplier)
	assert.Equal(t, 1000, opts.RemoveOnComplete.Count)
	assert.Equal(t, 24*time.Hour, opts.RemoveOnComplete.Age)
	assert.Equal(t, 5000, opts.RemoveOnFail.Count)
	assert.Equal(t, 7*24*time.Hour, opts.RemoveOnFail.Age)
}
