package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tr := SetupTestRedis(t)
	defer tr.Cleanup()

	ctx := context.Background()

	t.Run("allows requests under the budget", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		res, err := l.Check(ctx, "ip:10.0.0.1", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 4, res.Remaining)

		res, err = l.Check(ctx, "ip:10.0.0.1", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Remaining)
	})

	t.Run("denies requests over the budget", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		for i := 0; i < 3; i++ {
			res, err := l.Check(ctx, "ip:10.0.0.2", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		}

		res, err := l.Check(ctx, "ip:10.0.0.2", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Greater(t, res.RetryAfter, time.Duration(0))
		assert.True(t, res.ResetTime.After(time.Now()))
	})

	t.Run("window slides instead of resetting", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		for i := 0; i < 2; i++ {
			res, err := l.Check(ctx, "ip:10.0.0.3", 2, 150*time.Millisecond)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		}

		res, err := l.Check(ctx, "ip:10.0.0.3", 2, 150*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		time.Sleep(200 * time.Millisecond)

		res, err = l.Check(ctx, "ip:10.0.0.3", 2, 150*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("keys are independent", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		res, err := l.Check(ctx, "ip:10.0.0.4", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)

		res, err = l.Check(ctx, "ip:10.0.0.4", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		res, err = l.Check(ctx, "ip:10.0.0.5", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("status does not consume budget", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		for i := 0; i < 2; i++ {
			_, err := l.Check(ctx, "ip:10.0.0.6", 5, time.Minute)
			require.NoError(t, err)
		}

		for i := 0; i < 3; i++ {
			res, err := l.GetStatus(ctx, "ip:10.0.0.6", 5, time.Minute)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, 3, res.Remaining)
		}

		res, err := l.Check(ctx, "ip:10.0.0.6", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("status reports exhaustion", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		for i := 0; i < 2; i++ {
			_, err := l.Check(ctx, "ip:10.0.0.7", 2, time.Minute)
			require.NoError(t, err)
		}

		res, err := l.GetStatus(ctx, "ip:10.0.0.7", 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Greater(t, res.RetryAfter, time.Duration(0))
	})

	t.Run("reset reopens the window", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		for i := 0; i < 2; i++ {
			_, err := l.Check(ctx, "ip:10.0.0.8", 2, time.Minute)
			require.NoError(t, err)
		}

		res, err := l.Check(ctx, "ip:10.0.0.8", 2, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		require.NoError(t, l.Reset(ctx, "ip:10.0.0.8"))

		res, err = l.Check(ctx, "ip:10.0.0.8", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Remaining)
	})

	t.Run("reset of unknown key is a no-op", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		require.NoError(t, l.Reset(ctx, "ip:10.0.0.9"))
	})

	t.Run("concurrent checks admit exactly the budget", func(t *testing.T) {
		tr.Flush(t)
		l := NewRateLimiter(tr.Client)

		const attempts = 20
		const budget = 10

		results := make(chan bool, attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				res, err := l.Check(ctx, "ip:10.0.0.10", budget, time.Minute)
				if err != nil {
					results <- false
					return
				}
				results <- res.Allowed
			}()
		}

		allowed := 0
		for i := 0; i < attempts; i++ {
			if <-results {
				allowed++
			}
		}
		assert.Equal(t, budget, allowed)
	})
}
