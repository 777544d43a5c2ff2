package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novadex/swap-engine/internal/domain/audit"
	"github.com/novadex/swap-engine/internal/domain/order"
)

func TestAuditLogRepository_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := SetupTestDatabase(t)
	defer db.Cleanup()

	orders := NewOrderRepository(db.Pool)
	repo := NewAuditLogRepository(db.Pool)
	ctx := context.Background()

	seedOrder := func(t *testing.T) *order.Order {
		t.Helper()
		o := makeOrder(3)
		require.NoError(t, orders.Create(ctx, o))
		return o
	}

	t.Run("append assigns sequential versions", func(t *testing.T) {
		o := seedOrder(t)

		first := &audit.Record{
			OrderID:   o.ID,
			EventType: audit.EventOrderCreated,
			EventData: map[string]interface{}{"tokenIn": "SOL", "tokenOut": "USDC"},
		}
		require.NoError(t, repo.Append(ctx, first))
		assert.Equal(t, int64(1), first.EventVersion)
		assert.NotEmpty(t, first.ID)

		second := &audit.Record{OrderID: o.ID, EventType: audit.EventExecutionStarted}
		require.NoError(t, repo.Append(ctx, second))
		assert.Equal(t, int64(2), second.EventVersion)

		trail, err := repo.ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.Equal(t, audit.EventOrderCreated, trail[0].EventType)
		assert.Equal(t, "SOL", trail[0].EventData["tokenIn"])
		assert.Equal(t, audit.EventExecutionStarted, trail[1].EventType)
	})

	t.Run("explicit versions are idempotent", func(t *testing.T) {
		o := seedOrder(t)

		rec := &audit.Record{
			OrderID:      o.ID,
			EventType:    audit.EventExecutionSwapSubmitted,
			EventVersion: 1,
			EventData:    map[string]interface{}{"venue": "jupiter"},
		}
		require.NoError(t, repo.Append(ctx, rec))

		// Redelivery of the same version is dropped, not duplicated.
		replay := &audit.Record{
			OrderID:      o.ID,
			EventType:    audit.EventExecutionSwapSubmitted,
			EventVersion: 1,
			EventData:    map[string]interface{}{"venue": "jupiter"},
		}
		require.NoError(t, repo.Append(ctx, replay))

		trail, err := repo.ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, "jupiter", trail[0].EventData["venue"])
	})

	t.Run("trail is ordered oldest first", func(t *testing.T) {
		o := seedOrder(t)
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)

		events := []audit.EventType{
			audit.EventOrderCreated,
			audit.EventExecutionStarted,
			audit.EventExecutionQuotesFetched,
			audit.EventExecutionDexSelected,
		}
		for i, et := range events {
			rec := &audit.Record{
				OrderID:   o.ID,
				EventType: et,
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			}
			require.NoError(t, repo.Append(ctx, rec))
		}

		trail, err := repo.ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, trail, len(events))
		for i, et := range events {
			assert.Equal(t, et, trail[i].EventType)
			assert.Equal(t, int64(i+1), trail[i].EventVersion)
		}
	})

	t.Run("trail of unknown order is empty", func(t *testing.T) {
		trail, err := repo.ListByOrder(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, trail)
	})

	t.Run("rejects malformed records", func(t *testing.T) {
		o := seedOrder(t)

		err := repo.Append(ctx, &audit.Record{OrderID: o.ID, EventType: audit.EventType("order:reticulated")})
		assert.ErrorIs(t, err, audit.ErrInvalidEvent)

		err = repo.Append(ctx, &audit.Record{EventType: audit.EventOrderCreated})
		assert.ErrorIs(t, err, audit.ErrInvalidEvent)
	})

	t.Run("metadata round trip", func(t *testing.T) {
		o := seedOrder(t)

		withMeta := &audit.Record{
			OrderID:   o.ID,
			EventType: audit.EventOrderCreated,
			Metadata:  map[string]interface{}{"source": "api", "requestId": "req-9"},
		}
		require.NoError(t, repo.Append(ctx, withMeta))

		withoutMeta := &audit.Record{OrderID: o.ID, EventType: audit.EventExecutionStarted}
		require.NoError(t, repo.Append(ctx, withoutMeta))

		trail, err := repo.ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.Equal(t, "api", trail[0].Metadata["source"])
		assert.Equal(t, "req-9", trail[0].Metadata["requestId"])
		assert.Nil(t, trail[1].Metadata)
	})

	t.Run("prune removes settled trails and spares live ones", func(t *testing.T) {
		stale := time.Now().UTC().Add(-60 * 24 * time.Hour)

		settled := seedOrder(t)
		_, err := orders.UpdateStatus(ctx, settled.ID, order.StatusProcessing)
		require.NoError(t, err)
		_, err = orders.Complete(ctx, settled.ID, "jupiter",
			decimal.NewFromFloat(96.2), uuid.NewString(), time.Now().UTC())
		require.NoError(t, err)

		live := seedOrder(t)

		for _, id := range []string{settled.ID, live.ID} {
			rec := &audit.Record{OrderID: id, EventType: audit.EventOrderCreated, Timestamp: stale}
			require.NoError(t, repo.Append(ctx, rec))
		}

		pruned, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		settledTrail, err := repo.ListByOrder(ctx, settled.ID)
		require.NoError(t, err)
		assert.Empty(t, settledTrail)

		liveTrail, err := repo.ListByOrder(ctx, live.ID)
		require.NoError(t, err)
		assert.Len(t, liveTrail, 1, "live order trails are kept regardless of age")
	})

	t.Run("concurrent appends never collide on a version", func(t *testing.T) {
		o := seedOrder(t)
		const writers = 8

		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = repo.Append(ctx, &audit.Record{
					OrderID:   o.ID,
					EventType: audit.EventExecutionRetrying,
				})
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			require.NoError(t, err, "writer %d", i)
		}

		trail, err := repo.ListByOrder(ctx, o.ID)
		require.NoError(t, err)
		require.Len(t, trail, writers)

		seen := make(map[int64]bool, writers)
		for _, rec := range trail {
			seen[rec.EventVersion] = true
		}
		for v := int64(1); v <= writers; v++ {
			assert.True(t, seen[v], "version %d missing", v)
		}
	})
}
