package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/audit"
	"github.com/novadex/swap-engine/internal/domain/job"
	"github.com/novadex/swap-engine/internal/domain/order"
	"github.com/novadex/swap-engine/internal/hub"
	"github.com/novadex/swap-engine/internal/metrics"
)

// OrderService owns the order lifecycle outside execution: intake,
// queries and cancellation. Creation is accept-or-nothing: an order is
// either stored and queued, or neither.
type OrderService struct {
	orders   order.Repository
	queue    job.Queue
	auditLog audit.LogRepository
	bus      audit.Bus
	hub      *hub.Hub
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewOrderService builds the service.
func NewOrderService(
	orders order.Repository,
	queue job.Queue,
	auditLog audit.LogRepository,
	bus audit.Bus,
	h *hub.Hub,
	m *metrics.Metrics,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		queue:    queue,
		auditLog: auditLog,
		bus:      bus,
		hub:      h,
		metrics:  m,
		logger:   logger,
	}
}

// Create validates the input, persists the order and enqueues its
// execution job. If enqueueing fails the stored row is rolled back so
// no order can exist without a job driving it.
func (s *OrderService) Create(ctx context.Context, in order.CreateInput) (*order.Order, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	o := &order.Order{
		ID:                uuid.NewString(),
		TokenIn:           in.TokenIn,
		TokenOut:          in.TokenOut,
		Amount:            in.Amount,
		Status:            order.StatusPending,
		SlippageTolerance: *in.SlippageTolerance,
		MaxRetries:        *in.MaxRetries,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	// The queue budget is first attempt + order-level retries, so the
	// queue never dead-letters an order that still has retries left.
	j, err := s.queue.Enqueue(ctx, o.ID, job.DefaultOptions(o.MaxRetries+1))
	if err != nil {
		if delErr := s.orders.Delete(ctx, o.ID); delErr != nil {
			s.logger.Error("order rollback failed after enqueue error",
				zap.String("order_id", o.ID),
				zap.NamedError("enqueue_error", err),
				zap.Error(delErr),
			)
		}
		return nil, fmt.Errorf("%w: %v", job.ErrUnavailable, err)
	}

	s.bus.Emit(ctx, audit.Event{
		Type:    audit.EventOrderCreated,
		OrderID: o.ID,
		Data: map[string]interface{}{
			"tokenIn":           o.TokenIn,
			"tokenOut":          o.TokenOut,
			"amount":            o.Amount.String(),
			"slippageTolerance": o.SlippageTolerance,
			"maxRetries":        o.MaxRetries,
		},
	})
	s.bus.Emit(ctx, audit.Event{
		Type:    audit.EventQueueJobAdded,
		OrderID: o.ID,
		Data: map[string]interface{}{
			"jobId":       j.ID,
			"maxAttempts": j.MaxAttempts,
		},
	})
	s.metrics.OrdersCreated.Inc()
	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("token_in", o.TokenIn),
		zap.String("token_out", o.TokenOut),
		zap.String("amount", o.Amount.String()),
	)
	return o, nil
}

// Get returns one order. order.ErrNotFound for unknown ids.
func (s *OrderService) Get(ctx context.Context, id string) (*order.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// List returns matching orders newest first and the total match count.
func (s *OrderService) List(ctx context.Context, filter order.Filter) ([]*order.Order, int64, error) {
	return s.orders.List(ctx, filter)
}

// Count returns the number of orders matching the filter.
func (s *OrderService) Count(ctx context.Context, filter order.Filter) (int64, error) {
	return s.orders.Count(ctx, filter)
}

// Cancel marks the order cancelled. Cancelling an already-cancelled
// order succeeds idempotently; completed and failed orders return
// order.ErrTerminalState.
func (s *OrderService) Cancel(ctx context.Context, id string) (*order.Order, error) {
	cancelled, err := s.orders.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrTerminalState) {
			current, getErr := s.orders.GetByID(ctx, id)
			if getErr == nil && current.Status == order.StatusCancelled {
				return current, nil
			}
		}
		return nil, err
	}

	s.bus.Emit(ctx, audit.Event{
		Type:    audit.EventOrderStatusChanged,
		OrderID: id,
		Data: map[string]interface{}{
			"status": string(order.StatusCancelled),
			"reason": "cancelled by client",
		},
	})
	s.hub.PushOrderUpdate(id, string(order.StatusCancelled), nil)
	s.metrics.OrdersCancelled.Inc()
	s.logger.Info("order cancelled", zap.String("order_id", id))
	return cancelled, nil
}

// History returns the order's audit trail in event order.
// order.ErrNotFound when the order does not exist.
func (s *OrderService) History(ctx context.Context, id string) ([]*audit.Record, error) {
	if _, err := s.orders.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.auditLog.ListByOrder(ctx, id)
}

// QueueStats reports the execution queue's depth by state.
func (s *OrderService) QueueStats(ctx context.Context) (job.Counts, error) {
	return s.queue.Counts(ctx)
}
