package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/config"
	"github.com/novadex/swap-engine/internal/domain/audit"
	"github.com/novadex/swap-engine/internal/domain/job"
	"github.com/novadex/swap-engine/internal/domain/order"
	"github.com/novadex/swap-engine/internal/domain/venue"
	"github.com/novadex/swap-engine/internal/hub"
	"github.com/novadex/swap-engine/internal/metrics"
)

// ExecutionService drives one leased job through the swap pipeline:
// load, quote, route, submit, confirm, finalize. It is the handler the
// worker pool invokes; a nil return acks the job, an error nacks it for
// a backoff redelivery.
//
// Redelivery safety: every persisted transition is a guarded update and
// the order is re-read before each in-memory transition, so a job
// delivered twice for the same order settles at most one swap.
type ExecutionService struct {
	orders     order.Repository
	aggregator *AggregatorService
	hub        *hub.Hub
	bus        audit.Bus
	cfg        config.ExecutionConfig
	wallet     string
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewExecutionService builds the orchestrator.
func NewExecutionService(
	orders order.Repository,
	aggregator *AggregatorService,
	h *hub.Hub,
	bus audit.Bus,
	cfg config.ExecutionConfig,
	wallet string,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ExecutionService {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 5 * time.Second
	}
	if cfg.SwapTimeout <= 0 {
		cfg.SwapTimeout = 10 * time.Second
	}
	if cfg.ConfirmationInterval <= 0 {
		cfg.ConfirmationInterval = time.Second
	}
	if cfg.ConfirmationBudget <= 0 {
		cfg.ConfirmationBudget = 60 * time.Second
	}
	return &ExecutionService{
		orders:     orders,
		aggregator: aggregator,
		hub:        h,
		bus:        bus,
		cfg:        cfg,
		wallet:     wallet,
		metrics:    m,
		logger:     logger,
	}
}

// Execute runs the pipeline for one leased job.
func (s *ExecutionService) Execute(ctx context.Context, j *job.Job, progress func(pct int)) error {
	log := s.logger.With(
		zap.String("order_id", j.OrderID),
		zap.String("job_id", j.ID),
		zap.Int("attempt", j.Attempt),
	)

	// Load. A missing order or one already settled is an idempotent
	// redelivery: nothing to do, nothing to emit.
	o, err := s.orders.GetByID(ctx, j.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			log.Warn("job references missing order, dropping")
			return nil
		}
		return fmt.Errorf("load order: %w", err)
	}
	if o.IsTerminal() {
		log.Info("order already settled, dropping redelivery",
			zap.String("status", string(o.Status)))
		return nil
	}
	if !o.Amount.IsPositive() {
		return s.failInvalid(ctx, o, "amount must be positive", log)
	}

	// Enter processing. The guard converts a concurrent cancellation
	// into a terminal miss.
	o, err = s.orders.UpdateStatus(ctx, o.ID, order.StatusProcessing)
	if err != nil {
		if errors.Is(err, order.ErrTerminalState) {
			log.Info("order settled before processing, dropping")
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	s.emit(ctx, audit.EventExecutionStarted, o.ID, map[string]interface{}{
		"attempt":    j.Attempt,
		"retryCount": o.RetryCount,
	})
	progress(10)
	s.push(o.ID, order.StatusProcessing, nil)
	log.Info("order execution started", zap.Int("retry_count", o.RetryCount))

	// Quote.
	req := venue.QuoteRequest{
		TokenIn:           o.TokenIn,
		TokenOut:          o.TokenOut,
		AmountIn:          o.Amount,
		SlippageTolerance: o.SlippageTolerance,
	}
	best, err := s.aggregator.GetBestQuote(ctx, req)
	if err != nil {
		return s.retryOrFail(ctx, o, j, fmt.Errorf("quote aggregation: %w", err), log)
	}

	s.emit(ctx, audit.EventExecutionQuotesFetched, o.ID, map[string]interface{}{
		"quotes":   len(best.Quotes),
		"venues":   quoteVenues(best.Quotes),
		"failures": errorStrings(best.Errors),
	})

	// Route. The routing state is visible to subscribers and the audit
	// trail; the stored status stays processing.
	if done, err := s.settledMeanwhile(ctx, o.ID, log); done || err != nil {
		return err
	}
	quote := best.Best
	s.emit(ctx, audit.EventExecutionDexSelected, o.ID, map[string]interface{}{
		"venue":        quote.VenueName,
		"amountOut":    quote.AmountOut.String(),
		"price":        quote.PricePerToken.String(),
		"estimatedFee": quote.EstimatedFee.String(),
		"priceImpact":  quote.PriceImpact.String(),
	})
	progress(40)
	s.push(o.ID, order.StatusRouting, map[string]interface{}{
		"venue":       quote.VenueName,
		"expectedOut": quote.AmountOut.String(),
	})
	log.Info("venue selected",
		zap.String("venue", quote.VenueName),
		zap.String("amount_out", quote.AmountOut.String()),
	)

	// Submit.
	if done, err := s.settledMeanwhile(ctx, o.ID, log); done || err != nil {
		return err
	}
	adapter, ok := s.aggregator.AdapterByName(quote.VenueName)
	if !ok {
		return s.retryOrFail(ctx, o, j,
			fmt.Errorf("%w: %s not registered", venue.ErrUnavailable, quote.VenueName), log)
	}

	s.emit(ctx, audit.EventExecutionSwapSubmitted, o.ID, map[string]interface{}{
		"venue":      quote.VenueName,
		"minimumOut": quote.MinimumAmountOut.String(),
	})
	progress(60)
	s.push(o.ID, order.StatusSubmitted, map[string]interface{}{
		"venue": quote.VenueName,
	})

	swapCtx, cancel := context.WithTimeout(ctx, s.cfg.SwapTimeout)
	result, err := adapter.ExecuteSwap(swapCtx, quote, s.wallet)
	cancel()
	if err != nil {
		s.metrics.SwapsExecuted.WithLabelValues(quote.VenueName, "error").Inc()
		return s.retryOrFail(ctx, o, j, fmt.Errorf("swap on %s: %w", quote.VenueName, err), log)
	}

	confirmedAt := result.ExecutedAt
	if result.Status == venue.SwapPending {
		if err := s.awaitConfirmation(ctx, adapter, result.Signature); err != nil {
			s.metrics.SwapsExecuted.WithLabelValues(quote.VenueName, "error").Inc()
			return s.retryOrFail(ctx, o, j,
				fmt.Errorf("confirmation on %s: %w", quote.VenueName, err), log)
		}
		confirmedAt = time.Now().UTC()
	}

	// Finalize. One guarded statement writes the whole outcome.
	completed, err := s.orders.Complete(ctx, o.ID, result.VenueName, result.ExecutionPrice, result.Signature, confirmedAt)
	if err != nil {
		if errors.Is(err, order.ErrTerminalState) {
			// The swap settled on-chain but the order was cancelled in
			// the meantime. Surface it loudly; funds moved.
			log.Error("swap settled for an order that is no longer active",
				zap.String("signature", result.Signature),
				zap.String("venue", result.VenueName),
			)
			s.emit(ctx, audit.EventSystemError, o.ID, map[string]interface{}{
				"error":     "swap settled after order left active state",
				"signature": result.Signature,
				"venue":     result.VenueName,
			})
			return nil
		}
		return fmt.Errorf("complete order: %w", err)
	}

	s.metrics.SwapsExecuted.WithLabelValues(result.VenueName, "success").Inc()
	s.emit(ctx, audit.EventExecutionSwapConfirmed, o.ID, map[string]interface{}{
		"venue":     result.VenueName,
		"signature": result.Signature,
		"amountOut": result.AmountOut.String(),
	})
	s.emit(ctx, audit.EventOrderConfirmed, o.ID, map[string]interface{}{
		"venue":           result.VenueName,
		"transactionHash": result.Signature,
		"executedPrice":   result.ExecutionPrice.String(),
	})
	progress(100)
	s.push(o.ID, order.StatusCompleted, map[string]interface{}{
		"transactionHash": result.Signature,
		"venue":           result.VenueName,
		"executedPrice":   result.ExecutionPrice.String(),
		"amountOut":       result.AmountOut.String(),
	})
	log.Info("order completed",
		zap.String("venue", result.VenueName),
		zap.String("signature", result.Signature),
		zap.String("executed_price", result.ExecutionPrice.String()),
		zap.Int("retry_count", completed.RetryCount),
	)
	return nil
}

// retryOrFail settles a retriable attempt failure: consume a retry and
// nack when budget remains, otherwise mark the order terminally failed
// and ack.
func (s *ExecutionService) retryOrFail(ctx context.Context, o *order.Order, j *job.Job, cause error, log *zap.Logger) error {
	s.emit(ctx, audit.EventExecutionRetrying, o.ID, map[string]interface{}{
		"attempt": j.Attempt,
		"error":   cause.Error(),
	})

	retried, err := s.orders.RecordRetry(ctx, o.ID, cause.Error())
	if err == nil {
		attemptsLeft := retried.MaxRetries - retried.RetryCount
		s.push(o.ID, order.StatusFailed, map[string]interface{}{
			"error":        cause.Error(),
			"attemptsLeft": attemptsLeft,
			"willRetry":    true,
		})
		log.Warn("attempt failed, order requeued",
			zap.Int("retry_count", retried.RetryCount),
			zap.Int("attempts_left", attemptsLeft),
			zap.Error(cause),
		)
		return cause
	}

	switch {
	case errors.Is(err, order.ErrRetriesExhausted):
		msg := fmt.Sprintf("max retries (%d) exhausted: %s", o.MaxRetries, cause.Error())
		failed, failErr := s.orders.Fail(ctx, o.ID, msg)
		if failErr != nil {
			if errors.Is(failErr, order.ErrTerminalState) {
				return nil
			}
			return fmt.Errorf("mark order failed: %w", failErr)
		}
		s.emit(ctx, audit.EventOrderFailed, o.ID, map[string]interface{}{
			"error":      msg,
			"retryCount": failed.RetryCount,
		})
		s.push(o.ID, order.StatusFailed, map[string]interface{}{
			"error":        msg,
			"attemptsLeft": 0,
			"willRetry":    false,
		})
		log.Error("order failed, retries exhausted",
			zap.Int("retry_count", failed.RetryCount),
			zap.Error(cause),
		)
		return nil

	case errors.Is(err, order.ErrTerminalState):
		log.Info("order settled during retry bookkeeping, dropping")
		return nil

	case errors.Is(err, order.ErrNotFound):
		log.Warn("order vanished during retry bookkeeping, dropping")
		return nil

	default:
		return fmt.Errorf("record retry: %w", err)
	}
}

// failInvalid terminally fails an order that can never execute.
func (s *ExecutionService) failInvalid(ctx context.Context, o *order.Order, reason string, log *zap.Logger) error {
	msg := "invalid order: " + reason
	failed, err := s.orders.Fail(ctx, o.ID, msg)
	if err != nil {
		if errors.Is(err, order.ErrTerminalState) {
			return nil
		}
		return fmt.Errorf("mark order failed: %w", err)
	}

	s.emit(ctx, audit.EventExecutionFailed, o.ID, map[string]interface{}{
		"error":    msg,
		"terminal": true,
	})
	s.emit(ctx, audit.EventOrderFailed, o.ID, map[string]interface{}{
		"error":      msg,
		"retryCount": failed.RetryCount,
	})
	s.push(o.ID, order.StatusFailed, map[string]interface{}{
		"error":        msg,
		"attemptsLeft": 0,
		"willRetry":    false,
	})
	log.Warn("order rejected as invalid", zap.String("reason", reason))
	return nil
}

// settledMeanwhile re-reads the order between transitions so a
// cancellation lands before the swap is submitted. done=true means the
// job should be acked without further work.
func (s *ExecutionService) settledMeanwhile(ctx context.Context, id string, log *zap.Logger) (bool, error) {
	current, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			log.Warn("order vanished mid-execution, dropping")
			return true, nil
		}
		return false, fmt.Errorf("refresh order: %w", err)
	}
	if current.IsTerminal() {
		log.Info("order settled mid-execution, dropping",
			zap.String("status", string(current.Status)))
		return true, nil
	}
	return false, nil
}

// awaitConfirmation polls the venue for the signature until it
// confirms, fails, or the budget runs out.
func (s *ExecutionService) awaitConfirmation(ctx context.Context, adapter venue.Adapter, signature string) error {
	budget := time.NewTimer(s.cfg.ConfirmationBudget)
	defer budget.Stop()
	ticker := time.NewTicker(s.cfg.ConfirmationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-budget.C:
			return fmt.Errorf("%w: %s", venue.ErrSwapNotConfirmed, signature)
		case <-ticker.C:
			status, err := adapter.GetTransactionStatus(ctx, signature)
			if err != nil {
				// Transient; the budget bounds how long we keep asking.
				s.logger.Debug("transaction status check failed",
					zap.String("signature", signature),
					zap.Error(err),
				)
				continue
			}
			switch status {
			case venue.TxConfirmed:
				return nil
			case venue.TxFailed:
				return &venue.ProtocolError{
					Venue: adapter.Name(),
					Msg:   fmt.Sprintf("transaction %s failed on chain", signature),
				}
			}
			// pending / not found: keep polling
		}
	}
}

func (s *ExecutionService) emit(ctx context.Context, t audit.EventType, orderID string, data map[string]interface{}) {
	s.bus.Emit(ctx, audit.Event{Type: t, OrderID: orderID, Data: data})
}

func (s *ExecutionService) push(orderID string, status order.Status, data map[string]interface{}) {
	s.hub.PushOrderUpdate(orderID, string(status), data)
}

func quoteVenues(quotes []*venue.Quote) []string {
	names := make([]string, 0, len(quotes))
	for _, q := range quotes {
		names = append(names, q.VenueName)
	}
	return names
}

func errorStrings(errs map[string]error) map[string]string {
	if len(errs) == 0 {
		return nil
	}
	out := make(map[string]string, len(errs))
	for name, err := range errs {
		out[name] = err.Error()
	}
	return out
}
