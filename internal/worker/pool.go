// Package worker runs the bounded consumer pool that drains the
// execution job queue. Workers lease jobs, hand them to the execution
// handler and settle the lease according to the handler's verdict; a
// maintenance loop promotes delayed jobs and reclaims stalled leases.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/novadex/swap-engine/internal/domain/job"
	"github.com/novadex/swap-engine/internal/metrics"
)

const (
	// leaseBlock is how long one Lease call waits before the worker
	// re-checks for shutdown.
	leaseBlock = 2 * time.Second

	// maintenanceInterval drives delayed-job promotion and stall
	// reclaim.
	maintenanceInterval = time.Second
)

// Handler drives one leased job through the execution pipeline. A nil
// return acks the job. An error nacks it so the queue redelivers with
// backoff. Handlers that reach a terminal verdict (order failed for
// good, order already terminal) must record it and return nil, or the
// queue would keep redelivering a decided job.
type Handler interface {
	Execute(ctx context.Context, j *job.Job, progress func(pct int)) error
}

// Config controls the pool.
type Config struct {
	// Concurrency is the number of consumers, 1..50.
	Concurrency int

	// RatePerSecond caps job starts per second across the whole pool.
	RatePerSecond int

	// ShutdownGrace bounds how long Stop waits for in-flight jobs
	// before nacking their leases as retriable.
	ShutdownGrace time.Duration
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 100
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// Pool is the bounded worker pool.
type Pool struct {
	queue   job.Queue
	handler Handler
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]*job.Lease
	started  bool

	leaseCancel context.CancelFunc
	workCancel  context.CancelFunc
	wg          sync.WaitGroup
}

// New creates a pool consuming from the queue with the given handler.
func New(queue job.Queue, handler Handler, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Pool {
	cfg.withDefaults()
	return &Pool{
		queue:    queue,
		handler:  handler,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		logger:   logger,
		metrics:  m,
		inflight: make(map[string]*job.Lease),
	}
}

// Start launches the consumers and the maintenance loop. It returns
// immediately; the pool runs until Stop.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	// Leasing stops at shutdown; in-flight work keeps its own context
	// so draining jobs are not cancelled mid-swap.
	leaseCtx, leaseCancel := context.WithCancel(ctx)
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))
	p.leaseCancel = leaseCancel
	p.workCancel = workCancel

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.worker(leaseCtx, workCtx)
	}

	p.wg.Add(1)
	go p.maintenance(leaseCtx)

	p.logger.Info("worker pool started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Int("rate_per_second", p.cfg.RatePerSecond),
	)
}

// Stop refuses new leases and drains in-flight jobs. Jobs still running
// at the shutdown deadline have their leases nacked as retriable so
// another process can pick them up.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	leaseCancel, workCancel := p.leaseCancel, p.workCancel
	p.mu.Unlock()

	leaseCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	grace := p.cfg.ShutdownGrace
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < grace {
			grace = until
		}
	}

	select {
	case <-done:
		p.logger.Info("worker pool drained")
	case <-time.After(grace):
		p.logger.Warn("shutdown deadline reached, returning outstanding leases")
		workCancel()
		p.nackOutstanding()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			p.logger.Error("workers did not exit after cancellation")
		}
	}
	workCancel()
}

// worker loops: rate-limit, lease, execute, settle.
func (p *Pool) worker(leaseCtx, workCtx context.Context) {
	defer p.wg.Done()

	for {
		if err := p.limiter.Wait(leaseCtx); err != nil {
			return
		}

		lease, err := p.queue.Lease(leaseCtx, leaseBlock)
		if err != nil {
			if errors.Is(err, job.ErrNoJob) {
				continue
			}
			if leaseCtx.Err() != nil {
				return
			}
			p.logger.Warn("job lease failed", zap.Error(err))
			select {
			case <-leaseCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.process(workCtx, lease)
	}
}

func (p *Pool) process(ctx context.Context, lease *job.Lease) {
	p.track(lease)

	p.metrics.ActiveWorkers.Inc()
	defer p.metrics.ActiveWorkers.Dec()

	start := time.Now()

	progress := func(pct int) {
		if err := p.queue.Progress(ctx, lease, pct); err != nil {
			p.logger.Debug("progress report failed",
				zap.String("job_id", lease.Job.ID),
				zap.Int("pct", pct),
				zap.Error(err),
			)
		}
	}

	err := p.handler.Execute(ctx, lease.Job, progress)
	p.metrics.JobDuration.Observe(time.Since(start).Seconds())

	if !p.release(lease) {
		// Forced shutdown already nacked this lease back to the queue.
		return
	}

	// Settle on a fresh context so an ack is not lost to cancellation
	// that raced the handler's return.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil {
		p.metrics.JobsProcessed.WithLabelValues("nacked").Inc()
		if nackErr := p.queue.Nack(settleCtx, lease, err); nackErr != nil {
			p.logNackFailure(lease, nackErr)
		}
		return
	}

	p.metrics.JobsProcessed.WithLabelValues("acked").Inc()
	if ackErr := p.queue.Ack(settleCtx, lease); ackErr != nil {
		if errors.Is(ackErr, job.ErrLeaseLost) {
			p.logger.Warn("lease reclaimed before ack; job may be redelivered",
				zap.String("job_id", lease.Job.ID),
				zap.String("order_id", lease.Job.OrderID),
			)
			return
		}
		p.logger.Error("job ack failed",
			zap.String("job_id", lease.Job.ID),
			zap.Error(ackErr),
		)
	}
}

// maintenance promotes due delayed jobs and reclaims stalled leases.
func (p *Pool) maintenance(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.queue.PromoteDue(ctx); err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("delayed job promotion failed", zap.Error(err))
				}
			} else if n > 0 {
				p.logger.Debug("promoted delayed jobs", zap.Int("count", n))
			}

			if n, err := p.queue.ReclaimStale(ctx); err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("stale lease reclaim failed", zap.Error(err))
				}
			} else if n > 0 {
				p.logger.Warn("reclaimed stalled leases", zap.Int("count", n))
			}
		}
	}
}

func (p *Pool) track(lease *job.Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[lease.Job.ID] = lease
}

// release removes the lease from the in-flight set and reports whether
// the caller now owns settlement. Exactly one of the worker and the
// forced-shutdown path settles each lease.
func (p *Pool) release(lease *job.Lease) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[lease.Job.ID]; !ok {
		return false
	}
	delete(p.inflight, lease.Job.ID)
	return true
}

// nackOutstanding returns every lease still in flight to the queue as
// retriable. Called only after the shutdown deadline.
func (p *Pool) nackOutstanding() {
	p.mu.Lock()
	leases := make([]*job.Lease, 0, len(p.inflight))
	for id, l := range p.inflight {
		leases = append(leases, l)
		delete(p.inflight, id)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, lease := range leases {
		if err := p.queue.Nack(ctx, lease, errors.New("worker shutdown")); err != nil {
			p.logNackFailure(lease, err)
		}
	}
}

func (p *Pool) logNackFailure(lease *job.Lease, err error) {
	if errors.Is(err, job.ErrLeaseLost) {
		p.logger.Warn("lease reclaimed before nack",
			zap.String("job_id", lease.Job.ID),
			zap.String("order_id", lease.Job.OrderID),
		)
		return
	}
	p.logger.Error("job nack failed",
		zap.String("job_id", lease.Job.ID),
		zap.Error(err),
	)
}
