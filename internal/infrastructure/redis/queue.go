// Package redis backs the execution job queue and the API rate limiter
// with Redis. Queue state lives in lists (ready, active, dead), sorted
// sets (delayed, leases, finished) and one hash per job; every
// multi-key transition runs as a Lua script so consumers crashing
// mid-operation can never leave a job in two partitions at once.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/job"
)

const (
	// leasePollInterval bounds how long a blocking Lease waits between
	// attempts to claim a ready job.
	leasePollInterval = 250 * time.Millisecond

	// maintenanceBatch caps how many jobs one promotion or reclaim
	// pass moves, so maintenance never monopolizes the connection.
	maintenanceBatch = 100
)

// QueueConfig holds the queue-wide policies. Per-enqueue options may
// override the attempt budget; backoff and retention are fixed for the
// life of the queue.
type QueueConfig struct {
	// Prefix namespaces every key, default "swapq".
	Prefix string

	// DefaultAttempts is the delivery budget used when an enqueue does
	// not specify one.
	DefaultAttempts int

	// StallTimeout is how long a leased job may go silent before the
	// queue reclaims it for another delivery.
	StallTimeout time.Duration

	Backoff          job.Backoff
	RemoveOnComplete job.RetentionPolicy
	RemoveOnFail     job.RetentionPolicy
}

func (c *QueueConfig) withDefaults() {
	if c.Prefix == "" {
		c.Prefix = "swapq"
	}
	if c.DefaultAttempts <= 0 {
		c.DefaultAttempts = 3
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Second
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff = job.DefaultBackoff()
	}
	if c.RemoveOnComplete.Count <= 0 {
		c.RemoveOnComplete = job.RetentionPolicy{Count: 1000, Age: 24 * time.Hour}
	}
	if c.RemoveOnFail.Count <= 0 {
		c.RemoveOnFail = job.RetentionPolicy{Count: 5000, Age: 7 * 24 * time.Hour}
	}
}

// Queue implements job.Queue on Redis with at-least-once delivery.
type Queue struct {
	client *redis.Client
	cfg    QueueConfig
	logger *zap.Logger
}

// NewQueue creates a queue on an existing Redis client.
func NewQueue(client *redis.Client, cfg QueueConfig, logger *zap.Logger) *Queue {
	cfg.withDefaults()
	return &Queue{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Key layout under the configured prefix.
func (q *Queue) jobPrefix() string   { return q.cfg.Prefix + ":job:" }
func (q *Queue) orderPrefix() string { return q.cfg.Prefix + ":order:" }
func (q *Queue) readyKey() string    { return q.cfg.Prefix + ":ready" }
func (q *Queue) activeKey() string   { return q.cfg.Prefix + ":active" }
func (q *Queue) leasesKey() string   { return q.cfg.Prefix + ":leases" }
func (q *Queue) delayedKey() string  { return q.cfg.Prefix + ":delayed" }
func (q *Queue) deadKey() string     { return q.cfg.Prefix + ":dead" }
func (q *Queue) doneKey() string     { return q.cfg.Prefix + ":completed" }
func (q *Queue) failedKey() string   { return q.cfg.Prefix + ":failed" }

// enqueueScript claims the order's dedup guard and registers the job in
// one atomic step. Returns 0 when another live job already holds the
// order.
var enqueueScript = redis.NewScript(`
	local claimed = redis.call('SET', KEYS[1], ARGV[1], 'NX')
	if not claimed then
		return 0
	end
	redis.call('HSET', KEYS[2],
		'id', ARGV[1],
		'order_id', ARGV[2],
		'attempts', 0,
		'max_attempts', ARGV[3],
		'progress', 0,
		'state', 'ready',
		'last_error', '',
		'enqueued_at', ARGV[4])
	redis.call('RPUSH', KEYS[3], ARGV[1])
	return 1
`)

// Enqueue durably accepts one execution job for the order. A live job
// for the same order (queued, delayed or active) rejects the call with
// job.ErrDuplicate, which is what serializes execution per order.
func (q *Queue) Enqueue(ctx context.Context, orderID string, opts job.Options) (*job.Job, error) {
	if orderID == "" {
		return nil, fmt.Errorf("%w: empty order id", job.ErrNotFound)
	}

	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = q.cfg.DefaultAttempts
	}

	j := &job.Job{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		MaxAttempts: attempts,
		EnqueuedAt:  time.Now().UTC(),
	}

	keys := []string{q.orderPrefix() + orderID, q.jobPrefix() + j.ID, q.readyKey()}
	accepted, err := enqueueScript.Run(ctx, q.client, keys,
		j.ID, orderID, attempts, j.EnqueuedAt.UnixMilli()).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	if accepted == 0 {
		return nil, fmt.Errorf("%w: order %s", job.ErrDuplicate, orderID)
	}

	return j, nil
}

// leaseScript claims the head of the ready list: move to active, burn
// one attempt, fence with a token and register the lease deadline.
var leaseScript = redis.NewScript(`
	local id = redis.call('LMOVE', KEYS[1], KEYS[2], 'LEFT', 'RIGHT')
	if not id then
		return false
	end
	local jobKey = ARGV[4] .. id
	local attempts = redis.call('HINCRBY', jobKey, 'attempts', 1)
	redis.call('HSET', jobKey, 'state', 'active', 'lease_token', ARGV[1])
	redis.call('ZADD', KEYS[3], ARGV[3], id)
	local f = redis.call('HMGET', jobKey, 'order_id', 'max_attempts', 'progress', 'last_error', 'enqueued_at')
	return {id, attempts, f[1], f[2], f[3], f[4], f[5]}
`)

// Lease blocks up to the given duration for the next ready job. The
// returned lease carries a fencing token: once the stall reclaimer takes
// the job back, the old holder's Ack and Nack fail with ErrLeaseLost.
func (q *Queue) Lease(ctx context.Context, block time.Duration) (*job.Lease, error) {
	deadline := time.Now().Add(block)
	for {
		lease, err := q.tryLease(ctx)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, job.ErrNoJob) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, job.ErrNoJob
		}
		wait := leasePollInterval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) tryLease(ctx context.Context) (*job.Lease, error) {
	token := uuid.NewString()
	now := time.Now()
	leaseDeadline := now.Add(q.cfg.StallTimeout)

	keys := []string{q.readyKey(), q.activeKey(), q.leasesKey()}
	res, err := leaseScript.Run(ctx, q.client, keys,
		token, now.UnixMilli(), leaseDeadline.UnixMilli(), q.jobPrefix()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, job.ErrNoJob
		}
		return nil, fmt.Errorf("failed to lease job: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) < 7 {
		return nil, fmt.Errorf("unexpected lease script reply: %v", res)
	}

	j := &job.Job{
		ID:          asString(fields[0]),
		Attempt:     int(asInt(fields[1])),
		OrderID:     asString(fields[2]),
		MaxAttempts: int(asInt(fields[3])),
		Progress:    int(asInt(fields[4])),
		LastError:   asString(fields[5]),
	}
	if ms := asInt(fields[6]); ms > 0 {
		j.EnqueuedAt = time.UnixMilli(ms).UTC()
	}

	return &job.Lease{Job: j, Token: token, Deadline: leaseDeadline}, nil
}

// ackScript finishes a fenced lease: drop it from active, mark the job
// completed, register it for retention and release the order guard.
var ackScript = redis.NewScript(`
	local jobKey = ARGV[4] .. ARGV[1]
	if redis.call('HGET', jobKey, 'lease_token') ~= ARGV[2] then
		return -1
	end
	redis.call('LREM', KEYS[1], 1, ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
	redis.call('HDEL', jobKey, 'lease_token')
	redis.call('HSET', jobKey, 'state', 'completed', 'progress', 100, 'finished_at', ARGV[3])
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
	local orderId = redis.call('HGET', jobKey, 'order_id')
	if orderId then
		redis.call('DEL', ARGV[5] .. orderId)
	end
	return 1
`)

// Ack finishes the lease successfully.
func (q *Queue) Ack(ctx context.Context, lease *job.Lease) error {
	keys := []string{q.activeKey(), q.leasesKey(), q.doneKey()}
	res, err := ackScript.Run(ctx, q.client, keys,
		lease.Job.ID, lease.Token, time.Now().UnixMilli(), q.jobPrefix(), q.orderPrefix()).Int()
	if err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	if res == -1 {
		return fmt.Errorf("%w: job %s", job.ErrLeaseLost, lease.Job.ID)
	}
	return nil
}

// nackScript records a failed attempt. Below the attempt budget the job
// moves to the delayed set for backoff; at the budget it dead-letters
// and the order guard is released.
var nackScript = redis.NewScript(`
	local jobKey = ARGV[6] .. ARGV[1]
	if redis.call('HGET', jobKey, 'lease_token') ~= ARGV[2] then
		return -1
	end
	redis.call('LREM', KEYS[1], 1, ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
	redis.call('HDEL', jobKey, 'lease_token')
	redis.call('HSET', jobKey, 'last_error', ARGV[5])
	local attempts = tonumber(redis.call('HGET', jobKey, 'attempts'))
	local max = tonumber(redis.call('HGET', jobKey, 'max_attempts'))
	if attempts >= max then
		redis.call('HSET', jobKey, 'state', 'dead', 'finished_at', ARGV[3])
		redis.call('RPUSH', KEYS[4], ARGV[1])
		redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
		local orderId = redis.call('HGET', jobKey, 'order_id')
		if orderId then
			redis.call('DEL', ARGV[7] .. orderId)
		end
		return 0
	end
	redis.call('HSET', jobKey, 'state', 'delayed')
	redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
	return 1
`)

// Nack records the attempt failure and schedules the retry or the
// dead-lettering, depending on the remaining attempt budget.
func (q *Queue) Nack(ctx context.Context, lease *job.Lease, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	now := time.Now()
	readyAt := now.Add(q.cfg.Backoff.Delay(lease.Job.Attempt))

	keys := []string{q.activeKey(), q.leasesKey(), q.delayedKey(), q.deadKey(), q.failedKey()}
	res, err := nackScript.Run(ctx, q.client, keys,
		lease.Job.ID, lease.Token, now.UnixMilli(), readyAt.UnixMilli(), msg,
		q.jobPrefix(), q.orderPrefix()).Int()
	if err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}
	if res == -1 {
		return fmt.Errorf("%w: job %s", job.ErrLeaseLost, lease.Job.ID)
	}
	return nil
}

var progressScript = redis.NewScript(`
	local jobKey = ARGV[4] .. ARGV[1]
	if redis.call('HGET', jobKey, 'lease_token') ~= ARGV[2] then
		return -1
	end
	redis.call('HSET', jobKey, 'progress', ARGV[3])
	return 1
`)

// Progress records a best-effort progress percentage on the leased job.
func (q *Queue) Progress(ctx context.Context, lease *job.Lease, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	res, err := progressScript.Run(ctx, q.client, []string{},
		lease.Job.ID, lease.Token, pct, q.jobPrefix()).Int()
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	if res == -1 {
		return fmt.Errorf("%w: job %s", job.ErrLeaseLost, lease.Job.ID)
	}
	return nil
}

// promoteScript moves delayed jobs whose backoff elapsed back to ready.
var promoteScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	for _, id in ipairs(due) do
		redis.call('ZREM', KEYS[1], id)
		redis.call('HSET', ARGV[3] .. id, 'state', 'ready')
		redis.call('RPUSH', KEYS[2], id)
	end
	return #due
`)

// PromoteDue returns delayed jobs whose backoff has elapsed to the ready
// partition.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := promoteScript.Run(ctx, q.client,
			[]string{q.delayedKey(), q.readyKey()},
			time.Now().UnixMilli(), maintenanceBatch, q.jobPrefix()).Int()
		if err != nil {
			return total, fmt.Errorf("failed to promote delayed jobs: %w", err)
		}
		total += n
		if n < maintenanceBatch {
			return total, nil
		}
	}
}

// reclaimScript takes back leases whose deadline passed. Jobs with
// attempt budget left go to ready for redelivery; exhausted ones
// dead-letter so a stuck order cannot loop forever.
var reclaimScript = redis.NewScript(`
	local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	for _, id in ipairs(expired) do
		redis.call('ZREM', KEYS[1], id)
		redis.call('LREM', KEYS[2], 1, id)
		local jobKey = ARGV[3] .. id
		redis.call('HDEL', jobKey, 'lease_token')
		local attempts = tonumber(redis.call('HGET', jobKey, 'attempts')) or 0
		local max = tonumber(redis.call('HGET', jobKey, 'max_attempts')) or 0
		if attempts >= max then
			redis.call('HSET', jobKey, 'state', 'dead', 'last_error', 'job stalled', 'finished_at', ARGV[1])
			redis.call('RPUSH', KEYS[4], id)
			redis.call('ZADD', KEYS[5], ARGV[1], id)
			local orderId = redis.call('HGET', jobKey, 'order_id')
			if orderId then
				redis.call('DEL', ARGV[4] .. orderId)
			end
		else
			redis.call('HSET', jobKey, 'state', 'ready')
			redis.call('RPUSH', KEYS[3], id)
		end
	end
	return #expired
`)

// ReclaimStale recovers jobs whose lease deadline passed without an ack
// or nack, typically because the holding process died.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	total := 0
	for {
		keys := []string{q.leasesKey(), q.activeKey(), q.readyKey(), q.deadKey(), q.failedKey()}
		n, err := reclaimScript.Run(ctx, q.client, keys,
			time.Now().UnixMilli(), maintenanceBatch, q.jobPrefix(), q.orderPrefix()).Int()
		if err != nil {
			return total, fmt.Errorf("failed to reclaim stale leases: %w", err)
		}
		total += n
		if n < maintenanceBatch {
			return total, nil
		}
	}
}

// Counts reports queue depth by state.
func (q *Queue) Counts(ctx context.Context) (job.Counts, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	active := pipe.LLen(ctx, q.activeKey())
	dead := pipe.LLen(ctx, q.deadKey())
	completed := pipe.ZCard(ctx, q.doneKey())
	failed := pipe.ZCard(ctx, q.failedKey())

	if _, err := pipe.Exec(ctx); err != nil {
		return job.Counts{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	return job.Counts{
		Ready:     ready.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Dead:      dead.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Sweep applies the retention policies to finished job records and
// returns how many were removed.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	removed, err := q.sweepFinished(ctx, q.doneKey(), q.cfg.RemoveOnComplete, false)
	if err != nil {
		return removed, err
	}
	n, err := q.sweepFinished(ctx, q.failedKey(), q.cfg.RemoveOnFail, true)
	return removed + n, err
}

func (q *Queue) sweepFinished(ctx context.Context, key string, policy job.RetentionPolicy, dead bool) (int, error) {
	var victims []string

	cutoff := strconv.FormatInt(time.Now().Add(-policy.Age).UnixMilli(), 10)
	aged, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan finished jobs: %w", err)
	}
	victims = append(victims, aged...)

	total, err := q.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count finished jobs: %w", err)
	}
	if over := total - int64(len(victims)) - int64(policy.Count); over > 0 {
		oldest, err := q.client.ZRange(ctx, key, int64(len(victims)), int64(len(victims))+over-1).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan finished jobs: %w", err)
		}
		victims = append(victims, oldest...)
	}

	if len(victims) == 0 {
		return 0, nil
	}

	pipe := q.client.Pipeline()
	for _, id := range victims {
		pipe.ZRem(ctx, key, id)
		pipe.Del(ctx, q.jobPrefix()+id)
		if dead {
			pipe.LRem(ctx, q.deadKey(), 1, id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to sweep finished jobs: %w", err)
	}

	q.logger.Debug("swept finished jobs",
		zap.String("set", key),
		zap.Int("removed", len(victims)),
	)
	return len(victims), nil
}

// Health verifies the backing store answers.
func (q *Queue) Health(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", job.ErrUnavailable, err)
	}
	return nil
}

// Close releases the Redis client.
func (q *Queue) Close() error {
	return q.client.Close()
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	}
	return 0
}
