package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/novadex/swap-engine/internal/domain/ratelimit"
)

// ratelimitPrefix namespaces limiter keys away from queue state.
const ratelimitPrefix = "ratelimit:"

// checkScript trims entries that slid out of the window, then either
// records the request or returns the oldest in-window timestamp so the
// caller can tell the client when a slot frees up.
// ARGV: cutoff ms, now ms, limit, ttl seconds, member.
var checkScript = redis.NewScript(`
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	local count = redis.call('ZCARD', KEYS[1])
	if count < tonumber(ARGV[3]) then
		redis.call('ZADD', KEYS[1], ARGV[2], ARGV[5])
		redis.call('EXPIRE', KEYS[1], ARGV[4])
		return {1, count + 1, 0}
	end
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	if #oldest == 0 then
		return {0, count, 0}
	end
	return {0, count, tonumber(oldest[2])}
`)

// RateLimiter implements ratelimit.Limiter with one sorted set per
// key: members are individual requests scored by arrival time, so the
// budget slides instead of resetting on a boundary.
type RateLimiter struct {
	client *redis.Client
}

// NewRateLimiter creates a limiter on an existing Redis client.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Check records a request against the key's window and reports whether
// it fit the budget.
func (l *RateLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	now := time.Now()
	cutoff := now.Add(-window).UnixMilli()
	ttl := int(window/time.Second) + 1

	reply, err := checkScript.Run(ctx, l.client,
		[]string{ratelimitPrefix + key},
		cutoff, now.UnixMilli(), limit, ttl, uuid.NewString()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("unexpected rate limit script reply: %v", reply)
	}

	res := &ratelimit.Result{
		Allowed:   reply[0] == 1,
		Limit:     limit,
		Remaining: remaining(limit, reply[1]),
	}
	if res.Allowed {
		res.ResetTime = now.Add(window)
		return res, nil
	}

	// Denied: the window frees a slot when its oldest entry expires.
	oldest := now
	if reply[2] > 0 {
		oldest = time.UnixMilli(reply[2])
	}
	res.ResetTime = oldest.Add(window)
	if wait := time.Until(res.ResetTime); wait > 0 {
		res.RetryAfter = wait
	}
	return res, nil
}

// GetStatus reports the window state without consuming budget. Unlike
// Check it writes nothing; expired entries are excluded by score.
func (l *RateLimiter) GetStatus(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	now := time.Now()
	redisKey := ratelimitPrefix + key
	inWindow := "(" + strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	count, err := l.client.ZCount(ctx, redisKey, inWindow, "+inf").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit window: %w", err)
	}

	res := &ratelimit.Result{
		Allowed:   count < int64(limit),
		Limit:     limit,
		Remaining: remaining(limit, count),
		ResetTime: now.Add(window),
	}
	if count == 0 {
		return res, nil
	}

	oldest, err := l.client.ZRangeByScoreWithScores(ctx, redisKey, &redis.ZRangeBy{
		Min:    inWindow,
		Max:    "+inf",
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	if len(oldest) > 0 {
		if reset := time.UnixMilli(int64(oldest[0].Score)).Add(window); reset.After(now) {
			res.ResetTime = reset
		}
	}
	if !res.Allowed {
		if wait := time.Until(res.ResetTime); wait > 0 {
			res.RetryAfter = wait
		}
	}
	return res, nil
}

// Reset clears the window for a key.
func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, ratelimitPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

func remaining(limit int, count int64) int {
	if r := limit - int(count); r > 0 {
		return r
	}
	return 0
}
