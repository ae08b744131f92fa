// Package ratelimit implements tiered admission control backed by Redis
// (fixed-window counters) with an in-process sliding-window fallback.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/juanibianchi/coro/config"
)

const keyPrefix = "coro"

// LimitExceededError rejects a request with a retry hint in whole seconds.
type LimitExceededError struct {
	RetryAfter int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfter)
}

// Backend acquires one slot under a key or rejects with LimitExceededError.
type Backend interface {
	Acquire(ctx context.Context, key string, limit int, window time.Duration) error
}

// RedisBackend counts requests in fixed windows. The window expiry is set
// only by the increment that creates the counter, so concurrent callers rely
// solely on INCR's atomicity.
type RedisBackend struct {
	rdb *redis.Client
}

func (b *RedisBackend) Acquire(ctx context.Context, key string, limit int, window time.Duration) error {
	count, err := b.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		if err := b.rdb.Expire(ctx, key, window).Err(); err != nil {
			return err
		}
	}
	if count > int64(limit) {
		ttl, err := b.rdb.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		retry := int(ttl / time.Second)
		if retry < 1 {
			retry = 1
		}
		return &LimitExceededError{RetryAfter: retry}
	}
	return nil
}

// MemoryBackend is an exact sliding-window log for single-process use. One
// mutex guards all buckets; limiter throughput is not the bottleneck here.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (b *MemoryBackend) Acquire(ctx context.Context, key string, limit int, window time.Duration) error {
	now := b.now()
	threshold := now.Add(-window)

	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := b.buckets[key]
	for len(bucket) > 0 && !bucket[0].After(threshold) {
		bucket = bucket[1:]
	}

	if len(bucket) >= limit {
		b.buckets[key] = bucket
		wait := bucket[0].Add(window).Sub(now)
		retry := int(wait / time.Second)
		if wait%time.Second != 0 {
			retry++
		}
		if retry < 1 {
			retry = 1
		}
		return &LimitExceededError{RetryAfter: retry}
	}

	b.buckets[key] = append(bucket, now)
	return nil
}

// Limiter applies per-tier limits. A nil or uninitialized Limiter allows
// every request: losing admission control must not take the gateway down.
type Limiter struct {
	backend  Backend
	limits   map[string]config.TierLimit
	sessions *SessionStore
	rdb      *redis.Client
}

// New connects to Redis when a URL is configured and reachable, otherwise
// degrades to the in-process backend. The choice happens once at startup.
func New(ctx context.Context, redisURL string, limits map[string]config.TierLimit, sessionTTL time.Duration) *Limiter {
	var rdb *redis.Client
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Warn().Err(err).Msg("invalid REDIS_URL, falling back to in-memory limiter")
		} else {
			client := redis.NewClient(opts)
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn().Err(err).Msg("failed to connect to Redis, falling back to in-memory limiter")
				_ = client.Close()
			} else {
				rdb = client
				log.Info().Msg("connected to Redis for rate limiting")
			}
		}
	}

	var backend Backend
	if rdb != nil {
		backend = &RedisBackend{rdb: rdb}
	} else {
		backend = NewMemoryBackend()
	}

	return &Limiter{
		backend:  backend,
		limits:   limits,
		sessions: NewSessionStore(rdb, sessionTTL),
		rdb:      rdb,
	}
}

// Check acquires one request slot for (tier, identity). Unknown tiers use
// the anonymous configuration.
func (l *Limiter) Check(ctx context.Context, identity, tier string) error {
	if l == nil || l.backend == nil {
		return nil
	}
	tierCfg, ok := l.limits[tier]
	if !ok {
		tierCfg = l.limits["anonymous"]
	}
	key := fmt.Sprintf("%s:rl:%s:%s", keyPrefix, tier, identity)
	return l.backend.Acquire(ctx, key, tierCfg.Limit, tierCfg.Window)
}

func (l *Limiter) RegisterPremiumSession(ctx context.Context, token, subject string) error {
	if l == nil || l.sessions == nil {
		return fmt.Errorf("rate limiter not initialized")
	}
	return l.sessions.Add(ctx, token, subject)
}

func (l *Limiter) IsPremium(ctx context.Context, token string) bool {
	if l == nil || l.sessions == nil || token == "" {
		return false
	}
	return l.sessions.Exists(ctx, token)
}

// Close releases the Redis connection, if one was established.
func (l *Limiter) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
