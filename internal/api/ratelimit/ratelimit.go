// Package ratelimit provides per-API-key request throttling for the HTTP
// shell. It prefers a Redis-backed token bucket (atomic via a Lua script)
// so that a multi-instance deployment shares one limit per key; when no
// Redis address is configured it falls back to an in-process
// golang.org/x/time/rate limiter per key, which is sufficient for a
// single instance and for tests.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/time/rate"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// Config controls the limit applied per key.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	return c
}

// New returns a Redis-backed limiter when redisAddr is non-empty,
// otherwise an in-process limiter.
func New(redisAddr string, cfg Config) Limiter {
	cfg = cfg.withDefaults()
	if redisAddr == "" {
		return newLocalLimiter(cfg)
	}
	return newRedisLimiter(redisAddr, cfg)
}

// localLimiter is a per-key golang.org/x/time/rate limiter, used when no
// Redis instance is configured.
type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      Config
}

func newLocalLimiter(cfg Config) *localLimiter {
	return &localLimiter{limiters: make(map[string]*rate.Limiter), cfg: cfg}
}

func (l *localLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}

func (l *localLimiter) Close() error { return nil }

// redisLimiter implements a token bucket entirely inside a Lua script so
// the check-and-decrement is atomic across concurrent instances.
type redisLimiter struct {
	client *redis.Client
	script *redis.Script
	cfg    Config
}

const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or burst
local last_refill = tonumber(bucket[2]) or now

local elapsed = math.max(0, now - last_refill)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, math.ceil(burst / rate) + 60)

return allowed
`

func newRedisLimiter(addr string, cfg Config) *redisLimiter {
	return &redisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		script: redis.NewScript(tokenBucketScript),
		cfg:    cfg,
	}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	result, err := l.script.Run(ctx, l.client, []string{"ratelimit:" + key},
		l.cfg.RequestsPerSecond, l.cfg.Burst, now).Int()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (l *redisLimiter) Close() error { return l.client.Close() }
