package ops

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// rateLimitScript is an atomic fixed-window counter: the same shape as
// the upstream gateway's per-key limiter, scoped here to the admin surface.
const rateLimitScript = `
local key = KEYS[1]
local window = tonumber(ARGV[1])
local max_tokens = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, 0, window - 1)
local count = redis.call('ZCOUNT', key, window, window + 86400)
if count >= max_tokens then
	return 0
end

redis.call('ZADD', key, now, now .. '-' .. ARGV[4])
redis.call('EXPIRE', key, 86400)
return 1
`

// RateLimiterConfig tunes the admin-surface rate limiter.
type RateLimiterConfig struct {
	MaxRequests int           // requests allowed per Window, per key
	Window      time.Duration
}

// RateLimiter caps admin-endpoint request volume per caller key using a
// Redis-backed fixed window, so a misbehaving operator script can't turn
// /debug/refresh into an accidental denial-of-service against the upstream
// catalog endpoints.
type RateLimiter struct {
	client     redis.UniversalClient
	log        *zap.Logger
	windowSize int64
	maxTokens  int
}

// NewRateLimiter builds a RateLimiter. A nil client disables limiting
// entirely (every Allow call returns true) so local/dev deployments don't
// need Redis just to exercise the debug endpoints.
func NewRateLimiter(client redis.UniversalClient, cfg RateLimiterConfig, log *zap.Logger) *RateLimiter {
	windowSize := int64(cfg.Window.Seconds())
	if windowSize <= 0 {
		windowSize = 60
	}
	return &RateLimiter{client: client, log: log, windowSize: windowSize, maxTokens: cfg.MaxRequests}
}

// Allow reports whether a request identified by key may proceed.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if rl.client == nil || rl.maxTokens <= 0 {
		return true, nil
	}

	now := time.Now().Unix()
	window := now - (now % rl.windowSize)

	result, err := rl.client.Eval(ctx, rateLimitScript, []string{key},
		window, rl.maxTokens, now, rand.Int63()).Result()
	if err != nil {
		return false, fmt.Errorf("ops: rate limit eval: %w", err)
	}

	allowed := result.(int64) == 1
	if !allowed && rl.log != nil {
		rl.log.Debug("admin surface rate limit exceeded", zap.String("key", key))
	}
	return allowed, nil
}
