package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinic/scheduler/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *tokenBucket) retryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refillRate <= 0 {
		return 1
	}
	return int((1-b.tokens)/b.refillRate) + 1
}

// Limiter decides whether the caller identified by key may proceed. When it
// may not, retryAfter is the suggested wait in seconds.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter int, err error)
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	cfg     RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{cfg: cfg, buckets: make(map[string]*tokenBucket)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	l.mu.RLock()
	bucket, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok {
		l.mu.Lock()
		if bucket, ok = l.buckets[key]; !ok {
			bucket = newTokenBucket(l.cfg.RequestsPerSecond, l.cfg.BurstSize)
			l.buckets[key] = bucket
		}
		l.mu.Unlock()
	}
	if bucket.allow() {
		return true, 0, nil
	}
	return false, bucket.retryAfter(), nil
}

// RedisCounter is the subset of the go-redis client used by RedisLimiter.
type RedisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisLimiter enforces a fixed one-second window shared by every server
// instance. BurstSize is the per-window allowance.
type RedisLimiter struct {
	rdb    RedisCounter
	cfg    RateLimitConfig
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(rdb RedisCounter, cfg RateLimitConfig, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{rdb: rdb, cfg: cfg, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	window := l.now().Unix()
	k := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		l.rdb.Expire(ctx, k, 2*time.Second)
	}
	if n > int64(l.cfg.BurstSize) {
		return false, 1, nil
	}
	return true, 0, nil
}

// RateLimit throttles per clinic and caller. A limiter error lets the
// request through so a Redis outage does not take the API down.
func RateLimit(cfg RateLimitConfig, limiter Limiter, logger zerolog.Logger) echo.MiddlewareFunc {
	if limiter == nil {
		limiter = NewMemoryLimiter(cfg)
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = uid
			}
			if clinic, ok := c.Get("jwt_clinic_id").(string); ok && clinic != "" {
				key = clinic + ":" + key
			}

			ok, retryAfter, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				logger.Warn().Err(err).Str("request_id", requestID(c)).Msg("rate limiter unavailable")
				return next(c)
			}
			c.Response().Header().Set("X-RateLimit-Limit", limit)
			if !ok {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
