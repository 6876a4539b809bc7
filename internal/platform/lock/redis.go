package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisClient is the subset of *redis.Client the locker uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another instance is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisConfig configures a RedisLocker.
type RedisConfig struct {
	Prefix string
	// TTL bounds how long a crashed holder can keep the key.
	TTL time.Duration
	// Wait bounds how long Lock retries before returning ErrLockTimeout.
	Wait  time.Duration
	Retry time.Duration
}

// RedisLocker is a lease-based lock shared by every server instance.
type RedisLocker struct {
	rdb    RedisClient
	cfg    RedisConfig
	logger zerolog.Logger
}

// NewRedisLocker creates a locker over rdb. Zero config fields get defaults.
func NewRedisLocker(rdb RedisClient, cfg RedisConfig, logger zerolog.Logger) *RedisLocker {
	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	if cfg.Prefix == "" {
		cfg.Prefix = "lock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	return &RedisLocker{rdb: rdb, cfg: cfg, logger: logger}
}

// Lock acquires key, retrying until the configured wait elapses or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.cfg.Prefix + ":" + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.cfg.Wait)

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, ErrLockTimeout)
		}
		timer := time.NewTimer(l.cfg.Retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be cancelled; release must still run.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := l.rdb.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn().Err(err).Str("key", redisKey).Msg("failed to release lock")
			}
		})
	}
}
