package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/sigauth/internal/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPrefix = "sigauth:ratelimit:"

// slidingWindowScript trims the window, then adds the event if under the limit.
// KEYS[1] bucket; ARGV: cutoff ms, now ms, window ms, limit, member
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[4]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisLimiter is a sliding-window limiter shared between instances.
// When Redis fails it answers from a local MemoryLimiter.
type RedisLimiter struct {
	client   redis.UniversalClient
	limit    int
	window   time.Duration
	clock    clock.Clock
	fallback *MemoryLimiter
	logger   *zap.Logger
}

// NewRedisLimiter creates a new Redis-backed limiter
func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration, clk clock.Clock, logger *zap.Logger) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{
		client:   client,
		limit:    limit,
		window:   window,
		clock:    clk,
		fallback: NewMemoryLimiter(limit, window, clk),
		logger:   logger.Named("ratelimit"),
	}
}

// Allow records an event for key and reports whether it is within the limit
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := l.clock.Now().UnixMilli()
	n, err := slidingWindowScript.Run(ctx, l.client,
		[]string{redisPrefix + key},
		now-l.window.Milliseconds(), now, l.window.Milliseconds(), l.limit,
		strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int()
	if err != nil {
		l.logger.Warn("redis rate limiter failed, using memory", zap.Error(err))
		return l.fallback.Allow(ctx, key)
	}
	return n == 1, nil
}
