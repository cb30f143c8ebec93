package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"room-chat-service/internal/observability"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// ParticipantOrIP buckets by the forwarded participant id, falling back to
// the client address.
func ParticipantOrIP(c *gin.Context) string {
	if id := observability.ParticipantIDFromRequest(c.Request); id != "" {
		return "p:" + id
	}
	return "ip:" + observability.IPFromRequest(c.Request)
}

func tooManyRequests(c *gin.Context, retryAfter time.Duration) {
	observability.IncRateLimited()
	if retryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "rate_limited"})
}

// RedisRateLimiter is a fixed-window counter shared by all replicas.
type RedisRateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
	logger *zap.Logger
}

// NewRedisRateLimiter constructs a fixed-window limiter backed by redis.
func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration, logger *zap.Logger) *RedisRateLimiter {
	return &RedisRateLimiter{redis: client, prefix: prefix, limit: limit, window: window, logger: logger}
}

// Handler counts the request and rejects it once the window is exhausted.
// Redis failures let the request through.
func (r *RedisRateLimiter) Handler(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		redisKey := fmt.Sprintf("%s:%s", r.prefix, key(c))
		count, err := r.redis.Incr(ctx, redisKey).Result()
		if err != nil {
			r.logger.Warn("rate limiter unavailable", zap.String("key", redisKey), zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			r.redis.Expire(ctx, redisKey, r.window)
		}
		if count > int64(r.limit) {
			ttl, _ := r.redis.TTL(ctx, redisKey).Result()
			tooManyRequests(c, ttl)
			return
		}
		c.Next()
	}
}

// LocalRateLimiter is a per-process token bucket, used when redis is not configured.
type LocalRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	logger   *zap.Logger
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter constructs a per-process token bucket limiter.
func NewLocalRateLimiter(perMinute, burst int, logger *zap.Logger) *LocalRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &LocalRateLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *LocalRateLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = l.now()
	return v.limiter
}

// Sweep drops buckets idle for longer than idle.
func (l *LocalRateLimiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, k)
			n++
		}
	}
	return n
}

func (l *LocalRateLimiter) Handler(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := key(c)
		limiter := l.getLimiter(k)
		if !limiter.Allow() {
			l.logger.Warn("rate limit exceeded", zap.String("key", k), zap.String("path", c.FullPath()))
			retry := time.Second
			if l.rps > 0 {
				retry = time.Duration(float64(time.Second) / float64(l.rps))
			}
			tooManyRequests(c, retry)
			return
		}
		c.Next()
	}
}
