package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultDailyLimit = 10

// Limiter enforces a per-caller daily quota on generation endpoints. Counts
// live in Redis when available so the quota survives restarts and spans
// replicas; otherwise an in-process fallback counts within the current day.
type Limiter struct {
	redis  *redis.Client
	limit  int
	logger *zap.Logger

	mu     sync.Mutex
	day    string
	counts map[string]int
}

// NewLimiterFromEnv reads RATE_LIMIT_PER_DAY (default 10). redisClient may be
// nil; the limiter then counts in memory.
func NewLimiterFromEnv(redisClient *redis.Client, logger *zap.Logger) *Limiter {
	limit := defaultDailyLimit
	if raw := strings.TrimSpace(os.Getenv("RATE_LIMIT_PER_DAY")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		redis:  redisClient,
		limit:  limit,
		logger: logger,
		counts: make(map[string]int),
	}
}

// Allow increments the caller's counter for today and reports whether the
// request stays within quota. Remaining is the number of requests left after
// this one. Redis failures degrade to the in-memory counter rather than
// blocking the request path.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int) {
	if l == nil || key == "" {
		return true, 0
	}

	day := time.Now().UTC().Format("2006-01-02")

	if l.redis != nil {
		redisKey := fmt.Sprintf("ai_api_count_%s_%s", key, day)
		count, err := l.redis.Incr(ctx, redisKey).Result()
		if err == nil {
			if count == 1 {
				l.redis.Expire(ctx, redisKey, 25*time.Hour)
			}
			remaining := l.limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			return int(count) <= l.limit, remaining
		}
		l.logger.Warn("rate limit redis unavailable, using in-memory counter", zap.Error(err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.day != day {
		l.day = day
		l.counts = make(map[string]int)
	}
	l.counts[key]++
	count := l.counts[key]
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= l.limit, remaining
}

// Middleware applies the daily quota, keyed by client IP. Localhost callers
// bypass the limit.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)
		if key == "" || isLocalhost(key) {
			c.Next()
			return
		}

		allowed, remaining := l.Allow(c.Request.Context(), key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "daily request limit reached",
			})
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	ip := strings.TrimSpace(c.ClientIP())
	return strings.ReplaceAll(ip, ":", "_")
}

func isLocalhost(key string) bool {
	raw := strings.ReplaceAll(key, "_", ":")
	if raw == "localhost" {
		return true
	}
	ip := net.ParseIP(raw)
	return ip != nil && ip.IsLoopback()
}
