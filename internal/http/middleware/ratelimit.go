package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RateLimiter enforces a per-caller sliding-window request limit backed
// by a redis sorted set.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
// A nil client disables limiting.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if client == nil || limit <= 0 {
		return nil
	}
	return &RateLimiter{client: client, limit: limit, window: window}
}

// Allow reports whether another request fits in the caller's window.
func (r *RateLimiter) Allow(c *gin.Context, key string) (bool, error) {
	ctx := c.Request.Context()
	now := time.Now().UnixMilli()
	windowStart := now - r.window.Milliseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		return false, errExec
	}

	if countCmd.Val() >= int64(r.limit) {
		return false, nil
	}

	if errAdd := r.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: fmt.Sprintf("%d", now),
	}).Err(); errAdd != nil {
		log.WithError(errAdd).Warn("rate limiter record failed")
	}
	if errExpire := r.client.Expire(ctx, key, r.window*2).Err(); errExpire != nil {
		log.WithError(errExpire).Warn("rate limiter expire failed")
	}
	return true, nil
}

// Handler returns the gin middleware form of the limiter, keyed by the
// authenticated caller when present and the client address otherwise.
// Limiter errors fail open: a redis outage must not take the API down.
func (r *RateLimiter) Handler() gin.HandlerFunc {
	if r == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		key := "ratelimit:" + c.ClientIP()
		if caller := CallerFromContext(c); caller != nil {
			key = "ratelimit:" + caller.UserID
		}
		allowed, errAllow := r.Allow(c, key)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
