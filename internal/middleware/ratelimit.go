package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimit allows count requests per client IP and route within period,
// using a fixed window counter in Redis. If Redis is unreachable the
// request is let through.
func RateLimit(client *redis.Client, count int64, period time.Duration, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := "rate_limit:" + c.FullPath() + ":" + c.ClientIP()

		n, err := client.Incr(ctx, key).Result()
		if err != nil {
			log.Warn("rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if n == 1 {
			if err := client.Expire(ctx, key, period).Err(); err != nil {
				log.Warn("set rate limit window", "key", key, "error", err)
			}
		}

		if n > count {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
