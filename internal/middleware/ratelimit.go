package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ledger:rl:v1:"

// RateLimit caps unsafe requests per client IP to maxPerMin using a fixed
// one-minute Redis counter. It fails open when Redis is unavailable.
func RateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil || maxPerMin <= 0 || isSafeMethod(c.Method()) {
			return c.Next()
		}

		window := time.Now().UTC().Truncate(time.Minute).Unix()
		key := fmt.Sprintf("%s%s:%d", rateLimitPrefix, c.IP(), window)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("rate limit counter unavailable", slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}

		remaining := int64(maxPerMin) - cnt
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", fmt.Sprint(maxPerMin))
		c.Set("X-RateLimit-Remaining", fmt.Sprint(remaining))

		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "too many requests, try again later")
		}
		return c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
		return true
	default:
		return false
	}
}
