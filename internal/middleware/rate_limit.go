package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// fixed window counter; the first hit in a window sets its expiry
const rateLimitScript = `
local current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return redis.call('PTTL', KEYS[1])
end
return -1
`

// DebitRateLimit caps spends per account per minute using Redis. Without Redis,
// or when Redis fails, requests pass through.
func DebitRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	window := time.Minute
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		subject := AccountID(c)
		if subject == "" {
			subject = c.Params("accountId")
		}
		if subject == "" {
			subject = c.IP()
		}
		key := "rl:debit:" + subject

		wait, err := cache.Eval(c.UserContext(), rateLimitScript, []string{key}, maxPerMin, window.Milliseconds()).Int64()
		if err != nil {
			logger.Warn("debit rate limit check failed", slog.String("subject", subject), slog.Any("error", err))
			return c.Next()
		}
		if wait >= 0 {
			secs := (wait + 999) / 1000
			if secs < 1 {
				secs = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(secs, 10))
			return fiber.NewError(http.StatusTooManyRequests, "too many debit requests, try again later")
		}
		return c.Next()
	}
}
