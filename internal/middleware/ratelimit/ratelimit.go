package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/metrics"
	"github.com/eval-dashboard/backend/pkg/logger"
)

// Result is the outcome of counting one request against a key.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store counts requests per key. Implementations must be safe for
// concurrent use.
type Store interface {
	Take(ctx context.Context, key string) (Result, error)
	Name() string
}

type Config struct {
	Store       Store
	MaxRequests int
	Logger      *zap.Logger
}

// New returns the limiter middleware. Requests are keyed by X-User-ID when
// present, otherwise by client IP. Store errors fail open.
func New(cfg Config) fiber.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("ratelimit")
	}
	limit := strconv.Itoa(cfg.MaxRequests)

	return func(c *fiber.Ctx) error {
		key := c.IP()
		if userID := c.Get("X-User-ID"); userID != "" {
			key = userID
		}

		res, err := cfg.Store.Take(c.UserContext(), key)
		if err != nil {
			cfg.Logger.Warn("Rate limit store unavailable, allowing request",
				zap.String("store", cfg.Store.Name()),
				zap.String("key", key),
				zap.Error(err),
			)
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", limit)
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			metrics.RateLimited.WithLabelValues(cfg.Store.Name()).Inc()
			cfg.Logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)

			retryAfter := int(time.Until(res.ResetAt).Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":    false,
				"message":    "Rate limit exceeded. Please try again later.",
				"retryAfter": retryAfter,
			})
		}

		return c.Next()
	}
}
