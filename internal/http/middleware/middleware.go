// Package middleware holds the global fiber middleware chain of the relay.
package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"locket-relay/internal/config"
	"locket-relay/internal/domain"
	"locket-relay/internal/infra/logging"
)

// APIKeyLocal is the fiber local holding an authenticated X-API-Key.
const APIKeyLocal = "api_key"

// TokenStore is the read side of the API token cache.
type TokenStore interface {
	Ready() bool
	Valid(token string) bool
	RateLimit(token string) int
}

// Register attaches global middleware to the app.
func Register(app *fiber.App, cfg config.Config, tokens TokenStore, store fiber.Storage) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
		ReadinessProbe: func(*fiber.Ctx) bool {
			return !cfg.Auth.Enabled() || tokens.Ready()
		},
	}))

	app.Use(AccessLog())

	app.Use(APIKey(tokens))

	rl := RateLimitConfig{
		RateInterval:           cfg.RateLimiter.Interval,
		EnableUserLimiter:      cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0,
		UserLimit:              cfg.RateLimiter.UserLimit,
		EnableTokenRateLimiter: cfg.RateLimiter.EnableTokenRateLimiter,
	}
	app.Use(TokenRateLimit(rl, tokens, store, NewLimiterCache()))
	app.Use(UserRateLimit(rl, store))
}

// APIKey authenticates the optional X-API-Key header. Requests without the
// header are anonymous and pass through.
func APIKey(tokens TokenStore) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: APIKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !tokens.Ready() {
				return false, domain.ErrTokenStoreNotReady
			}
			if !tokens.Valid(key) {
				return false, domain.ErrInvalidAPIKey
			}
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Keyauth can call ErrorHandler with a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, domain.ErrTokenStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    status,
					"message": err.Error(),
				},
			})
		},
	})
}

// AccessLog writes one line per request. Handler errors are rendered here,
// like the fiber logger does, so the logged status is the one sent.
func AccessLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Request handled",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		)
		return nil
	}
}
