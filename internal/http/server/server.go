// Package server assembles the fiber application.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"locket-relay/internal/config"
	"locket-relay/internal/domain"
	"locket-relay/internal/http/handlers"
	"locket-relay/internal/http/middleware"
	"locket-relay/internal/infra/logging"
	"locket-relay/internal/infra/ratelimit"
)

type Deps struct {
	Config config.Config
	Relay  handlers.Relay
	Tokens middleware.TokenStore
	// Storage backs the rate limiters. Nil selects redis or memory from
	// the cache section.
	Storage fiber.Storage
}

// New creates the fiber app with middleware and routes.
func New(deps Deps) *fiber.App {
	cfg := deps.Config
	bodyLimit := cfg.Server.BodyLimitMB * 1024 * 1024
	if bodyLimit <= 0 {
		bodyLimit = fiber.DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ErrorHandler:          errorHandler,
	})

	store := deps.Storage
	if store == nil {
		store = ratelimit.NewStore(ratelimit.RedisConfig{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RateLimitDB,
		})
	}
	middleware.Register(app, cfg, deps.Tokens, store)

	h := handlers.NewLocket(deps.Relay, cfg)
	locket := app.Group("/locket")
	locket.Post("/login", h.Login)
	locket.Post("/upload-media", h.UploadMedia)

	app.Get("/ops/monitor", monitor.New(monitor.Config{Title: "locket-relay"}))

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code, msg := statusOf(err)
	if code >= fiber.StatusInternalServerError {
		logging.Error("Request failed", "path", c.Path(), "status", code, "error", err)
	} else {
		logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)
	}
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}

// statusOf maps an error to the HTTP status and message sent to clients.
func statusOf(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}

	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) {
		if upErr.Op == "login" && upErr.Status >= 400 && upErr.Status < 500 {
			return fiber.StatusUnauthorized, upErr.Error()
		}
		return fiber.StatusBadGateway, upErr.Error()
	}

	switch {
	case errors.Is(err, domain.ErrNoMedia),
		errors.Is(err, domain.ErrMixedMedia),
		errors.Is(err, domain.ErrInvalidCredentials):
		return fiber.StatusBadRequest, rootMessage(err)
	case errors.Is(err, domain.ErrVideoTooLarge),
		errors.Is(err, domain.ErrImageTooLarge):
		return fiber.StatusRequestEntityTooLarge, rootMessage(err)
	case errors.Is(err, domain.ErrUnsupportedMedia):
		return fiber.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, domain.ErrInvalidAPIKey):
		return fiber.StatusUnauthorized, rootMessage(err)
	case errors.Is(err, domain.ErrTokenStoreNotReady):
		return fiber.StatusServiceUnavailable, rootMessage(err)
	case errors.Is(err, domain.ErrThumbnail):
		return fiber.StatusInternalServerError, domain.ErrThumbnail.Error()
	}
	return fiber.StatusInternalServerError, "Internal Server Error"
}

// rootMessage returns the message of the sentinel at the bottom of a chain
// so internal context does not leak to clients.
func rootMessage(err error) string {
	for _, sentinel := range []error{
		domain.ErrNoMedia, domain.ErrMixedMedia, domain.ErrInvalidCredentials,
		domain.ErrVideoTooLarge, domain.ErrImageTooLarge,
		domain.ErrInvalidAPIKey, domain.ErrTokenStoreNotReady,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
