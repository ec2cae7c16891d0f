package middleware

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
)

type fakeTokenRater struct{ limit int }

func (f fakeTokenRater) RateLimit(token string) int { return f.limit }

func withAPIKey(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(APIKeyLocal, token)
		return c.Next()
	}
}

func TestTokenRateLimit_Enforced(t *testing.T) {
	app := fiber.New()
	cfg := RateLimitConfig{RateInterval: time.Hour, EnableTokenRateLimiter: true}

	app.Use(withAPIKey("abc"))
	app.Use(TokenRateLimit(cfg, fakeTokenRater{limit: 1}, memoryStorage.New(), NewLimiterCache()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req, _ := http.NewRequest(http.MethodGet, "/", nil)

	resp1, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp1.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp1.StatusCode)
	}

	resp2, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp2.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp2.StatusCode)
	}
	body, _ := io.ReadAll(resp2.Body)
	if !strings.Contains(string(body), "Too many requests") {
		t.Fatalf("expected JSON body to mention rate limit, got %q", string(body))
	}
}

func TestTokenRateLimit_DisabledOrUnlimited(t *testing.T) {
	for name, tc := range map[string]struct {
		enabled bool
		limit   int
	}{
		"disabled":  {enabled: false, limit: 1},
		"unlimited": {enabled: true, limit: 0},
	} {
		t.Run(name, func(t *testing.T) {
			app := fiber.New()
			cfg := RateLimitConfig{RateInterval: time.Hour, EnableTokenRateLimiter: tc.enabled}
			app.Use(withAPIKey("abc"))
			app.Use(TokenRateLimit(cfg, fakeTokenRater{limit: tc.limit}, memoryStorage.New(), NewLimiterCache()))
			app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			for i := 0; i < 3; i++ {
				resp, err := app.Test(httptestRequest())
				if err != nil {
					t.Fatalf("request failed: %v", err)
				}
				if resp.StatusCode != fiber.StatusOK {
					t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
				}
			}
		})
	}
}

func TestTokenRateLimit_TokensAreIsolated(t *testing.T) {
	store := memoryStorage.New()
	cache := NewLimiterCache()
	cfg := RateLimitConfig{RateInterval: time.Hour, EnableTokenRateLimiter: true}

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(APIKeyLocal, c.Get("X-API-Key"))
		return c.Next()
	})
	app.Use(TokenRateLimit(cfg, fakeTokenRater{limit: 1}, store, cache))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	send := func(token string) int {
		req := httptestRequest()
		req.Header.Set("X-API-Key", token)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp.StatusCode
	}

	if got := send("a"); got != fiber.StatusOK {
		t.Fatalf("expected 200 for first token, got %d", got)
	}
	if got := send("b"); got != fiber.StatusOK {
		t.Fatalf("second token must have its own budget, got %d", got)
	}
	if got := send("a"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 for exhausted token, got %d", got)
	}
	if len(cache.handlers) != 1 {
		t.Fatalf("tokens sharing a limit must share a limiter, got %d", len(cache.handlers))
	}
}

func TestUserRateLimit_PublicLimitedButTokenBypasses(t *testing.T) {
	cfg := RateLimitConfig{RateInterval: time.Hour, EnableUserLimiter: true, UserLimit: 1}

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if key := c.Get("X-API-Key"); key != "" {
			c.Locals(APIKeyLocal, key)
		}
		return c.Next()
	})
	app.Use(UserRateLimit(cfg, memoryStorage.New()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	publicReq := httptestRequest()
	publicReq.Header.Set("User-Agent", "public-client")
	resp1, err := app.Test(publicReq)
	if err != nil {
		t.Fatalf("public request failed: %v", err)
	}
	if resp1.StatusCode != fiber.StatusOK {
		t.Fatalf("expected first public request to pass, got %d", resp1.StatusCode)
	}

	resp2, err := app.Test(publicReq)
	if err != nil {
		t.Fatalf("public request failed: %v", err)
	}
	if resp2.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected second public request to be rate limited, got %d", resp2.StatusCode)
	}

	tokenReq := httptestRequest()
	tokenReq.Header.Set("User-Agent", "public-client")
	tokenReq.Header.Set("X-API-Key", "abc")
	resp3, err := app.Test(tokenReq)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	if resp3.StatusCode != fiber.StatusOK {
		t.Fatalf("expected token-authenticated request to bypass user limiter, got %d", resp3.StatusCode)
	}
}

func TestUserRateLimit_DisabledWithoutLimit(t *testing.T) {
	cfg := RateLimitConfig{RateInterval: time.Hour, EnableUserLimiter: true}
	app := fiber.New()
	app.Use(UserRateLimit(cfg, memoryStorage.New()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptestRequest())
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}
}

func httptestRequest() *http.Request {
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	return req
}
