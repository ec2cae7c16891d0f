// Package cache keeps successful Firebase logins in redis so repeated logins
// with the same credentials do not hit the upstream.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"locket-relay/internal/infra/logging"
)

const (
	keyPrefix  = "login:"
	opTimeout  = time.Second
	expirySkew = 60 * time.Second
)

// LoginCache is safe to use as a nil pointer, which disables caching.
type LoginCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLoginCache returns nil when rdb is nil or ttl is not positive.
func NewLoginCache(rdb *redis.Client, ttl time.Duration) *LoginCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &LoginCache{rdb: rdb, ttl: ttl}
}

// Key derives the redis key for a credential pair. Credentials are never
// stored in clear.
func Key(email, password string) string {
	h := sha256.New()
	h.Write([]byte(email))
	h.Write([]byte{0})
	h.Write([]byte(password))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached login response. Redis failures count as a miss.
func (c *LoginCache) Get(ctx context.Context, email, password string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := Key(email, password)
	cached, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil, false
	}
	logging.Info("login cache hit", "key", key)
	return json.RawMessage(cached), true
}

// Set stores a login response until shortly before its id token expires.
func (c *LoginCache) Set(ctx context.Context, email, password string, resp json.RawMessage) {
	if c == nil {
		return
	}
	ttl := c.expiry(resp)
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, Key(email, password), []byte(resp), ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}

// expiry caps the configured TTL by the token lifetime reported in expiresIn.
func (c *LoginCache) expiry(resp json.RawMessage) time.Duration {
	var body struct {
		ExpiresIn json.RawMessage `json:"expiresIn"`
	}
	if err := json.Unmarshal(resp, &body); err != nil || len(body.ExpiresIn) == 0 {
		return c.ttl
	}
	raw := string(body.ExpiresIn)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return c.ttl
	}
	lifetime := time.Duration(seconds)*time.Second - expirySkew
	if lifetime < c.ttl {
		return lifetime
	}
	return c.ttl
}
