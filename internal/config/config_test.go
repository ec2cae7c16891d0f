package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFrom_Valid(t *testing.T) {
	p := writeConfig(t, `server:
  port: ":9000"
rate_limiter:
  interval: 1h
  enable_user_limiter: true
  user_limit: 20
auth:
  postgres_dsn: "postgres://x"
  token_reload_interval: 2m
limits:
  max_video_bytes: 2048
upstream:
  api_key: "k"
  image_bucket: "img"
`)
	cfg := LoadFrom(p)
	if cfg.Server.Port != ":9000" {
		t.Fatalf("unexpected port: %q", cfg.Server.Port)
	}
	if cfg.RateLimiter.UserLimit != 20 || cfg.RateLimiter.Interval != time.Hour {
		t.Fatalf("unexpected rate limiter: %+v", cfg.RateLimiter)
	}
	if cfg.Limits.MaxVideoBytes != 2048 {
		t.Fatalf("unexpected max_video_bytes: %d", cfg.Limits.MaxVideoBytes)
	}
	if cfg.Upstream.ImageBucket != "img" || cfg.Upstream.VideoBucket != "locket-video" {
		t.Fatalf("expected bucket override and default, got %q %q", cfg.Upstream.ImageBucket, cfg.Upstream.VideoBucket)
	}
	if !cfg.Auth.Enabled() {
		t.Fatalf("expected auth enabled with dsn")
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg := LoadFrom(writeConfig(t, "server:\n  host: 127.0.0.1\n"))
	if cfg.Limits.MaxVideoBytes != 10*1024*1024 {
		t.Fatalf("expected 10MB video limit, got %d", cfg.Limits.MaxVideoBytes)
	}
	if cfg.Media.ThumbnailWidth != 720 || cfg.Media.ThumbnailQuality != 90 {
		t.Fatalf("unexpected thumbnail defaults: %+v", cfg.Media)
	}
	if cfg.Transcoder.Size != "1280x720" || cfg.Transcoder.VideoBitrate != "1000k" {
		t.Fatalf("unexpected transcoder defaults: %+v", cfg.Transcoder)
	}
	if cfg.Auth.Enabled() {
		t.Fatalf("auth should be disabled without postgres settings")
	}
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "invalid rate interval", yml: "rate_limiter:\n  interval: 0s\n"},
		{name: "negative user limit", yml: "rate_limiter:\n  user_limit: -1\n"},
		{name: "invalid reload interval", yml: "auth:\n  postgres_dsn: 'x'\n  token_reload_interval: 0s\n"},
		{name: "zero video limit", yml: "limits:\n  max_video_bytes: 0\n"},
		{name: "bad thumbnail quality", yml: "media:\n  thumbnail_quality: 101\n"},
		{name: "missing bucket", yml: "upstream:\n  video_bucket: ''\n"},
		{name: "malformed yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoadFrom_PanicsOnMissingFile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, `security:
  login_secret: "from-env"
`)
	t.Setenv("CONFIG_PATH", p)
	cfg := Load()
	if cfg.Security.LoginSecret != "from-env" {
		t.Fatalf("expected CONFIG_PATH to be used")
	}
}
