package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of config.yaml.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Limits      LimitsConfig      `yaml:"limits"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Auth        AuthConfig        `yaml:"auth"`
	Security    SecurityConfig    `yaml:"security"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Media       MediaConfig       `yaml:"media"`
	Transcoder  TranscoderConfig  `yaml:"transcoder"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Prefork     bool   `yaml:"prefork"`
	BodyLimitMB int    `yaml:"body_limit_mb"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type LimitsConfig struct {
	MaxVideoBytes int64 `yaml:"max_video_bytes"`
	// MaxImageBytes of 0 leaves images bounded by the request body limit only.
	MaxImageBytes int64 `yaml:"max_image_bytes"`
}

type CacheConfig struct {
	RedisHost         string        `yaml:"redis_host"`
	RateLimitDB       int           `yaml:"rate_limit_db"`
	SessionDB         int           `yaml:"session_db"`
	LoginCacheEnabled bool          `yaml:"login_cache_enabled"`
	LoginCacheTTL     time.Duration `yaml:"login_cache_ttl"`
}

type RateLimiterConfig struct {
	Interval               time.Duration `yaml:"interval"`
	EnableUserLimiter      bool          `yaml:"enable_user_limiter"`
	UserLimit              int           `yaml:"user_limit"`
	EnableTokenRateLimiter bool          `yaml:"enable_token_rate_limiter"`
}

type AuthConfig struct {
	PostgresDSN         string         `yaml:"postgres_dsn"`
	Postgres            PostgresConfig `yaml:"postgres"`
	TokenReloadInterval time.Duration  `yaml:"token_reload_interval"`
}

// PostgresConfig is the discrete form of a DSN. Host may also carry a full
// postgres:// URL.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether an API token database is configured.
func (a AuthConfig) Enabled() bool {
	return a.PostgresDSN != "" || a.Postgres.Host != ""
}

type SecurityConfig struct {
	// LoginSecret is the CryptoJS passphrase used by clients to encrypt
	// login fields. Empty disables decryption.
	LoginSecret string `yaml:"login_secret"`
}

type UpstreamConfig struct {
	LoginURL       string        `yaml:"login_url"`
	APIKey         string        `yaml:"api_key"`
	CreatePostURL  string        `yaml:"create_post_url"`
	StorageBaseURL string        `yaml:"storage_base_url"`
	ImageBucket    string        `yaml:"image_bucket"`
	VideoBucket    string        `yaml:"video_bucket"`
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	AuthUserAgent  string        `yaml:"auth_user_agent"`
	StorageVersion string        `yaml:"storage_version"`
	FirebaseGMPID  string        `yaml:"firebase_gmpid"`
	AcceptLanguage string        `yaml:"accept_language"`
	IOSBundleID    string        `yaml:"ios_bundle_id"`
	ClientVersion  string        `yaml:"client_version"`
}

type MediaConfig struct {
	TempDir          string `yaml:"temp_dir"`
	WebPImages       bool   `yaml:"webp_images"`
	ImageQuality     int    `yaml:"image_quality"`
	MaxImageWidth    int    `yaml:"max_image_width"`
	ThumbnailWidth   int    `yaml:"thumbnail_width"`
	ThumbnailQuality int    `yaml:"thumbnail_quality"`
}

type TranscoderConfig struct {
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	VideoCodec   string        `yaml:"video_codec"`
	AudioCodec   string        `yaml:"audio_codec"`
	VideoBitrate string        `yaml:"video_bitrate"`
	Size         string        `yaml:"size"`
	Preset       string        `yaml:"preset"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Default returns a Config populated with the values used when a key is
// absent from config.yaml.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":3000"
	cfg.Server.BodyLimitMB = 50

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7

	cfg.Limits.MaxVideoBytes = 10 * 1024 * 1024

	cfg.Cache.SessionDB = 2
	cfg.Cache.LoginCacheTTL = 30 * time.Minute

	cfg.RateLimiter.Interval = time.Minute
	cfg.RateLimiter.EnableTokenRateLimiter = true

	cfg.Auth.TokenReloadInterval = time.Minute

	cfg.Upstream.LoginURL = "https://www.googleapis.com/identitytoolkit/v3/relyingparty/verifyPassword"
	cfg.Upstream.CreatePostURL = "https://api.locketcamera.com/postMomentV2"
	cfg.Upstream.StorageBaseURL = "https://firebasestorage.googleapis.com"
	cfg.Upstream.ImageBucket = "locket-img"
	cfg.Upstream.VideoBucket = "locket-video"
	cfg.Upstream.Timeout = 60 * time.Second
	cfg.Upstream.UserAgent = "com.locket.Locket/1.43.1 iPhone/17.3 hw/iPhone15_3 (GTMSUF/1)"
	cfg.Upstream.AuthUserAgent = "FirebaseAuth.iOS/10.23.1 com.locket.Locket/1.43.1 iPhone/17.3 hw/iPhone15_3"
	cfg.Upstream.StorageVersion = "ios/10.13.0"
	cfg.Upstream.FirebaseGMPID = "1:641029076083:ios:cc8eb46290d69b234fa609"
	cfg.Upstream.AcceptLanguage = "vi-VN,vi;q=0.9"
	cfg.Upstream.IOSBundleID = "com.locket.Locket"
	cfg.Upstream.ClientVersion = "iOS/FirebaseSDK/10.23.1/FirebaseCore-iOS"

	cfg.Media.TempDir = filepath.Join(os.TempDir(), "locket-relay")
	cfg.Media.WebPImages = true
	cfg.Media.ImageQuality = 90
	cfg.Media.ThumbnailWidth = 720
	cfg.Media.ThumbnailQuality = 90

	cfg.Transcoder.FFmpegPath = "ffmpeg"
	cfg.Transcoder.VideoCodec = "libx264"
	cfg.Transcoder.AudioCodec = "aac"
	cfg.Transcoder.VideoBitrate = "1000k"
	cfg.Transcoder.Size = "1280x720"
	cfg.Transcoder.Preset = "fast"
	cfg.Transcoder.Timeout = 2 * time.Minute
	return cfg
}

// Load reads the file named by CONFIG_PATH, or config.yaml.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the YAML file at path. It panics when the file
// cannot be read or holds invalid values; a relay without a usable config
// must not start.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("read config %s: %v", path, err))
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("parse config %s: %v", path, err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", path, err))
	}
	return cfg
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	switch {
	case c.RateLimiter.Interval <= 0:
		return fmt.Errorf("rate_limiter.interval must be positive")
	case c.RateLimiter.UserLimit < 0:
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	case c.Auth.Enabled() && c.Auth.TokenReloadInterval <= 0:
		return fmt.Errorf("auth.token_reload_interval must be positive")
	case c.Limits.MaxVideoBytes <= 0:
		return fmt.Errorf("limits.max_video_bytes must be positive")
	case c.Limits.MaxImageBytes < 0:
		return fmt.Errorf("limits.max_image_bytes must not be negative")
	case c.Media.ImageQuality < 1 || c.Media.ImageQuality > 100:
		return fmt.Errorf("media.image_quality must be within 1..100")
	case c.Media.ThumbnailQuality < 1 || c.Media.ThumbnailQuality > 100:
		return fmt.Errorf("media.thumbnail_quality must be within 1..100")
	case c.Media.ThumbnailWidth <= 0:
		return fmt.Errorf("media.thumbnail_width must be positive")
	case c.Upstream.LoginURL == "" || c.Upstream.CreatePostURL == "" || c.Upstream.StorageBaseURL == "":
		return fmt.Errorf("upstream urls must be set")
	case c.Upstream.ImageBucket == "" || c.Upstream.VideoBucket == "":
		return fmt.Errorf("upstream buckets must be set")
	}
	return nil
}
