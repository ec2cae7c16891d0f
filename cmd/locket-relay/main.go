package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"locket-relay/internal/config"
	"locket-relay/internal/http/server"
	"locket-relay/internal/infra/cache"
	"locket-relay/internal/infra/ffmpeg"
	"locket-relay/internal/infra/imagecodec"
	"locket-relay/internal/infra/logging"
	"locket-relay/internal/infra/postgres"
	"locket-relay/internal/locket"
	"locket-relay/internal/relay"
	"locket-relay/internal/security"
	"locket-relay/internal/tokens"
)

const flagConfig = "config"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "locket-relay",
		Short:        "Relay that logs into Locket and posts photos and videos",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	root.PersistentFlags().String(flagConfig, "", "path to config.yaml (default: $CONFIG_PATH or ./config.yaml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	root.AddCommand(serve, tokensCmd())
	return root
}

func loadConfig(cmd *cobra.Command) config.Config {
	var cfg config.Config
	if path, _ := cmd.Flags().GetString(flagConfig); path != "" {
		cfg = config.LoadFrom(path)
	} else {
		cfg = config.Load()
	}
	applyEnv(&cfg)
	return cfg
}

// applyEnv lets common container env vars override config values.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("FFMPEG_BIN"); v != "" {
		cfg.Transcoder.FFmpegPath = v
	}
	if v := os.Getenv("LOGIN_SECRET"); v != "" {
		cfg.Security.LoginSecret = v
	}
	if v := os.Getenv("LOCKET_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
}

func runServe(cmd *cobra.Command) error {
	cfg := loadConfig(cmd)
	if err := ensureLogDir(cfg.Logger.File); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	logging.SetLogLevel(cfg.Logger.Level)

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.SessionDB,
		})
		defer func() { _ = rdb.Close() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := tokens.NewCache()
	if cfg.Auth.Enabled() {
		dsn, err := postgres.DSN(cfg.Auth)
		if err != nil {
			return fmt.Errorf("postgres dsn: %w", err)
		}
		db := postgres.NewDB()
		defer func() { _ = db.Close() }()
		reloader := tokens.NewReloader(postgres.NewTokenRepository(db, dsn), store, cfg.Auth.TokenReloadInterval)
		if err := reloader.LoadOnce(ctx); err != nil {
			logging.Error("Failed to load API tokens", "error", err)
		}
		reloader.Start(ctx)
	} else {
		// No token database: every X-API-Key is unknown, anonymous access only.
		store.Replace(nil)
	}

	app := server.New(server.Deps{
		Config: cfg,
		Relay:  newRelay(cfg, rdb),
		Tokens: store,
	})

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
	return nil
}

func newRelay(cfg config.Config, rdb *redis.Client) *relay.Service {
	deps := relay.Deps{
		Upstream:   locket.NewClient(cfg.Upstream),
		Transcoder: ffmpeg.New(cfg.Transcoder),
		Images:     imagecodec.NewEncoder(cfg.Media),
		Decrypter:  security.NewDecrypter(cfg.Security.LoginSecret),
		Buckets:    cfg.Upstream,
		Limits:     cfg.Limits,
	}
	if cfg.Cache.LoginCacheEnabled {
		if lc := cache.NewLoginCache(rdb, cfg.Cache.LoginCacheTTL); lc != nil {
			deps.Cache = lc
		}
	}
	return relay.NewService(deps)
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}

func ensureLogDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage API tokens accepted in the X-API-Key header",
	}

	add := &cobra.Command{
		Use:   "add <token>",
		Short: "Create or update an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := tokenRepository(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			limit, _ := cmd.Flags().GetInt("rate-limit")
			comment, _ := cmd.Flags().GetString("comment")
			if err := repo.AddToken(cmd.Context(), args[0], limit, comment); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token saved (rate limit %d/interval)\n", limit)
			return nil
		},
	}
	add.Flags().Int("rate-limit", tokens.DefaultRateLimit, "requests per rate limiter interval, 0 for unlimited")
	add.Flags().String("comment", "", "free-form note stored with the token")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeDB, err := tokenRepository(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			list, err := repo.ListTokens(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOKEN\tRATE LIMIT\tCREATED\tCOMMENT")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", t.Token, t.RateLimit, t.CreatedAt.Format(time.RFC3339), t.Comment)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func tokenRepository(cmd *cobra.Command) (*postgres.TokenRepository, func(), error) {
	cfg := loadConfig(cmd)
	if !cfg.Auth.Enabled() {
		return nil, nil, fmt.Errorf("auth.postgres_dsn or auth.postgres.host must be configured")
	}
	dsn, err := postgres.DSN(cfg.Auth)
	if err != nil {
		return nil, nil, err
	}
	db := postgres.NewDB()
	return postgres.NewTokenRepository(db, dsn), func() { _ = db.Close() }, nil
}
