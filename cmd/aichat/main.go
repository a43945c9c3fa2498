package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aichat/internal/config"
	"aichat/internal/crypto"
	"aichat/internal/kvstore"
	"aichat/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:   "aichat",
		Short: "Multi-provider AI chat server",
		Long:  "aichat serves a browser chat UI that streams completions from admin-configured AI providers.",
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	var logLevel string
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("loglevel") {
			setupLogger(logLevel)
		} else {
			setupLogger(os.Getenv("LOG_LEVEL"))
		}
		return nil
	}
	root.PersistentFlags().StringVar(&logLevel, "loglevel", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newSeedCmd(), newPasswdCmd(), newResealCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("aichat failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// backend is the opened configuration store plus the redis client, when one
// is configured, for callers that need it for rate limiting.
type backend struct {
	repo          storage.Repository
	redis         *redis.Client
	repoOwnsRedis bool
}

func (b *backend) Close() {
	if b.repo != nil {
		_ = b.repo.Close()
	}
	if b.redis != nil && !b.repoOwnsRedis {
		_ = b.redis.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, autoMigrate bool) (*backend, error) {
	sealer, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		return nil, fmt.Errorf("init crypto manager: %w", err)
	}

	b := &backend{}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	switch cfg.Backend {
	case config.BackendRedis:
		b.repo = kvstore.New(b.redis, cfg.Redis.Prefix, sealer)
		b.repoOwnsRedis = true
	default:
		store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, autoMigrate, cfg.DB.MigrationsDir, sealer)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		b.repo = store
	}
	return b, nil
}
