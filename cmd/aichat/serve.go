package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"aichat/internal/config"
	"aichat/internal/gate"
	"aichat/internal/metrics"
	"aichat/internal/providers/registry"
	"aichat/internal/ratelimit"
	"aichat/internal/server"
	"aichat/internal/session"
	"aichat/internal/storage"
)

func newServeCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.HTTP.ListenAddr = listenAddr
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen-addr", "", "Override LISTEN_ADDR (e.g. 127.0.0.1:8080)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log.Info().
		Str("backend", cfg.Backend).
		Str("db_driver", cfg.DB.Driver).
		Bool("env_global_auth", cfg.Auth.EnableGlobalAuth).
		Str("gate_failure_policy", cfg.Auth.StoreFailurePolicy).
		Msg("starting aichat")

	policy, err := gate.ParsePolicy(cfg.Auth.StoreFailurePolicy)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg, cfg.DB.AutoMigrate)
	if err != nil {
		return err
	}
	defer b.Close()
	store := storage.NewCached(b.repo, cfg.Cache.SettingsTTL)

	secret := cfg.Auth.SessionSecret
	if cfg.Auth.SessionSecretDefault {
		secret, err = session.RandomSecret()
		if err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		log.Warn().Msg("SESSION_SECRET is not set; using a random secret, sessions will not survive a restart")
	}
	sessions, err := session.NewManager(secret, cfg.Auth.SessionTTL, cfg.Auth.CookieSecure)
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}
	if cfg.Auth.AdminInitPassword == config.DefaultAdminPassword {
		log.Warn().Msg("ADMIN_INIT_PASSWORD is the built-in default; set an admin password from the dashboard")
	}

	m := metrics.Global()
	limitPrefix := ""
	if cfg.Redis.Prefix != "" {
		limitPrefix = cfg.Redis.Prefix + "login"
	}
	limiter := ratelimit.New(b.redis, limitPrefix, cfg.Rate.LoginPerHour)
	if !limiter.Enabled() {
		log.Warn().Msg("login rate limiting disabled (no REDIS_ADDR)")
	}

	srv := server.New(server.Config{
		Store:    store,
		Sessions: sessions,
		Gate: gate.New(gate.Options{
			Store:         store,
			Sessions:      sessions,
			EnvEnabled:    cfg.Auth.EnableGlobalAuth,
			FailurePolicy: policy,
			ExemptPaths:   []string{cfg.HTTP.HealthPath, cfg.HTTP.MetricsPath},
			Logger:        log.Logger,
		}),
		Limiter: limiter,
		ProviderOptions: registry.Options{
			HTTPClient: &http.Client{Timeout: cfg.Outbound.ClientTimeout},
			AppURL:     cfg.Outbound.AppURL,
			AppName:    cfg.Outbound.AppName,
		},
		AdminInitPassword: cfg.Auth.AdminInitPassword,
		EnvGlobalAuth:     cfg.Auth.EnableGlobalAuth,
		ChatMaxDuration:   cfg.Chat.MaxDuration,
		HealthPath:        cfg.HTTP.HealthPath,
		MetricsPath:       cfg.HTTP.MetricsPath,
		TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
		Logger:            log.Logger,
		Metrics:           m,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("runtime error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	log.Info().Msg("stopped")
	return runErr
}
