package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	notifyadapter "github.com/pacphi/ampel-sub003/internal/adapter/driven/notify"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider"
	"github.com/pacphi/ampel-sub003/internal/adapter/driven/provider/retry"
	sqliteadapter "github.com/pacphi/ampel-sub003/internal/adapter/driven/sqlite"
	httphandler "github.com/pacphi/ampel-sub003/internal/adapter/driving/http"
	"github.com/pacphi/ampel-sub003/internal/application/aggregation"
	"github.com/pacphi/ampel-sub003/internal/application/auth"
	"github.com/pacphi/ampel-sub003/internal/application/scheduler"
	"github.com/pacphi/ampel-sub003/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"default_poll_interval_seconds", cfg.DefaultPollIntervalSeconds,
		"worker_pool_size", cfg.WorkerPoolSize,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire the Domain Store adapters.
	userStore := sqliteadapter.NewUserRepo(db)
	refreshTokenStore := sqliteadapter.NewRefreshTokenRepo(db)
	repoStore := sqliteadapter.NewRepoRepo(db)
	prStore := sqliteadapter.NewPRRepo(db)
	checkStore := sqliteadapter.NewCheckRepo(db)
	reviewStore := sqliteadapter.NewReviewRepo(db)
	accountStore := sqliteadapter.NewProviderAccountRepo(db)
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.EncryptionKey)
	settingsStore := sqliteadapter.NewSettingsRepo(db)

	if cfg.EncryptionKey == nil {
		slog.Warn("no encryption key configured, provider credentials cannot be stored until one is set")
	}

	// 6. Wire the provider factory with the retry policy (stored by the
	// GitHub adapter, which does not call retry.Do), the per-request
	// timeout, and the base URL defaults (only the GitHub adapter is built
	// with one).
	retryPolicy := retry.NewPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)
	factory := provider.NewFactory(cfg.RateLimitSafetyMargin, retryPolicy, cfg.RequestTimeout, cfg.ProviderBaseURLs)

	// 7. Wire the application services.
	authSvc := auth.New(userStore, refreshTokenStore, auth.Config{
		JWTSecret:       cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
	})

	agg := aggregation.New(repoStore, prStore, checkStore, reviewStore)

	sched := scheduler.New(repoStore, prStore, checkStore, reviewStore, accountStore, credentialStore, factory, scheduler.Config{
		TickInterval:          time.Duration(cfg.MinPollIntervalSeconds) * time.Second,
		WorkerPoolSize:        cfg.WorkerPoolSize,
		PerAccountConcurrency: cfg.PerAccountConcurrency,
	})
	go sched.Start(ctx)

	slackNotifier := notifyadapter.NewSlackNotifier()
	emailNotifier, err := notifyadapter.NewEmailNotifier(cfg.SendGridAPIKey, cfg.SendGridSenderAddress)
	if err != nil {
		return err
	}

	// 8. Create the HTTP handler and apply middleware.
	handler := httphandler.NewServeMux(httphandler.Dependencies{
		Auth:                   authSvc,
		Scheduler:              sched,
		Aggregator:             agg,
		Repos:                  repoStore,
		PRs:                    prStore,
		Accounts:               accountStore,
		Credentials:            credentialStore,
		Factory:                factory,
		Settings:               settingsStore,
		Slack:                  slackNotifier,
		Email:                  emailNotifier,
		MinPollIntervalSeconds: cfg.MinPollIntervalSeconds,
		Logger:                 slog.Default(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	// 9. Log startup complete.
	slog.Info("ampelhub started", "listen_addr", cfg.ListenAddr)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 11. Graceful shutdown with 10s timeout for the HTTP server drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
