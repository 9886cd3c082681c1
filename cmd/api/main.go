package main

import (
	"context"
	"errors"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/joho/godotenv"

	"gatehouse/internal/activity"
	"gatehouse/internal/admin"
	"gatehouse/internal/breach"
	"gatehouse/internal/config"
	transporthttp "gatehouse/internal/http"
	"gatehouse/internal/identity"
	"gatehouse/internal/mail"
	"gatehouse/internal/platform/database"
	"gatehouse/internal/platform/logging"
	"gatehouse/internal/platform/migrate"
	"gatehouse/internal/ratelimit"
	"gatehouse/internal/tabs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Best-effort .env load for local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)

	repo, settingsRepo, cleanup, err := buildRepositories(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	var identityOpts []identity.Option
	if cfg.PasswordBreachCheck {
		identityOpts = append(identityOpts, identity.WithBreachChecker(breach.NewChecker(nil)))
	}

	identitySvc := identity.NewService(repo, buildMailer(cfg, logger), identity.Config{
		Secret:         []byte(cfg.JWTSecret),
		SiteURL:        cfg.SiteURL,
		AccessTokenTTL: cfg.AccessTokenTTL,
		SessionTTL:     cfg.SessionTTL,
		OneTimeTTL:     cfg.ConfirmationTTL,
	}, logger, identityOpts...)
	adminSvc := admin.NewService(repo, settingsRepo, logger)

	if cfg.UseInMemoryStore() {
		seedLocalAccounts(ctx, repo, logger)
	}

	registry := tabs.NewRegistry(tabs.NewMemoryStore(), logger)
	go registry.RunSweeper(ctx, time.Hour)

	policy := activity.Policy{
		Timeout:       cfg.InactivityTimeout,
		WarningWindow: cfg.InactivityWarning,
		MaxAge:        cfg.SessionMaxAge,
	}
	monitor := activity.NewMonitor(identitySvc, policy, 30*time.Second, logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	limiter := ratelimit.NewLimiter(5, time.Minute)
	go runSessionCleanup(ctx, identitySvc, limiter, logger)

	var google *identity.GoogleAuthenticator
	if cfg.GoogleEnabled() {
		google, err = identity.NewGoogleAuthenticator(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			logger.Error("failed to initialize google sign-in", "error", err)
			os.Exit(1)
		}
	}

	router := transporthttp.NewRouter(cfg, transporthttp.Deps{
		Identity: identitySvc,
		Admin:    adminSvc,
		Registry: registry,
		Policy:   policy,
		Limiter:  limiter,
		Google:   google,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("Gatehouse API listening", "addr", srv.Addr, "store", cfg.DataStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildRepositories(ctx context.Context, cfg config.Config, logger *slog.Logger) (identity.Repository, admin.SettingsRepository, func(), error) {
	if cfg.UseInMemoryStore() {
		logger.Info("using in-memory repository")
		return identity.NewMemoryRepository(), admin.NewMemorySettingsRepository(), nil, nil
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = db.Close()
	}

	if err := migrate.Apply(ctx, db, logger); err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	logger.Info("connected to postgres")
	return identity.NewPostgresRepository(db), admin.NewPostgresSettingsRepository(db), cleanup, nil
}

func buildMailer(cfg config.Config, logger *slog.Logger) identity.Mailer {
	if cfg.SMTPAddr == "" {
		logger.Info("no SMTP relay configured, logging outbound mail")
		return mail.NewLogMailer(logger)
	}

	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		host := cfg.SMTPAddr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, host)
	}
	return mail.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, auth)
}

func runSessionCleanup(ctx context.Context, svc *identity.Service, limiter *ratelimit.Limiter, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			limiter.Prune()
			deleted, err := svc.CleanupExpiredSessions(ctx)
			if err != nil {
				logger.Error("session cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("removed expired sessions", "count", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}
