// Package main is the entry point for the PitchCraft API server.
//
// It loads configuration, connects the durable storage backend (wrapping it
// in the one-way failover facade), wires the metering, billing, auth, and
// external collaborators, builds the HTTP server with the core chassis, and
// serves until interrupted.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"pitchcraft/internal/api/handlers"
	"pitchcraft/internal/auth"
	"pitchcraft/internal/billing"
	"pitchcraft/internal/config"
	"pitchcraft/internal/core"
	"pitchcraft/internal/db"
	"pitchcraft/internal/external"
	"pitchcraft/internal/metering"
	"pitchcraft/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("pitchcraft API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: durable backend behind the one-way failover facade. A dead
	// database at boot degrades to memory instead of crash-looping.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	pgStore := db.NewPgStore(pool, logger)
	memStore := store.NewMemoryStore()
	storage := store.NewFailover(ctx, pgStore, memStore, cfg.Database.CallTimeout, logger)

	// Domain services.
	plans := billing.NewStaticPlanRegistry()
	evaluator := metering.NewEvaluator(storage, plans, cfg.Quota.AnonymousAllowance, logger)
	ledger := metering.NewLedger(storage, plans, cfg.Quota.AnonymousAllowance, logger)
	orchestrator := metering.NewOrchestrator(evaluator, ledger, logger)
	subscriptions := billing.NewSubscriptionMachine(storage, plans, logger)

	signer := auth.NewTokenSigner(cfg.Auth.SessionKey, cfg.Auth.SessionTTL)
	accounts := auth.NewService(storage, auth.NewBcryptHasher(cfg.Auth.BcryptCost), signer, logger)

	// External collaborators.
	generator := external.NewCompletionClient(&http.Client{Timeout: cfg.Generation.Timeout}, cfg.Generation, logger)
	stripeClient, err := external.NewStripeClient(&http.Client{Timeout: 30 * time.Second}, cfg.Billing, logger)
	if err != nil {
		return fmt.Errorf("creating stripe client: %w", err)
	}
	webhookParser := external.NewWebhookParser(cfg.Billing.StripeWebhookSecret)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, signer, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Storage = storage

	accountsHandler := handlers.NewAccountsHandler(accounts, cfg.Environment != "local", logger, srv.Validator)
	meteringHandler := handlers.NewMeteringHandler(evaluator, orchestrator, logger)
	messagesHandler := handlers.NewMessagesHandler(orchestrator, generator, storage, logger, srv.Validator)
	billingHandler := handlers.NewBillingHandler(stripeClient, storage, plans, cfg.Server.AppURL, logger, srv.Validator)
	webhookHandler := handlers.NewStripeWebhookHandler(webhookParser, subscriptions, logger)

	srv.V1RouteRegistrars = []func(chi.Router){
		accountsHandler.RegisterRoutes,
		meteringHandler.RegisterRoutes,
		messagesHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	}
	srv.WebhookRegistrars = []func(chi.Router){
		webhookHandler.RegisterRoutes,
	}

	srv.MountRoutes()

	return serve(ctx, srv, cfg, logger)
}

// serve runs the HTTP server until the context is cancelled, then shuts it
// down gracefully within the configured deadline.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
