// Package main is the entry point for the planguard API server.
//
// It loads configuration, opens the subscription and usage stores, builds the
// Stripe client, webhook reconciler and metrics backend, mounts every handler
// on the core chassis and serves until SIGINT or SIGTERM.
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

	"planguard/internal/api/handlers"
	"planguard/internal/app"
	"planguard/internal/billing"
	"planguard/internal/config"
	"planguard/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(os.Stdout, cfg.LogLevel).With("service", cfg.Service)
	slog.SetDefault(logger)
	logger.Info("planguard API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires every dependency into a mounted core.Server.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening stores: %w", err)
	}

	recorder, metricsHandler, err := app.NewRecorder(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating metrics recorder: %w", err)
	}

	prices, err := app.NewPrices(cfg)
	if err != nil {
		return nil, err
	}
	plans := billing.NewStaticPlanRegistry()
	stripeClient := app.NewStripeClient(cfg, logger)
	reconciler := app.NewReconciler(cfg, stripeClient, stores.Store, prices, recorder, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = recorder
	srv.MetricsHandler = metricsHandler
	srv.HealthProbes = stores.Probes
	srv.Closers = stores.Closers

	webhookHandler := handlers.NewStripeWebhookHandler(reconciler, logger)
	checkoutHandler := handlers.NewCheckoutHandler(stripeClient, prices, cfg.Billing, srv.Validator, logger)
	plansHandler := handlers.NewPlansHandler(plans, prices)
	meHandler := handlers.NewMeHandler(stores.Store, plans, logger)

	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, webhookHandler.RegisterRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		checkoutHandler.RegisterRoutes,
		plansHandler.RegisterRoutes,
		meHandler.RegisterRoutes,
	)
	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer serves until a shutdown signal or listener failure, then
// drains in-flight requests and closes the stores.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
