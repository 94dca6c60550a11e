// Package app assembles planguard's runtime dependencies from configuration.
// Both the HTTP server and the webhook Lambda build on it so the two entry
// points reconcile through identical stores, metrics and provider clients.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"planguard/internal/billing"
	"planguard/internal/config"
	"planguard/internal/core"
	"planguard/internal/db"
	"planguard/internal/external"
	"planguard/internal/metrics"
	"planguard/internal/store"
	"planguard/internal/supabase"
	"planguard/internal/types"
	"planguard/internal/usage"
	"planguard/internal/webhook"
)

// Stores is the opened persistence layer plus what is needed to probe and
// close it.
type Stores struct {
	Store   types.Store
	Probes  []core.HealthProbe
	Closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// OpenStores connects the subscription backend and the usage backend. On
// error everything opened so far is closed.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Stores, err error) {
	out := &Stores{}
	defer func() {
		if err != nil {
			for _, c := range out.Closers {
				_ = c.Close()
			}
		}
	}()

	var (
		subs        types.SubscriptionStore
		storeCounts types.UsageStore
	)
	switch cfg.Store.Backend {
	case config.BackendSupabase:
		sbStore, err := supabase.New(supabase.Config{
			URL:            cfg.Store.SupabaseURL,
			ServiceRoleKey: cfg.Store.SupabaseServiceRoleKey,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		subs, storeCounts = sbStore, sbStore

	default:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:             cfg.Store.DatabaseURL.Unmask(),
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: cfg.Store.MaxConnLifetime,
			MaxConnIdleTime: cfg.Store.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		out.Closers = append(out.Closers, closerFunc(func() error {
			pool.Close()
			return nil
		}))
		out.Probes = append(out.Probes, core.NewProbe("database", pool.Ping))

		if cfg.Store.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return nil, err
			}
			logger.Info("database schema applied")
		}
		subs = db.NewSubscriptionRepository(pool, logger)
		storeCounts = db.NewUsageRepository(pool)
	}

	counts := storeCounts
	if cfg.Usage.Backend == config.BackendRedis {
		client, err := usage.NewRedisClient(ctx, cfg.Usage.RedisURL.Unmask())
		if err != nil {
			return nil, err
		}
		out.Closers = append(out.Closers, client)
		out.Probes = append(out.Probes, core.NewProbe("usage", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		counts = usage.NewRedisCounter(client, cfg.Usage.CounterTTL)
	}

	out.Store = store.NewComposite(subs, counts)
	logger.Info("stores opened",
		"subscription_backend", cfg.Store.Backend,
		"usage_backend", cfg.Usage.Backend,
	)
	return out, nil
}

// NewRecorder builds the configured metrics backend. The handler is non-nil
// only for Prometheus, which is scraped rather than pushed.
func NewRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (metrics.Recorder, http.Handler, error) {
	switch cfg.Observability.MetricsBackend {
	case config.MetricsPrometheus:
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		p := metrics.NewPrometheus(registry, cfg.Observability.MetricNamespace)
		return p, p.Handler(), nil

	case config.MetricsCloudWatch:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Observability.AWSRegion))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger), nil, nil

	default:
		return metrics.Nop{}, nil, nil
	}
}

// NewPrices builds the price catalog from the billing section.
func NewPrices(cfg *config.Config) (*billing.PriceCatalog, error) {
	prices, err := billing.NewPriceCatalog(cfg.Billing.Prices())
	if err != nil {
		return nil, fmt.Errorf("building price catalog: %w", err)
	}
	return prices, nil
}

// NewStripeClient builds the provider client with its circuit breaker.
func NewStripeClient(cfg *config.Config, logger *slog.Logger) *external.StripeClient {
	httpClient := &http.Client{Timeout: cfg.Billing.ProviderTimeout + 5*time.Second}
	return external.NewStripeClient(httpClient, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey,
		BaseURL:   cfg.Billing.StripeAPIBase,
		UserAgent: cfg.Service + "/" + buildVersion(cfg),
		Logger:    logger,
	})
}

// NewReconciler wires the webhook reconciler.
func NewReconciler(
	cfg *config.Config,
	provider external.PaymentProvider,
	subs types.SubscriptionStore,
	prices *billing.PriceCatalog,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *webhook.Reconciler {
	return webhook.NewReconciler(webhook.Config{
		Secret:          cfg.Billing.StripeWebhookSecret,
		Verifier:        &external.StripeVerifier{},
		Provider:        provider,
		Store:           subs,
		Prices:          prices,
		Metrics:         recorder,
		Logger:          logger,
		ProviderTimeout: cfg.Billing.ProviderTimeout,
		StoreTimeout:    cfg.Billing.StoreTimeout,
		OrphanGrace:     cfg.Billing.OrphanGrace,
	})
}

// NewLogger builds the JSON slog logger for level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func buildVersion(cfg *config.Config) string {
	if cfg.Build.Version == "" {
		return "dev"
	}
	return cfg.Build.Version
}
