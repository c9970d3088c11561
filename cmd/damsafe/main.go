// Package main runs the damsafe collection service: the HTTP API, the daily
// collection schedule, the stall sweeper and the instrument event consumer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "time/tzdata"       // COLLECTION_TIMEZONE must resolve on minimal images

	"github.com/damsafe-io/damsafe/internal/api"
	"github.com/damsafe-io/damsafe/internal/api/middleware"
	"github.com/damsafe-io/damsafe/internal/cache"
	"github.com/damsafe-io/damsafe/internal/collection"
	"github.com/damsafe-io/damsafe/internal/events"
	"github.com/damsafe-io/damsafe/internal/jobs"
	"github.com/damsafe-io/damsafe/internal/metrics"
	"github.com/damsafe-io/damsafe/internal/readings"
	"github.com/damsafe-io/damsafe/internal/storage"
	"github.com/damsafe-io/damsafe/internal/telemetry"
)

const (
	name            = "damsafe"
	shutdownTimeout = 30 * time.Second
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	generateKey := flag.Bool("generate-key", false, "print a new API key and its bcrypt hash, then exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, api.Version)
		os.Exit(0)
	}

	if *generateKey {
		if err := printNewKey(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}

		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, serverConfig, logger); err != nil {
		logger.Error("damsafe stopped with error", slog.String("error", err.Error()))
		stop()
		os.Exit(1) //nolint: gocritic
	}

	logger.Info("damsafe service stopped")
}

func printNewKey(w io.Writer) error {
	key, err := storage.GenerateAPIKey()
	if err != nil {
		return err
	}

	hash, err := storage.HashAPIKey(key)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "key:     %s\nkeyHash: %s\n", key, hash)

	return err
}

//nolint: funlen
func run(ctx context.Context, serverConfig *api.ServerConfig, logger *slog.Logger) error {
	logger.Info("Starting damsafe service",
		slog.String("service", name),
		slog.String("version", api.Version),
		slog.String("address", serverConfig.Address()),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
	)

	m := metrics.New()

	stores, err := openStores(storage.LoadConfig(), logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	cacheConfig := cache.LoadConfig()

	cacheStore, err := cache.NewStore(ctx, cacheConfig)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if closer, ok := cacheStore.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	logger.Info("Cache initialized",
		slog.String("backend", cacheConfig.Backend),
		slog.Duration("ttl", cacheConfig.DefaultTTL))

	invalidator, err := cache.NewInvalidator(cacheStore,
		cache.WithLogger(logger), cache.WithFailureObserver(m))
	if err != nil {
		return fmt.Errorf("cache invalidator: %w", err)
	}

	loader := cache.NewLoader(cacheStore, invalidator, cacheConfig.DefaultTTL, logger)

	manager := jobs.NewManager(stores.jobs,
		jobs.WithFanout(invalidator), jobs.WithLoader(loader), jobs.WithLogger(logger))
	ingestor := readings.NewIngestor(stores.readings,
		readings.WithFanout(invalidator), readings.WithLogger(logger))
	reader := readings.NewReader(stores.readings, loader, 0)

	telemetryConfig := telemetry.LoadConfig()
	if err := telemetryConfig.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	collectionConfig := collection.LoadConfig()

	orch := collection.NewOrchestrator(
		telemetry.NewClient(telemetryConfig, telemetry.WithLogger(logger)),
		stores.instruments,
		ingestor,
		manager,
		telemetryConfig.Credentials(),
		collection.WithLocation(collectionConfig.Location),
		collection.WithObserver(m),
		collection.WithLogger(logger),
	)
	defer orch.Wait()

	if collectionConfig.Enabled {
		scheduler, err := collection.NewScheduler(orch, collectionConfig, logger)
		if err != nil {
			return err
		}

		scheduler.Start()

		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := scheduler.Stop(stopCtx); err != nil {
				logger.Warn("Scheduled collection still running at shutdown", slog.String("error", err.Error()))
			}
		}()
	} else {
		logger.Warn("Scheduled collection disabled", slog.String("note", "Set COLLECTION_ENABLED=true to enable"))
	}

	sweeper, err := jobs.NewSweeper(manager, jobs.LoadSweepConfig(), m, logger)
	if err != nil {
		return err
	}

	sweeper.Start()
	defer func() { _ = sweeper.Close() }()

	eventsConfig := events.LoadConfig()
	if eventsConfig.Enabled() {
		consumer, err := events.NewConsumer(eventsConfig, orch,
			events.WithObserver(m), events.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("instrument events: %w", err)
		}

		defer func() { _ = consumer.Close() }()

		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Instrument event consumer stopped", slog.String("error", err.Error()))
			}
		}()
	} else {
		logger.Warn("Instrument event consumer disabled", slog.String("note", "Set KAFKA_BROKERS to enable"))
	}

	deps := api.Dependencies{
		Collector:       orch,
		Jobs:            manager,
		Readings:        reader,
		MetricsHandler:  m.Handler(),
		RequestObserver: m,
		Readiness: append(stores.readiness,
			api.ReadinessCheck{Name: "cache", Check: cacheStore.Ping}),
		Logger: logger,
	}

	// Interface fields stay nil, not typed-nil, when a feature is off.
	if serverConfig.APIKeysFile != "" {
		keys, err := storage.LoadKeyFile(serverConfig.APIKeysFile)
		if err != nil {
			return fmt.Errorf("api keys: %w", err)
		}

		deps.KeyStore = keys

		logger.Info("API key authentication enabled", slog.Int("keys", keys.Len()))
	} else {
		logger.Warn("API key authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set API_KEYS_FILE to enable API key authentication"))
	}

	middlewareConfig := middleware.LoadConfig()
	deps.RateLimiter = middleware.NewInMemoryRateLimiter(middlewareConfig, logger)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("key_rps", middlewareConfig.KeyRPS),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS))

	err = api.NewServer(serverConfig, deps).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}
