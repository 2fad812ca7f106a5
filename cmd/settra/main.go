// Package main is the entry point for the Settra transaction server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ferreiralabs/settra/internal/config"
	"github.com/ferreiralabs/settra/internal/engine"
	"github.com/ferreiralabs/settra/internal/idempotency"
	"github.com/ferreiralabs/settra/internal/notify"
	"github.com/ferreiralabs/settra/internal/observability"
	"github.com/ferreiralabs/settra/internal/stage"
	"github.com/ferreiralabs/settra/internal/store"
	"github.com/ferreiralabs/settra/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "settra", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Stage pipeline. The built-in definitions cover the full purchase
	// lifecycle from initiation to completion; a definitions file overrides
	// them per deployment.
	registry := stage.Default()
	if cfg.Pipeline.DefinitionsFile != "" {
		registry, err = stage.FromFile(cfg.Pipeline.DefinitionsFile)
		if err != nil {
			logger.Error("pipeline definitions failed to load", zap.Error(err))
			return 1
		}
		logger.Info("pipeline definitions loaded", zap.String("file", cfg.Pipeline.DefinitionsFile))
	}

	txStore, txStoreCloser, err := buildTransactionStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("transaction store initialization failed", zap.Error(err))
		return 1
	}

	dispatcher := notify.NewDispatcher(logger, cfg.Notifications.QueueSize)

	validators := engine.NewValidators()
	eng := engine.New(registry, txStore, validators, dispatcher, logger)

	idemStore, idemCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)

	readinessChecks := observability.ReadinessChecks{
		PipelineLoaded: func() bool { return len(registry.Definitions()) > 0 },
	}
	if hc, ok := txStore.(observability.HealthChecker); ok {
		readinessChecks.TransactionStore = hc
	}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readinessChecks.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Engine:         eng,
		Dispatcher:     dispatcher,
		Authenticate:   transport.JWTAuthenticator(cfg.Identity, jwks),
		Idempotency:    idemStore,
		IdempotencyTTL: cfg.Idempotency.Store.DefaultTTL,
		Metrics:        metrics,
		Readiness:      readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background tasks: deadline sweeping and notification delivery.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runDeadlineSweeper(bgCtx, eng, cfg.Pipeline.DeadlineSweepInterval, logger)

	if cfg.Notifications.DeliveryEnabled {
		worker := notify.NewWorker(dispatcher, &notify.LogTransport{Logger: logger}, logger)
		go worker.Run(bgCtx)
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("stages", len(registry.Definitions())),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if txStoreCloser != nil {
		txStoreCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildTransactionStore creates the transaction store based on config.
func buildTransactionStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.TransactionStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory transaction store")
		return store.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("transaction store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("transaction store: ping: %w", err)
		}

		pg := store.NewPgStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("transaction store: schema: %w", err)
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transaction store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns nil when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store",
				zap.String("addr_env", cfg.Store.AddrEnv))
			return idempotency.NewMemoryStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return idempotency.NewRedisStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil
	}
}

// runDeadlineSweeper periodically scans active transactions for stages
// approaching or past their time budget and emits warning notifications.
func runDeadlineSweeper(ctx context.Context, eng *engine.Engine, interval time.Duration, logger *zap.Logger) {
	if interval == 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.SweepDeadlines(ctx); err != nil {
				logger.Error("deadline sweep failed", zap.Error(err))
			}
		}
	}
}
