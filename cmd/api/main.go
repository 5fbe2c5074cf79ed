package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/anddigital/diagnosis-platform/internal/api/router"
	"github.com/anddigital/diagnosis-platform/internal/archive"
	appconfig "github.com/anddigital/diagnosis-platform/internal/config"
	"github.com/anddigital/diagnosis-platform/internal/events"
	"github.com/anddigital/diagnosis-platform/internal/http/handlers"
	"github.com/anddigital/diagnosis-platform/internal/observability/metrics"
	"github.com/anddigital/diagnosis-platform/internal/reconcile"
	"github.com/anddigital/diagnosis-platform/internal/resultstore"
	"github.com/anddigital/diagnosis-platform/internal/workflow"
	"github.com/anddigital/diagnosis-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting diagnosis-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	redisClient := newRedisClient(cfg)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	cancelPing()

	store := resultstore.New(redisClient, cfg.ResultTTL, cfg.FormDraftTTL)
	bus := events.NewBus()

	archiveStore := archive.New(openArchiveDB(cfg, logger), logger)
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 15*time.Second)
	if err := archiveStore.EnsureSchema(schemaCtx); err != nil {
		logger.Error("failed to apply archive schema", "error", err)
	}
	cancelSchema()

	workflowClient, err := workflow.New(workflow.Config{
		BaseURL:    cfg.WorkflowBaseURL,
		APIKey:     cfg.WorkflowAPIKey,
		Endpoint:   cfg.WorkflowEndpoint,
		Timeout:    cfg.WorkflowTimeout,
		Logger:     logger.Logger,
		TenantKeys: cfg.TenantKeys(),
	})
	if err != nil {
		logger.Error("failed to build workflow client", "error", err)
		os.Exit(1)
	}

	reconcileMetrics := metrics.NewReconcileMetrics(nil)
	controller := reconcile.NewController(reconcile.Config{
		Store:        store,
		Bus:          bus,
		Runner:       workflowClient,
		Archiver:     archiveStore,
		Logger:       logger,
		Metrics:      reconcileMetrics,
		PollInterval: cfg.StorePollEvery,
		WaitTimeout:  cfg.WaitTimeout,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		Entry:              handlers.NewEntryHandler(controller, logger),
		Webhook:            handlers.NewWebhookHandler(controller, reconcileMetrics, cfg.PublicBaseURL, logger),
		Diagnosis:          handlers.NewDiagnosisHandler(controller, logger),
		Draft:              handlers.NewDraftHandler(store, logger),
		Archive:            handlers.NewArchiveHandler(archiveStore, logger),
		ResultsSocket:      handlers.NewResultsSocketHandler(controller, logger),
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SubmitRate:         1,
		SubmitBurst:        3,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Submissions block until the reconciliation window closes, so the
		// write timeout has to outlast WaitTimeout plus the provider call.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// openArchiveDB connects to Postgres when configured; the platform runs
// fine without it, just without the archive.
func openArchiveDB(cfg *appconfig.Config, logger *logging.Logger) *sql.DB {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, archive disabled")
		return nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open postgres", "error", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		logger.Warn("postgres unreachable, archive disabled", "error", err)
		_ = db.Close()
		return nil
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db
}
