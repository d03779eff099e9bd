package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"costlens/internal/amqp"
	"costlens/internal/backend"
	"costlens/internal/cache"
	"costlens/internal/cli"
	apphttp "costlens/internal/http"
	"costlens/internal/ingest"
	"costlens/internal/log"
	"costlens/internal/metrics"
	"costlens/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadConfig()

	logger.Info("Starting costlens",
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"amqp_enabled", cfg.AMQPEnabled(),
		log.FieldOperation, log.OpStartup)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	storeLogger := logger.WithComponent(log.ComponentStorage)
	result, err := backend.NewFactory(storeLogger.Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize store", "error", err, "store_backend", cfg.StoreBackend)
		os.Exit(1)
	}

	// Report events are optional; the dashboard works without a broker.
	var (
		publisher  services.Publisher
		amqpClient *amqp.Client
	)
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, report events disabled", "error", err)
			amqpClient = nil
		} else {
			publisher = amqpClient
			logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	m := metrics.New()
	session := services.NewSession(result.Store, services.Options{
		Importer:      ingest.NewImporter(cfg.ImportConcurrency),
		Publisher:     publisher,
		Metrics:       m,
		Logger:        logger,
		ViewCacheSize: cfg.ViewCacheSize,
		ViewCacheTTL:  cfg.ViewCacheTTL,
	})

	cacheManager := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	for _, c := range session.Caches() {
		cacheManager.Register(c)
	}
	cacheManager.StartCleanup(cfg.ViewCacheTTL)

	srv := apphttp.NewServer(":"+cfg.Port, session, m, apphttp.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 120 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cacheManager.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("Failed to close AMQP client", "error", err)
			}
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	})

	logger.Info("Server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed to start", "error", err, "addr", srv.Addr)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped")
}
