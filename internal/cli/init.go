// Package cli holds the startup and shutdown steps shared by cmd/costlens and
// cmd/costlens-worker.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"costlens/internal/config"
	"costlens/internal/log"
)

// LoadEnvFile loads .env for local development. A missing file is fine.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger and makes it the slog default. An
// unknown level falls back to info and says so.
func SetupLogger(level, component string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	logger := log.New(log.Config{Level: lvl, Component: component})
	log.SetDefault(logger)
	if err != nil {
		logger.Warn("Unknown log level, using info", "log_level", level)
	}
	return logger
}

// LoadConfig reads the environment and exits the process when the
// configuration is invalid.
func LoadConfig() (*config.Config, *log.Logger) {
	cfg := config.Load()
	logger := SetupLogger(cfg.LogLevel, log.ComponentApp)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg, logger
}

// GracefulShutdown cancels the returned context on SIGINT or SIGTERM, then
// runs cleanup bounded by timeout. done closes when cleanup has returned.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return shutdownOn(sigChan, logger, timeout, cleanup)
}

func shutdownOn(sigChan <-chan os.Signal, logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			defer close(finished)
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
	}()

	return ctx, done
}

// WaitForShutdown blocks until the shutdown sequence has finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
