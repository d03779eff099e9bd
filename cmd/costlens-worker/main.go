package main

import (
	"context"
	"errors"
	"os"
	"time"

	"costlens/internal/amqp"
	"costlens/internal/cli"
	"costlens/internal/log"
	"costlens/internal/sheets"
	gsheet "costlens/internal/sheets/google"
	mem "costlens/internal/sheets/memory"
	"costlens/internal/worker"
)

const consumeRetryDelay = 5 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg, appLogger := cli.LoadConfig()
	logger := appLogger.WithComponent(log.ComponentWorker)

	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the export worker")
		os.Exit(1)
	}

	var exporter sheets.SummaryExporter
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(context.Background(), gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = client
		logger.Info("Exporting summaries to Google Sheets", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		exporter = mem.New()
		logger.Info("Google Sheets not configured, keeping summaries in memory")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to connect to AMQP", "error", err)
		os.Exit(1)
	}

	w := worker.NewExportWorker(exporter, cfg.ExportTimeout)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Error("Failed to close AMQP client", "error", err)
		}
	})

	go func() {
		for {
			err := amqpClient.ConsumeReportImported(ctx, w.HandleReportImported)
			if ctx.Err() != nil {
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Consumer stopped, retrying", "error", err, "retry_in", consumeRetryDelay)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(consumeRetryDelay):
			}
		}
	}()

	logger.Info("Export worker started", "queue", cfg.AMQPQueue, log.FieldOperation, log.OpStartup)
	cli.WaitForShutdown(ctx, done)

	exported, failed := w.Stats()
	logger.Info("Export worker stopped", "exported", exported, "failed", failed)
}
