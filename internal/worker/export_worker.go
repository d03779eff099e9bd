// Package worker consumes report events and exports them as summaries.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"costlens/internal/amqp"
	"costlens/internal/log"
	"costlens/internal/sheets"
)

const DefaultExportTimeout = 30 * time.Second

// ExportWorker turns ReportImported events into spreadsheet rows. A message
// redelivered after a successful export is acknowledged without exporting
// again.
type ExportWorker struct {
	exporter sheets.SummaryExporter
	timeout  time.Duration

	mu       sync.Mutex
	exported map[string]string // dedupe key -> exporter ref
	failures int
}

func NewExportWorker(exporter sheets.SummaryExporter, timeout time.Duration) *ExportWorker {
	if timeout <= 0 {
		timeout = DefaultExportTimeout
	}
	return &ExportWorker{
		exporter: exporter,
		timeout:  timeout,
		exported: make(map[string]string),
	}
}

// HandleReportImported exports one message. Returning an error makes the
// consumer requeue it.
func (w *ExportWorker) HandleReportImported(ctx context.Context, msg *amqp.ReportImportedMessage) error {
	key := msg.BatchID + "|" + msg.Month + "|" + msg.Identity
	w.mu.Lock()
	ref, done := w.exported[key]
	w.mu.Unlock()
	if done {
		slog.InfoContext(ctx, "Skipping already exported report",
			"batch_id", msg.BatchID,
			"month", msg.Month,
			"identity", msg.Identity,
			"ref", ref)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ref, err := w.exporter.ExportSummary(ctx, SummaryFromMessage(msg))
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		return fmt.Errorf("export %s/%s: %w", msg.Month, msg.Identity, err)
	}

	w.mu.Lock()
	w.exported[key] = ref
	w.mu.Unlock()

	slog.InfoContext(ctx, "Exported report summary",
		log.FieldComponent, log.ComponentWorker,
		log.FieldOperation, log.OpExport,
		log.FieldBatchID, msg.BatchID,
		log.FieldMonth, msg.Month,
		log.FieldIdentity, msg.Identity,
		log.FieldServiceCount, len(msg.Services),
		log.FieldTotal, msg.Total,
		"ref", ref)
	return nil
}

// Stats reports how many summaries were exported and how many attempts failed.
func (w *ExportWorker) Stats() (exported, failed int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.exported), w.failures
}

func SummaryFromMessage(msg *amqp.ReportImportedMessage) sheets.Summary {
	s := sheets.Summary{
		Month:     msg.Month,
		Identity:  msg.Identity,
		AccountID: msg.AccountID,
		FileName:  msg.FileName,
		Total:     msg.Total,
		Services:  make([]sheets.Line, 0, len(msg.Services)),
	}
	for _, l := range msg.Services {
		s.Services = append(s.Services, sheets.Line{Service: l.Service, Cost: l.Cost})
	}
	return s
}
