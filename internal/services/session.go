package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"costlens/internal/aggregate"
	"costlens/internal/amqp"
	"costlens/internal/cache"
	"costlens/internal/core"
	"costlens/internal/filter"
	"costlens/internal/ingest"
	"costlens/internal/log"
	"costlens/internal/metrics"
	"costlens/internal/store"
)

const (
	DefaultViewCacheSize = 128
	DefaultViewCacheTTL  = 5 * time.Minute

	chartCacheName  = "chart"
	yearlyCacheName = "yearly"
)

// Publisher announces stored reports. The AMQP client satisfies it.
type Publisher interface {
	PublishReportImported(ctx context.Context, msg *amqp.ReportImportedMessage) error
}

type Options struct {
	Importer      *ingest.Importer
	Publisher     Publisher        // optional
	Metrics       *metrics.Metrics // optional
	Logger        *log.Logger
	ViewCacheSize int
	ViewCacheTTL  time.Duration
}

// Session owns one report store and the filter state over it. Mutations go
// through Import, Clear and the filter operations; reads aggregate a store
// snapshot.
type Session struct {
	mu       sync.Mutex
	store    store.Store
	filters  *filter.State
	importer *ingest.Importer

	publisher Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger
	events    *log.StructuredLogger

	charts *cache.Memo[aggregate.View]
	yearly *cache.Memo[aggregate.View]
}

func NewSession(st store.Store, opts Options) *Session {
	if opts.Importer == nil {
		opts.Importer = ingest.NewImporter(ingest.DefaultConcurrency)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.ViewCacheSize <= 0 {
		opts.ViewCacheSize = DefaultViewCacheSize
	}
	if opts.ViewCacheTTL <= 0 {
		opts.ViewCacheTTL = DefaultViewCacheTTL
	}
	var observer cache.Observer
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	logger := opts.Logger.WithComponent(log.ComponentSession)
	return &Session{
		store:     st,
		filters:   filter.New(),
		importer:  opts.Importer,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
		charts:    cache.NewMemo[aggregate.View](chartCacheName, opts.ViewCacheSize, opts.ViewCacheTTL, observer),
		yearly:    cache.NewMemo[aggregate.View](yearlyCacheName, opts.ViewCacheSize, opts.ViewCacheTTL, observer),
	}
}

// Caches exposes the view memos so a cache.Manager can expire them.
func (s *Session) Caches() []cache.Cleaner {
	return []cache.Cleaner{s.charts, s.yearly}
}

type ImportedReport struct {
	FileName     string          `json:"file_name"`
	Month        string          `json:"month"`
	Identity     string          `json:"identity"`
	IsAccount    bool            `json:"is_account"`
	Total        decimal.Decimal `json:"total"`
	ServiceCount int             `json:"service_count"`
	RowCount     int             `json:"row_count"`
	SkippedRows  int             `json:"skipped_rows"`
	WarningCount int             `json:"warning_count"`
}

type FileFailure struct {
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

// ImportResult is what one upload batch produced.
type ImportResult struct {
	BatchID  string           `json:"batch_id"`
	Version  uint64           `json:"version"`
	Imported []ImportedReport `json:"imported"`
	Failures []FileFailure    `json:"failures"`
	Warnings []string         `json:"warnings"`
}

// Import parses every source, stores the good reports in input order and
// refreshes the filter universe. A bad file never blocks the others, and
// event publishing never fails the import.
func (s *Session) Import(ctx context.Context, sources []ingest.Source) (ImportResult, error) {
	start := time.Now()
	batch := s.importer.Parse(ctx, sources)

	res := ImportResult{
		BatchID:  batch.BatchID,
		Imported: []ImportedReport{},
		Failures: []FileFailure{},
		Warnings: []string{},
	}
	for _, f := range batch.Failures {
		res.Failures = append(res.Failures, FileFailure{FileName: f.FileName, Error: f.Error()})
	}

	s.mu.Lock()
	var (
		stored  []ingest.FileResult
		skipped int
		warned  int
	)
	for _, fr := range batch.Reports {
		if err := s.store.Upsert(ctx, fr.Report); err != nil {
			if errors.Is(err, store.ErrClosed) {
				s.mu.Unlock()
				return res, fmt.Errorf("import batch %s: %w", batch.BatchID, err)
			}
			res.Failures = append(res.Failures, FileFailure{
				FileName: fr.FileName,
				Error:    fmt.Sprintf("failed to store %s: %v", fr.FileName, err),
			})
			continue
		}
		stored = append(stored, fr)
		skipped += fr.Report.SkippedRows
		warned += fr.WarningCount
		for _, w := range fr.Warnings {
			res.Warnings = append(res.Warnings, w.String())
		}
		res.Imported = append(res.Imported, importedReport(fr))
	}
	snap, err := s.observeLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return res, fmt.Errorf("import batch %s: %w", batch.BatchID, err)
	}
	res.Version = snap.Version

	for _, fr := range stored {
		s.publish(ctx, amqp.NewReportImportedMessage(batch.BatchID, snap.Version, fr.Report))
	}

	if s.metrics != nil {
		s.metrics.ObserveBatch(len(res.Imported), len(res.Failures), warned, skipped, time.Since(start).Seconds())
		s.metrics.SetStoredReports(snap.Len())
	}
	s.events.LogBatchImported(ctx, batch.BatchID, len(res.Imported), len(res.Failures), warned, snap.Version)
	return res, nil
}

func importedReport(fr ingest.FileResult) ImportedReport {
	r := fr.Report
	return ImportedReport{
		FileName:     fr.FileName,
		Month:        r.Month,
		Identity:     r.IdentityKey(),
		IsAccount:    r.Identity.IsAccount(),
		Total:        r.Total,
		ServiceCount: r.Services.Len(),
		RowCount:     r.RowCount,
		SkippedRows:  r.SkippedRows,
		WarningCount: fr.WarningCount,
	}
}

func (s *Session) publish(ctx context.Context, msg *amqp.ReportImportedMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishReportImported(ctx, msg); err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailed()
		}
		s.events.LogError(ctx, "Failed to publish report event", err, log.ComponentAMQP, log.OpPublish,
			log.NewFields().WithReport(msg.FileName, msg.Month, msg.Identity, len(msg.Services)))
	}
}

// observeLocked feeds the current universe to the filter state. Services are
// ranked over every account so the universe does not shrink when accounts
// are deselected.
func (s *Session) observeLocked(ctx context.Context) (core.Snapshot, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	accounts := aggregate.RankedAccounts(snap)
	s.filters.Observe(filter.Universe{
		Accounts: accounts,
		Months:   snap.MonthList(),
		Services: aggregate.ServiceNames(aggregate.RankedServices(snap, accounts)),
	})
	return snap, nil
}

// Clear drops every report, selection and memoized view.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	s.filters.Reset()
	s.charts.Purge()
	s.yearly.Purge()
	if s.metrics != nil {
		s.metrics.ObserveClear()
		s.metrics.SetStoredReports(0)
	}
	s.logger.InfoContext(ctx, "Session cleared", log.FieldOperation, log.OpClear)
	return nil
}

func (s *Session) Toggle(d filter.Dimension, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Toggle(d, key)
}

func (s *Session) SelectAll(d filter.Dimension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.SelectAll(d)
}

func (s *Session) ClearSelection(d filter.Dimension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.ClearSelection(d)
}

// Top10 selects the ten most expensive services under the current account
// selection.
func (s *Session) Top10(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	ranked := aggregate.RankedServices(snap, s.filters.Selected(filter.Accounts))
	return s.filters.SelectTop10(aggregate.ServiceNames(ranked)), nil
}

func (s *Session) SetSearch(d filter.Dimension, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.SetSearch(d, text)
}

func (s *Session) SetMode(m aggregate.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.SetMode(m)
}

func (s *Session) Filters() filter.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.View()
}

func (s *Session) Selection() aggregate.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters.Selection()
}

func (s *Session) Months(ctx context.Context) ([]string, error) {
	months, err := s.store.Months(ctx)
	if err != nil {
		return nil, fmt.Errorf("list months: %w", err)
	}
	return months, nil
}

func (s *Session) Accounts(ctx context.Context) ([]string, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return aggregate.RankedAccounts(snap), nil
}

// Services ranks services under the current account selection.
func (s *Session) Services(ctx context.Context) ([]aggregate.Ranked, error) {
	snap, sel, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return aggregate.RankedServices(snap, sel.Accounts), nil
}

func (s *Session) Chart(ctx context.Context) (aggregate.View, error) {
	snap, sel, err := s.read(ctx)
	if err != nil {
		return aggregate.View{}, err
	}
	return s.charts.GetOrCompute(cache.Key(snap.Version, sel.Fingerprint()), func() aggregate.View {
		return aggregate.Chart(snap, sel)
	}), nil
}

func (s *Session) YearlyChart(ctx context.Context) (aggregate.View, error) {
	snap, sel, err := s.read(ctx)
	if err != nil {
		return aggregate.View{}, err
	}
	return s.yearly.GetOrCompute(cache.Key(snap.Version, sel.Fingerprint()), func() aggregate.View {
		return aggregate.YearlyChart(snap, sel)
	}), nil
}

func (s *Session) GrandTotal(ctx context.Context) (decimal.Decimal, error) {
	view, err := s.Chart(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return view.Total, nil
}

// read takes a snapshot and the selection together so they agree.
func (s *Session) read(ctx context.Context) (core.Snapshot, aggregate.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return core.Snapshot{}, aggregate.Selection{}, fmt.Errorf("snapshot: %w", err)
	}
	return snap, s.filters.Selection(), nil
}

// Ready reports whether the store still answers.
func (s *Session) Ready(ctx context.Context) error {
	_, err := s.store.Months(ctx)
	return err
}

func (s *Session) Close() error {
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
