// Package http exposes a session over a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"costlens/internal/aggregate"
	"costlens/internal/config"
	"costlens/internal/filter"
	"costlens/internal/ingest"
	"costlens/internal/log"
	"costlens/internal/metrics"
	"costlens/internal/middleware/ratelimit"
	"costlens/internal/middleware/security"
	"costlens/internal/middleware/trace"
	"costlens/internal/services"
)

const reportsPath = "/api/reports"

// ReportSession is the engine the handlers drive. *services.Session
// satisfies it.
type ReportSession interface {
	Import(ctx context.Context, sources []ingest.Source) (services.ImportResult, error)
	Clear(ctx context.Context) error

	Toggle(d filter.Dimension, key string) error
	SelectAll(d filter.Dimension) error
	ClearSelection(d filter.Dimension) error
	Top10(ctx context.Context) ([]string, error)
	SetSearch(d filter.Dimension, text string) error
	SetMode(m aggregate.Mode) error
	Filters() filter.View

	Months(ctx context.Context) ([]string, error)
	Accounts(ctx context.Context) ([]string, error)
	Services(ctx context.Context) ([]aggregate.Ranked, error)
	Chart(ctx context.Context) (aggregate.View, error)
	YearlyChart(ctx context.Context) (aggregate.View, error)
	GrandTotal(ctx context.Context) (decimal.Decimal, error)
	Ready(ctx context.Context) error
}

type Options struct {
	MaxUploadBytes int64
	RateLimit      ratelimit.Config
	Logger         *log.Logger
}

type Server struct {
	http.Server
	session   ReportSession
	metrics   *metrics.Metrics
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	logger    *log.Logger
	maxUpload int64
	started   time.Time

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, session ReportSession, m *metrics.Metrics, opts Options) *Server {
	if m == nil {
		m = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = config.DefaultMaxUploadBytes
	}

	s := &Server{
		session:   session,
		metrics:   m,
		limiter:   ratelimit.NewLimiter(opts.RateLimit),
		detector:  security.NewDetector(),
		logger:    opts.Logger.WithComponent(log.ComponentHTTP),
		maxUpload: opts.MaxUploadBytes,
		started:   time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("POST "+reportsPath, s.handleImport)
	mux.HandleFunc("DELETE "+reportsPath, s.handleClear)
	mux.HandleFunc("GET /api/months", s.handleMonths)
	mux.HandleFunc("GET /api/accounts", s.handleAccounts)
	mux.HandleFunc("GET /api/services", s.handleServices)

	mux.HandleFunc("GET /api/filters", s.handleFilters)
	mux.HandleFunc("POST /api/filters/{dimension}/toggle", s.handleToggle)
	mux.HandleFunc("POST /api/filters/{dimension}/all", s.handleSelectAll)
	mux.HandleFunc("POST /api/filters/{dimension}/none", s.handleSelectNone)
	mux.HandleFunc("POST /api/filters/services/top10", s.handleTop10)
	mux.HandleFunc("PUT /api/filters/{dimension}/search", s.handleSearch)
	mux.HandleFunc("PUT /api/filters/mode", s.handleMode)

	mux.HandleFunc("GET /api/chart", s.handleChart)
	mux.HandleFunc("GET /api/chart/yearly", s.handleYearlyChart)
	mux.HandleFunc("GET /api/total", s.handleTotal)

	tracer := trace.NewMiddleware(s.detector.ClientIP, opts.Logger, m)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	// Filter changes are cheap and come in bursts from the UI; only uploads and
	// clears are limited.
	limit := s.limiter.Middleware(s.detector.ClientIP, ratelimit.MutatingOn(reportsPath), s.onRateLimited)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = s.detector.Middleware(func(*http.Request) { m.SuspiciousRequest() })(handler)
	handler = headers.Middleware(handler)
	handler = log.RequestIDMiddleware(trace.RequestIDFromRequest)(handler)
	handler = log.Middleware(s.logger)(handler)
	handler = tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s
}

func (s *Server) onRateLimited(r *http.Request) {
	s.metrics.RateLimited()
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
}

// Shutdown stops the limiter and then the HTTP server, once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
