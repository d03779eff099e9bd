// Package metrics exposes import and view counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "costlens"

// Metrics holds the collectors on a private registry so tests and multiple
// servers never collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	batches        prometheus.Counter
	filesImported  prometheus.Counter
	filesFailed    prometheus.Counter
	parseWarnings  prometheus.Counter
	skippedRows    prometheus.Counter
	storeClears    prometheus.Counter
	eventsFailed   prometheus.Counter
	viewCache      *prometheus.CounterVec
	importDuration prometheus.Histogram
	storedReports  prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   prometheus.Histogram
	rateLimited    prometheus.Counter
	suspicious     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_batches_total",
			Help:      "Upload batches processed.",
		}),
		filesImported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_imported_total",
			Help:      "Files turned into monthly reports.",
		}),
		filesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Files rejected as a whole.",
		}),
		parseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_warnings_total",
			Help:      "Malformed CSV records, including ones past the per-file cap.",
		}),
		skippedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_rows_total",
			Help:      "Rows dropped by cost normalization.",
		}),
		storeClears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_clears_total",
			Help:      "Clear-all operations.",
		}),
		eventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_failed_total",
			Help:      "Report events that could not be published.",
		}),
		viewCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_cache_lookups_total",
			Help:      "Memoized view lookups by cache and result.",
		}, []string{"cache", "result"}),
		importDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Time to parse and store one upload batch.",
			Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 30},
		}),
		storedReports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_reports",
			Help:      "Monthly reports currently held by the session.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests refused by the per-client rate limiter.",
		}),
		suspicious: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_suspicious_requests_total",
			Help:      "Requests matching a known attack pattern.",
		}),
	}
	m.Registry.MustRegister(
		m.batches, m.filesImported, m.filesFailed, m.parseWarnings, m.skippedRows,
		m.storeClears, m.eventsFailed, m.viewCache, m.importDuration, m.storedReports,
		m.httpRequests, m.httpDuration, m.rateLimited, m.suspicious,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveBatch records one finished upload batch.
func (m *Metrics) ObserveBatch(imported, failed, warnings, skipped int, seconds float64) {
	m.batches.Inc()
	m.filesImported.Add(float64(imported))
	m.filesFailed.Add(float64(failed))
	m.parseWarnings.Add(float64(warnings))
	m.skippedRows.Add(float64(skipped))
	m.importDuration.Observe(seconds)
}

func (m *Metrics) ObserveClear() { m.storeClears.Inc() }

func (m *Metrics) SetStoredReports(n int) { m.storedReports.Set(float64(n)) }

func (m *Metrics) PublishFailed() { m.eventsFailed.Inc() }

func (m *Metrics) CacheHit(name string) { m.viewCache.WithLabelValues(name, "hit").Inc() }

func (m *Metrics) CacheMiss(name string) { m.viewCache.WithLabelValues(name, "miss").Inc() }

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, seconds float64) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.Observe(seconds)
}

func (m *Metrics) RateLimited() { m.rateLimited.Inc() }

func (m *Metrics) SuspiciousRequest() { m.suspicious.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
