package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costlens/internal/ingest"
	"costlens/internal/log"
	"costlens/internal/metrics"
	"costlens/internal/middleware/ratelimit"
	"costlens/internal/services"
	"costlens/internal/store/memory"
)

type upload struct {
	name    string
	content string
}

func multipartBody(t *testing.T, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(UploadField, f.name)
		require.NoError(t, err)
		_, err = io.WriteString(part, f.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	logger := log.New(log.Config{Output: io.Discard})
	session := services.NewSession(memory.New(), services.Options{
		Importer: ingest.NewImporter(2),
		Logger:   logger,
	})
	opts.Logger = logger
	srv := NewServer(":0", session, metrics.New(), opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func importFixture(t *testing.T, srv *Server) services.ImportResult {
	t.Helper()
	body, ct := multipartBody(t,
		upload{"monthly-report-2024-05-111.csv", "product_name,cost\nAmazon S3,$0.09\nAmazon S3,$0.01\nAWS Config,0\n"},
		upload{"monthly-report-2024-06-222.csv", "product_name,cost\nEC2,2\nAmazon S3,1\n"},
		upload{"report-2024-05.csv", "product_name,cost\nEC2,9\n"},
	)
	rec := do(t, srv, http.MethodPost, "/api/reports", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[services.ImportResult](t, rec)
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := do(t, srv, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestImportAndViews(t *testing.T) {
	srv := newTestServer(t, Options{})
	res := importFixture(t, srv)
	require.Len(t, res.Imported, 2)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Error, "report-2024-05.csv")

	months := decode[map[string][]string](t, do(t, srv, http.MethodGet, "/api/months", nil, ""))
	assert.Equal(t, []string{"2024-05", "2024-06"}, months["months"])

	accounts := decode[map[string][]string](t, do(t, srv, http.MethodGet, "/api/accounts", nil, ""))
	assert.Equal(t, []string{"111", "222"}, accounts["accounts"])

	services := decode[map[string][]struct {
		Service string `json:"service"`
		Total   string `json:"total"`
	}](t, do(t, srv, http.MethodGet, "/api/services", nil, ""))
	require.Len(t, services["services"], 2)
	assert.Equal(t, "EC2", services["services"][0].Service)

	type chart struct {
		Mode   string                       `json:"mode"`
		Series []string                     `json:"series"`
		Rows   []map[string]json.RawMessage `json:"rows"`
		Total  string                       `json:"total"`
	}
	c := decode[chart](t, do(t, srv, http.MethodGet, "/api/chart", nil, ""))
	assert.Equal(t, "service", c.Mode)
	assert.Equal(t, []string{"EC2", "Amazon S3"}, c.Series)
	assert.Len(t, c.Rows, 2)
	assert.Equal(t, "3.1", c.Total)

	yearly := decode[chart](t, do(t, srv, http.MethodGet, "/api/chart/yearly", nil, ""))
	assert.Len(t, yearly.Rows, 1)

	total := decode[map[string]string](t, do(t, srv, http.MethodGet, "/api/total", nil, ""))
	assert.Equal(t, "3.1", total["total"])
}

func TestFilterRoutes(t *testing.T) {
	srv := newTestServer(t, Options{})
	importFixture(t, srv)

	type dimView struct {
		Selected []string `json:"selected"`
		Visible  []string `json:"visible"`
		Search   string   `json:"search"`
	}
	type filters struct {
		Mode       string             `json:"mode"`
		Dimensions map[string]dimView `json:"dimensions"`
	}

	rec := do(t, srv, http.MethodPost, "/api/filters/accounts/toggle", strings.NewReader(`{"key":"111"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	f := decode[filters](t, rec)
	assert.Equal(t, []string{"222"}, f.Dimensions["accounts"].Selected)

	rec = do(t, srv, http.MethodPost, "/api/filters/accounts/toggle", strings.NewReader(`{"key":"999"}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/filters/regions/all", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/filters/months/none", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[filters](t, rec).Dimensions["months"].Selected)

	total := decode[map[string]string](t, do(t, srv, http.MethodGet, "/api/total", nil, ""))
	assert.Equal(t, "0", total["total"])

	rec = do(t, srv, http.MethodPost, "/api/filters/months/all", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[filters](t, rec).Dimensions["months"].Selected, 2)

	rec = do(t, srv, http.MethodPut, "/api/filters/services/search", strings.NewReader(`{"query":"amazon"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	svc := decode[filters](t, rec).Dimensions["services"]
	assert.Equal(t, []string{"Amazon S3"}, svc.Visible)
	assert.Len(t, svc.Selected, 2)

	rec = do(t, srv, http.MethodPost, "/api/filters/services/top10", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[struct {
		Picked []string `json:"picked"`
	}](t, rec)
	assert.Equal(t, []string{"EC2", "Amazon S3"}, top.Picked)

	rec = do(t, srv, http.MethodPut, "/api/filters/mode", strings.NewReader(`{"mode":"account"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "account", decode[filters](t, rec).Mode)

	rec = do(t, srv, http.MethodPut, "/api/filters/mode", strings.NewReader(`{"mode":"region"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/filters/mode", strings.NewReader(`{"mode":"account","extra":1}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearRoute(t *testing.T) {
	srv := newTestServer(t, Options{})
	importFixture(t, srv)

	rec := do(t, srv, http.MethodDelete, "/api/reports", nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	months := decode[map[string][]string](t, do(t, srv, http.MethodGet, "/api/months", nil, ""))
	assert.Empty(t, months["months"])
	filters := do(t, srv, http.MethodGet, "/api/filters", nil, "")
	assert.Contains(t, filters.Body.String(), `"selected":[]`)
}

func TestUploadErrors(t *testing.T) {
	srv := newTestServer(t, Options{MaxUploadBytes: 256})

	big := upload{"monthly-report-2024-05-1.csv", "product_name,cost\n" + strings.Repeat("S3,1\n", 200)}
	body, ct := multipartBody(t, big)
	rec := do(t, srv, http.MethodPost, "/api/reports", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	body, ct = multipartBody(t)
	rec = do(t, srv, http.MethodPost, "/api/reports", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, upload{"report.csv", "product_name,cost\nS3,1\n"})
	rec = do(t, srv, http.MethodPost, "/api/reports", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	res := decode[services.ImportResult](t, rec)
	assert.Empty(t, res.Imported)
	require.Len(t, res.Failures, 1)
}

func TestMutationsAreRateLimited(t *testing.T) {
	srv := newTestServer(t, Options{RateLimit: ratelimit.Config{RequestsPerWindow: 2}})

	for i := 0; i < 2; i++ {
		rec := do(t, srv, http.MethodDelete, "/api/reports", nil, "")
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	rec := do(t, srv, http.MethodDelete, "/api/reports", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// reads are never limited
	rec = do(t, srv, http.MethodGet, "/api/chart", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// neither are filter changes
	for i := 0; i < 10; i++ {
		rec = do(t, srv, http.MethodPut, "/api/filters/mode", strings.NewReader(`{"mode":"account"}`), "application/json")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = do(t, srv, http.MethodPost, "/api/filters/services/all", nil, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	m := do(t, srv, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, m.Code)
	assert.Contains(t, m.Body.String(), "costlens_http_rate_limited_total 1")
}

func TestImportSurvivesCanceledRequest(t *testing.T) {
	srv := newTestServer(t, Options{})
	body, ct := multipartBody(t,
		upload{"monthly-report-2024-05-1.csv", "product_name,cost\nS3,1\n"},
		upload{"monthly-report-2024-06-1.csv", "product_name,cost\nS3,2\n"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/reports", body).WithContext(ctx)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[services.ImportResult](t, rec)
	assert.Len(t, res.Imported, 2)
	assert.Empty(t, res.Failures)

	months := decode[map[string][]string](t, do(t, srv, http.MethodGet, "/api/months", nil, ""))
	assert.Equal(t, []string{"2024-05", "2024-06"}, months["months"])
}
