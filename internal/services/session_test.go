package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costlens/internal/aggregate"
	"costlens/internal/amqp"
	"costlens/internal/filter"
	"costlens/internal/ingest"
	"costlens/internal/log"
	"costlens/internal/metrics"
	"costlens/internal/store/memory"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.ReportImportedMessage
	err  error
}

func (p *fakePublisher) PublishReportImported(_ context.Context, msg *amqp.ReportImportedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func csvFile(name string, rows ...string) ingest.Source {
	return ingest.BytesSource(name, []byte("product_name,cost\n"+strings.Join(rows, "\n")+"\n"))
}

func newTestSession(pub Publisher, m *metrics.Metrics) *Session {
	return NewSession(memory.New(), Options{
		Importer:  ingest.NewImporter(2),
		Publisher: pub,
		Metrics:   m,
		Logger:    log.New(log.Config{Output: io.Discard}),
	})
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestImportStoresGoodFilesAndReportsBadOnes(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	m := metrics.New()
	s := newTestSession(pub, m)

	res, err := s.Import(ctx, []ingest.Source{
		csvFile("monthly-report-2024-05-111.csv", "Amazon S3,$0.09", "Amazon S3,$0.01", "AWS Config,0"),
		csvFile("report-2024-05.csv", "EC2,5"),
		csvFile("monthly-report-2024-06-222.csv", "EC2,2", "bad\"quote,1"),
	})
	require.NoError(t, err)

	require.Len(t, res.Imported, 2)
	assert.Equal(t, "monthly-report-2024-05-111.csv", res.Imported[0].FileName)
	assert.True(t, res.Imported[0].Total.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, 1, res.Imported[0].SkippedRows)
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0].Error, "report-2024-05.csv")
	assert.Len(t, res.Warnings, 1)
	assert.NotEmpty(t, res.BatchID)

	// the first data selects everything
	sel := s.Selection()
	assert.Equal(t, []string{"111", "222"}, sel.Accounts)
	assert.Equal(t, []string{"2024-05", "2024-06"}, sel.Months)
	assert.ElementsMatch(t, []string{"Amazon S3", "EC2"}, sel.Services)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, res.BatchID, pub.msgs[0].BatchID)
	assert.Equal(t, "111", pub.msgs[0].Identity)

	assert.Equal(t, 2.0, counterValue(t, m, "costlens_files_imported_total"))
	assert.Equal(t, 1.0, counterValue(t, m, "costlens_files_failed_total"))

	total, err := s.GrandTotal(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("2.10")), "got %s", total)
}

func TestImportReplacesSameMonthAndAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(nil, nil)

	_, err := s.Import(ctx, []ingest.Source{csvFile("monthly-report-2024-05-1.csv", "S3,1")})
	require.NoError(t, err)
	_, err = s.Import(ctx, []ingest.Source{csvFile("monthly-report-2024-05-1.csv", "S3,4")})
	require.NoError(t, err)

	view, err := s.Chart(ctx)
	require.NoError(t, err)
	require.Len(t, view.Rows, 1)
	v, ok := view.Rows[0].Series.Get("S3")
	require.True(t, ok)
	assert.True(t, v.Equal(decimal.NewFromInt(4)))
}

func TestLaterKeysAreNotAutoSelected(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(nil, nil)

	_, err := s.Import(ctx, []ingest.Source{csvFile("monthly-report-2024-05-1.csv", "S3,1")})
	require.NoError(t, err)
	_, err = s.Import(ctx, []ingest.Source{csvFile("monthly-report-2024-06-2.csv", "EC2,1")})
	require.NoError(t, err)

	sel := s.Selection()
	assert.Equal(t, []string{"1"}, sel.Accounts)
	assert.Equal(t, []string{"2024-05"}, sel.Months)
	assert.Equal(t, []string{"S3"}, sel.Services)

	view := s.Filters()
	assert.Equal(t, []string{"1", "2"}, view.Dimensions[filter.Accounts].Visible)

	require.NoError(t, s.Toggle(filter.Accounts, "2"))
	assert.Equal(t, []string{"1", "2"}, s.Selection().Accounts)
	assert.ErrorIs(t, s.Toggle(filter.Accounts, "nope"), filter.ErrUnknownKey)
}

func TestClearResetsEverything(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	s := newTestSession(nil, m)

	_, err := s.Import(ctx, []ingest.Source{csvFile("monthly-report-2024-05-1.csv", "S3,1")})
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))

	months, err := s.Months(ctx)
	require.NoError(t, err)
	assert.Empty(t, months)
	sel := s.Selection()
	assert.Empty(t, sel.Accounts)
	assert.Empty(t, sel.Months)
	assert.Empty(t, sel.Services)
	assert.Empty(t, s.Filters().Dimensions[filter.Services].Visible)

	total, err := s.GrandTotal(ctx)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	// data after a clear initializes the selection again
	_, err = s.Import(ctx, []ingest.Source{csvFile("monthly-report-2024-07-9.csv", "EC2,1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"9"}, s.Selection().Accounts)
	assert.Equal(t, 1.0, counterValue(t, m, "costlens_store_clears_total"))
}

func TestTop10FollowsSelectedAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(nil, nil)

	var rows []string
	for i := 1; i <= 12; i++ {
		rows = append(rows, fmt.Sprintf("svc-%02d,%d", i, i))
	}
	_, err := s.Import(ctx, []ingest.Source{
		csvFile("monthly-report-2024-05-1.csv", rows...),
		csvFile("monthly-report-2024-05-2.csv", "Cheap,0.5"),
	})
	require.NoError(t, err)

	picked, err := s.Top10(ctx)
	require.NoError(t, err)
	require.Len(t, picked, 10)
	assert.Equal(t, "svc-12", picked[0])
	assert.Equal(t, "svc-03", picked[9])
	assert.Len(t, s.Selection().Services, 10)

	require.NoError(t, s.ClearSelection(filter.Accounts))
	require.NoError(t, s.Toggle(filter.Accounts, "2"))
	picked, err = s.Top10(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cheap"}, picked)

	ranked, err := s.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cheap"}, aggregate.ServiceNames(ranked))
}

func TestPublishFailureDoesNotFailImport(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{err: errors.New("broker down")}
	m := metrics.New()
	s := newTestSession(pub, m)

	res, err := s.Import(ctx, []ingest.Source{csvFile("monthly-report-2024-05-1.csv", "S3,1")})
	require.NoError(t, err)
	assert.Len(t, res.Imported, 1)
	assert.Len(t, pub.msgs, 1)
	assert.Equal(t, 1.0, counterValue(t, m, "costlens_events_publish_failed_total"))
}

func TestChartIsMemoizedPerVersionAndSelection(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	s := newTestSession(nil, m)

	_, err := s.Import(ctx, []ingest.Source{csvFile("monthly-report-2024-05-1.csv", "S3,1", "EC2,2")})
	require.NoError(t, err)

	first, err := s.Chart(ctx)
	require.NoError(t, err)
	second, err := s.Chart(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"EC2", "S3"}, first.Series)

	require.NoError(t, s.SetMode(aggregate.ModeAccount))
	byAccount, err := s.Chart(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, byAccount.Series)

	yearly, err := s.YearlyChart(ctx)
	require.NoError(t, err)
	require.Len(t, yearly.Rows, 1)
	assert.Equal(t, "2024", yearly.Rows[0].Month)

	assert.Equal(t, 4.0, counterValue(t, m, "costlens_view_cache_lookups_total"))
}

func TestClosedStoreFailsImport(t *testing.T) {
	s := newTestSession(nil, nil)
	require.NoError(t, s.Close())

	_, err := s.Import(context.Background(), []ingest.Source{csvFile("monthly-report-2024-05-1.csv", "S3,1")})
	require.Error(t, err)
	assert.Error(t, s.Ready(context.Background()))
}

func TestCreditRowsAreDropped(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(nil, nil)

	res, err := s.Import(ctx, []ingest.Source{
		csvFile("monthly-report-2024-05-1.csv", "Amazon S3,$10.00", "AWS Credits,-$25.00"),
	})
	require.NoError(t, err)
	require.Len(t, res.Imported, 1)
	assert.True(t, res.Imported[0].Total.Equal(decimal.NewFromInt(10)), "got %s", res.Imported[0].Total)
	assert.Equal(t, 1, res.Imported[0].ServiceCount)
	assert.Equal(t, 1, res.Imported[0].SkippedRows)

	services, err := s.Services(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "Amazon S3", services[0].Service)

	total, err := s.GrandTotal(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(10)), "got %s", total)
}
