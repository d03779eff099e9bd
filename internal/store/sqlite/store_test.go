package sqlite

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costlens/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func report(month, account string, pairs ...core.ServiceCost) core.MonthlyReport {
	m := core.CostMapOf(pairs...)
	name := "monthly-report-" + month + ".csv"
	if account != "" {
		name = "monthly-report-" + month + "-" + account + ".csv"
	}
	return core.MonthlyReport{
		Month:       month,
		Identity:    core.NewIdentity(account, name),
		FileName:    name,
		Services:    m,
		Total:       m.Sum(),
		RowCount:    len(pairs) + 1,
		SkippedRows: 1,
	}
}

func sc(name, cost string) core.ServiceCost {
	return core.ServiceCost{Service: name, Cost: decimal.RequireFromString(cost)}
}

func TestUpsertAndSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, report("2024-05", "111", sc("Amazon S3", "0.10"), sc("EC2", "12.3456"))))
	require.NoError(t, s.Upsert(ctx, report("2024-05", "", sc("Lambda", "-1.5"))))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)
	require.Len(t, snap.Reports["2024-05"], 2)

	first := snap.Reports["2024-05"][0]
	assert.True(t, first.Identity.IsAccount())
	assert.Equal(t, "111", first.IdentityKey())
	assert.Equal(t, []string{"Amazon S3", "EC2"}, first.Services.Keys())
	ec2, _ := first.Services.Get("EC2")
	assert.True(t, ec2.Equal(decimal.RequireFromString("12.3456")))
	assert.True(t, first.Total.Equal(decimal.RequireFromString("12.4456")))
	assert.Equal(t, 3, first.RowCount)
	assert.Equal(t, 1, first.SkippedRows)
	require.NoError(t, first.Validate())

	second := snap.Reports["2024-05"][1]
	assert.False(t, second.Identity.IsAccount())
	assert.Equal(t, "monthly-report-2024-05.csv", second.IdentityKey())
}

func TestUpsertKeepsPosition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, report("2024-05", "1", sc("S3", "1"))))
	require.NoError(t, s.Upsert(ctx, report("2024-05", "2", sc("S3", "2"))))
	require.NoError(t, s.Upsert(ctx, report("2024-05", "1", sc("EC2", "5"))))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	list := snap.Reports["2024-05"]
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].IdentityKey())
	assert.Equal(t, []string{"EC2"}, list[0].Services.Keys())
	assert.Equal(t, "2", list[1].IdentityKey())
}

func TestMonthsAndClear(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, m := range []string{"2024-02", "2023-11", "2024-01"} {
		require.NoError(t, s.Upsert(ctx, report(m, "1", sc("S3", "1"))))
	}
	months, err := s.Months(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-11", "2024-01", "2024-02"}, months)

	require.NoError(t, s.Clear(ctx))
	months, err = s.Months(ctx)
	require.NoError(t, err)
	assert.Empty(t, months)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.Equal(t, uint64(4), snap.Version)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	s, err := New(dsn)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, RunMigrations(dsn))
}
