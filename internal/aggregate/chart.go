package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"costlens/internal/core"
)

// View is what the presentation layer draws: rows of stacked values plus the
// ordered series names.
type View struct {
	Mode    Mode            `json:"mode"`
	Version uint64          `json:"version"`
	Rows    []Row           `json:"rows"`
	Series  []string        `json:"series"`
	Total   decimal.Decimal `json:"total"`
}

// Chart builds the monthly view for sel. In service mode the series are the
// selected services in ranking order; in account mode they are the selected
// accounts, sorted.
func Chart(snap core.Snapshot, sel Selection) View {
	months := setOf(sel.Months)
	var rows []Row
	series := []string{}
	if sel.Mode == ModeAccount {
		rows = AccountTotals(snap, sel.Services)
		series = append(series, sel.Accounts...)
		sort.Strings(series)
	} else {
		rows = ServiceTotals(snap, sel.Accounts)
		selected := setOf(sel.Services)
		for _, name := range ServiceNames(RankedServices(snap, sel.Accounts)) {
			if selected.has(name) {
				series = append(series, name)
			}
		}
	}

	mode := sel.Mode
	if mode == "" {
		mode = ModeService
	}
	view := View{
		Mode:    mode,
		Version: snap.Version,
		Rows:    make([]Row, 0, len(rows)),
		Series:  series,
		Total:   GrandTotal(snap, sel),
	}
	for _, row := range rows {
		if !months.has(row.Month) {
			continue
		}
		view.Rows = append(view.Rows, Row{Month: row.Month, Series: project(row.Series, series)})
	}
	return view
}

// YearlyChart is Chart with its rows rolled up by year.
func YearlyChart(snap core.Snapshot, sel Selection) View {
	v := Chart(snap, sel)
	v.Rows = YearTotals(v.Rows)
	return v
}

// project keeps only the named series, in the given order.
func project(m core.CostMap, names []string) core.CostMap {
	b := core.NewCostMapBuilder()
	for _, n := range names {
		if v, ok := m.Get(n); ok {
			b.Add(n, v)
		}
	}
	return b.Build()
}
