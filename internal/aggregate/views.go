// Package aggregate derives chart-ready views from a store snapshot. Every
// function is pure: the same snapshot and selection give the same result.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"costlens/internal/core"
)

// Row is one bar of the chart: a month (or year) and its series values.
type Row struct {
	Month  string       `json:"month"`
	Series core.CostMap `json:"series"`
}

type Ranked struct {
	Service string          `json:"service"`
	Total   decimal.Decimal `json:"total"`
}

// ServiceTotals sums costs per service for every month, counting only reports
// whose identity key is selected. An empty selection yields every month with
// an empty series.
func ServiceTotals(snap core.Snapshot, selectedAccounts []string) []Row {
	accounts := setOf(selectedAccounts)
	rows := make([]Row, 0, len(snap.Months))
	for _, month := range snap.Months {
		b := core.NewCostMapBuilder()
		for _, r := range snap.Reports[month] {
			if !accounts.has(r.IdentityKey()) {
				continue
			}
			r.Services.Each(b.Add)
		}
		rows = append(rows, Row{Month: month, Series: b.Build()})
	}
	return rows
}

// AccountTotals sums, per month and identity key, only the selected services.
// Accounts without any selected service that month are left out.
func AccountTotals(snap core.Snapshot, selectedServices []string) []Row {
	services := setOf(selectedServices)
	rows := make([]Row, 0, len(snap.Months))
	for _, month := range snap.Months {
		b := core.NewCostMapBuilder()
		for _, r := range snap.Reports[month] {
			key := r.IdentityKey()
			r.Services.Each(func(name string, cost decimal.Decimal) {
				if services.has(name) {
					b.Add(key, cost)
				}
			})
		}
		rows = append(rows, Row{Month: month, Series: b.Build()})
	}
	return rows
}

// RankedServices orders services by total cost, highest first. Ties keep
// first-encounter order across months, reports and rows.
func RankedServices(snap core.Snapshot, selectedAccounts []string) []Ranked {
	accounts := setOf(selectedAccounts)
	b := core.NewCostMapBuilder()
	snap.Each(func(r core.MonthlyReport) {
		if accounts.has(r.IdentityKey()) {
			r.Services.Each(b.Add)
		}
	})
	pairs := b.Build().Pairs()
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Cost.GreaterThan(pairs[j].Cost)
	})
	out := make([]Ranked, len(pairs))
	for i, p := range pairs {
		out[i] = Ranked{Service: p.Service, Total: p.Cost}
	}
	return out
}

// RankedAccounts lists the distinct identity keys, sorted.
func RankedAccounts(snap core.Snapshot) []string {
	return snap.Accounts()
}

// ServiceNames projects a ranking onto its names.
func ServiceNames(ranked []Ranked) []string {
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Service
	}
	return out
}

// GrandTotal is zero whenever a dimension has nothing selected. In account
// mode the per-month rows are built from the selected services, then only
// selected months and displayed accounts are summed.
func GrandTotal(snap core.Snapshot, sel Selection) decimal.Decimal {
	if sel.Empty() {
		return decimal.Zero
	}
	months := setOf(sel.Months)
	var (
		rows []Row
		keep set
	)
	if sel.Mode == ModeAccount {
		rows = AccountTotals(snap, sel.Services)
		keep = setOf(sel.Accounts)
	} else {
		rows = ServiceTotals(snap, sel.Accounts)
		keep = setOf(sel.Services)
	}
	total := decimal.Zero
	for _, row := range rows {
		if !months.has(row.Month) {
			continue
		}
		row.Series.Each(func(name string, cost decimal.Decimal) {
			if keep.has(name) {
				total = total.Add(cost)
			}
		})
	}
	return total
}

// YearTotals rolls month rows up into YYYY rows, keeping series order.
func YearTotals(rows []Row) []Row {
	var (
		years    []string
		builders = map[string]*core.CostMapBuilder{}
	)
	for _, row := range rows {
		year := core.YearOf(row.Month)
		b, ok := builders[year]
		if !ok {
			b = core.NewCostMapBuilder()
			builders[year] = b
			years = append(years, year)
		}
		row.Series.Each(b.Add)
	}
	out := make([]Row, len(years))
	for i, y := range years {
		out[i] = Row{Month: y, Series: builders[y].Build()}
	}
	return out
}
