package core

import "sort"

// Snapshot is an immutable view of the report store at one version.
type Snapshot struct {
	Version uint64
	Months  []string // ascending
	Reports map[string][]MonthlyReport
}

// NewSnapshot copies the per-month lists and sorts the months.
func NewSnapshot(version uint64, reports map[string][]MonthlyReport) Snapshot {
	s := Snapshot{
		Version: version,
		Months:  make([]string, 0, len(reports)),
		Reports: make(map[string][]MonthlyReport, len(reports)),
	}
	for month, list := range reports {
		if len(list) == 0 {
			continue
		}
		cp := make([]MonthlyReport, len(list))
		copy(cp, list)
		s.Reports[month] = cp
		s.Months = append(s.Months, month)
	}
	sort.Strings(s.Months)
	return s
}

// Each walks reports month by month, keeping per-month list order.
func (s Snapshot) Each(fn func(r MonthlyReport)) {
	for _, m := range s.Months {
		for _, r := range s.Reports[m] {
			fn(r)
		}
	}
}

func (s Snapshot) Len() int {
	n := 0
	for _, list := range s.Reports {
		n += len(list)
	}
	return n
}

func (s Snapshot) Empty() bool { return len(s.Months) == 0 }

// Accounts returns the sorted distinct identity keys.
func (s Snapshot) Accounts() []string {
	seen := map[string]struct{}{}
	var out []string
	s.Each(func(r MonthlyReport) {
		k := r.IdentityKey()
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	})
	sort.Strings(out)
	return out
}

// Services returns distinct service names in first-encounter order.
func (s Snapshot) Services() []string {
	seen := map[string]struct{}{}
	var out []string
	s.Each(func(r MonthlyReport) {
		for _, k := range r.Services.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	})
	return out
}

// MonthList returns a copy of the sorted months.
func (s Snapshot) MonthList() []string {
	out := make([]string, len(s.Months))
	copy(out, s.Months)
	return out
}
