// Package filter holds the account, month and service selections that drive
// the chart, plus per-dimension search text and the aggregation mode.
//
// State is not safe for concurrent use; the owning session serializes access.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"costlens/internal/aggregate"
)

type Dimension string

const (
	Accounts Dimension = "accounts"
	Months   Dimension = "months"
	Services Dimension = "services"
)

// TopN is the size of the "top services" shortcut.
const TopN = 10

var (
	ErrUnknownKey       = errors.New("key is not in the current universe")
	ErrUnknownDimension = errors.New("unknown filter dimension")
)

var dimensions = []Dimension{Accounts, Months, Services}

func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Accounts, Months, Services:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
}

// Universe is every key currently present in the store. Services are
// expected in ranking order, the others sorted.
type Universe struct {
	Accounts []string
	Months   []string
	Services []string
}

func (u Universe) keys(d Dimension) []string {
	switch d {
	case Accounts:
		return u.Accounts
	case Months:
		return u.Months
	default:
		return u.Services
	}
}

func (u Universe) empty() bool {
	return len(u.Accounts) == 0 && len(u.Months) == 0 && len(u.Services) == 0
}

type dimension struct {
	universe []string
	known    map[string]struct{}
	selected map[string]struct{}
	search   string
}

type State struct {
	dims        map[Dimension]*dimension
	mode        aggregate.Mode
	initialized bool
}

func New() *State {
	s := &State{mode: aggregate.ModeService}
	s.Reset()
	return s
}

// Reset drops every key and selection and re-arms the first-data
// initialization. The mode is kept.
func (s *State) Reset() {
	s.dims = make(map[Dimension]*dimension, len(dimensions))
	for _, d := range dimensions {
		s.dims[d] = &dimension{
			known:    map[string]struct{}{},
			selected: map[string]struct{}{},
		}
	}
	s.initialized = false
}

// Observe replaces the universe and prunes selections that left it. The
// first non-empty universe selects everything; later keys are not
// auto-selected.
func (s *State) Observe(u Universe) {
	for _, d := range dimensions {
		dim := s.dims[d]
		dim.universe = append([]string(nil), u.keys(d)...)
		dim.known = make(map[string]struct{}, len(dim.universe))
		for _, k := range dim.universe {
			dim.known[k] = struct{}{}
		}
		for k := range dim.selected {
			if _, ok := dim.known[k]; !ok {
				delete(dim.selected, k)
			}
		}
	}
	if !s.initialized && !u.empty() {
		for _, d := range dimensions {
			_ = s.SelectAll(d)
		}
		s.initialized = true
	}
}

func (s *State) dim(d Dimension) (*dimension, error) {
	dim, ok := s.dims[d]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDimension, string(d))
	}
	return dim, nil
}

// Toggle flips key in or out of the selection.
func (s *State) Toggle(d Dimension, key string) error {
	dim, err := s.dim(d)
	if err != nil {
		return err
	}
	if _, ok := dim.known[key]; !ok {
		return fmt.Errorf("%w: %s %q", ErrUnknownKey, d, key)
	}
	if _, ok := dim.selected[key]; ok {
		delete(dim.selected, key)
	} else {
		dim.selected[key] = struct{}{}
	}
	return nil
}

func (s *State) SelectAll(d Dimension) error {
	dim, err := s.dim(d)
	if err != nil {
		return err
	}
	dim.selected = make(map[string]struct{}, len(dim.universe))
	for _, k := range dim.universe {
		dim.selected[k] = struct{}{}
	}
	return nil
}

func (s *State) ClearSelection(d Dimension) error {
	dim, err := s.dim(d)
	if err != nil {
		return err
	}
	dim.selected = map[string]struct{}{}
	return nil
}

// SelectTop selects exactly the first min(n, len(ranked)) services of the
// ranking. Names not in the universe are ignored.
func (s *State) SelectTop(n int, ranked []string) []string {
	dim := s.dims[Services]
	dim.selected = map[string]struct{}{}
	var picked []string
	for _, name := range ranked {
		if len(picked) >= n {
			break
		}
		if _, ok := dim.known[name]; !ok {
			continue
		}
		dim.selected[name] = struct{}{}
		picked = append(picked, name)
	}
	return picked
}

func (s *State) SelectTop10(ranked []string) []string {
	return s.SelectTop(TopN, ranked)
}

// SetSearch narrows Visible for d without touching the selection.
func (s *State) SetSearch(d Dimension, text string) error {
	dim, err := s.dim(d)
	if err != nil {
		return err
	}
	dim.search = strings.TrimSpace(text)
	return nil
}

func (s *State) Search(d Dimension) string {
	if dim, ok := s.dims[d]; ok {
		return dim.search
	}
	return ""
}

// Visible returns the universe of d matching its search text, case-insensitively.
func (s *State) Visible(d Dimension) []string {
	dim, ok := s.dims[d]
	if !ok {
		return nil
	}
	needle := strings.ToLower(dim.search)
	out := make([]string, 0, len(dim.universe))
	for _, k := range dim.universe {
		if needle == "" || strings.Contains(strings.ToLower(k), needle) {
			out = append(out, k)
		}
	}
	return out
}

// Selected returns the selection of d, sorted.
func (s *State) Selected(d Dimension) []string {
	dim, ok := s.dims[d]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(dim.selected))
	for k := range dim.selected {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *State) IsSelected(d Dimension, key string) bool {
	dim, ok := s.dims[d]
	if !ok {
		return false
	}
	_, ok = dim.selected[key]
	return ok
}

func (s *State) SetMode(m aggregate.Mode) error {
	switch m {
	case aggregate.ModeService, aggregate.ModeAccount:
		s.mode = m
		return nil
	}
	return fmt.Errorf("unknown aggregation mode %q", m)
}

func (s *State) Mode() aggregate.Mode { return s.mode }

// Selection snapshots the current selections for the aggregator.
func (s *State) Selection() aggregate.Selection {
	return aggregate.Selection{
		Accounts: s.Selected(Accounts),
		Months:   s.Selected(Months),
		Services: s.Selected(Services),
		Mode:     s.mode,
	}
}

// DimensionView is the display state of one dimension.
type DimensionView struct {
	Selected []string `json:"selected"`
	Visible  []string `json:"visible"`
	Search   string   `json:"search"`
}

type View struct {
	Mode       aggregate.Mode              `json:"mode"`
	Dimensions map[Dimension]DimensionView `json:"dimensions"`
}

func (s *State) View() View {
	v := View{Mode: s.mode, Dimensions: make(map[Dimension]DimensionView, len(dimensions))}
	for _, d := range dimensions {
		v.Dimensions[d] = DimensionView{
			Selected: s.Selected(d),
			Visible:  s.Visible(d),
			Search:   s.Search(d),
		}
	}
	return v
}
