package core

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// CostMap maps service names to costs and remembers first-encounter order.
// The zero value is an empty map. A CostMap is read-only once built.
type CostMap struct {
	keys   []string
	values map[string]decimal.Decimal
}

// CostMapBuilder accumulates costs before freezing them into a CostMap.
type CostMapBuilder struct {
	keys   []string
	values map[string]decimal.Decimal
}

func NewCostMapBuilder() *CostMapBuilder {
	return &CostMapBuilder{values: make(map[string]decimal.Decimal)}
}

// Add sums cost into name, recording name on first sight.
func (b *CostMapBuilder) Add(name string, cost decimal.Decimal) {
	prev, ok := b.values[name]
	if !ok {
		b.keys = append(b.keys, name)
		b.values[name] = cost
		return
	}
	b.values[name] = prev.Add(cost)
}

func (b *CostMapBuilder) Len() int { return len(b.keys) }

// Build returns an independent CostMap; the builder may keep being used.
func (b *CostMapBuilder) Build() CostMap {
	keys := make([]string, len(b.keys))
	copy(keys, b.keys)
	values := make(map[string]decimal.Decimal, len(b.values))
	for k, v := range b.values {
		values[k] = v
	}
	return CostMap{keys: keys, values: values}
}

// CostMapOf builds a map from pairs, mostly for tests and storage adapters.
func CostMapOf(pairs ...ServiceCost) CostMap {
	b := NewCostMapBuilder()
	for _, p := range pairs {
		b.Add(p.Service, p.Cost)
	}
	return b.Build()
}

func (m CostMap) Get(name string) (decimal.Decimal, bool) {
	v, ok := m.values[name]
	return v, ok
}

func (m CostMap) Len() int { return len(m.keys) }

// Keys returns service names in first-encounter order.
func (m CostMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m CostMap) Each(fn func(name string, cost decimal.Decimal)) {
	for _, k := range m.keys {
		fn(k, m.values[k])
	}
}

func (m CostMap) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, k := range m.keys {
		total = total.Add(m.values[k])
	}
	return total
}

// Pairs returns the entries in order.
func (m CostMap) Pairs() []ServiceCost {
	out := make([]ServiceCost, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, ServiceCost{Service: k, Cost: m.values[k]})
	}
	return out
}

func (m CostMap) MarshalJSON() ([]byte, error) {
	obj := make(map[string]decimal.Decimal, len(m.keys))
	for _, k := range m.keys {
		obj[k] = m.values[k]
	}
	return json.Marshal(obj)
}
