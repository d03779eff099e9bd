// Package core holds the billing domain types and the row normalization rules.
//
// This file converts raw CSV cost strings into decimals. Costs keep their
// full parsed precision; nothing is rounded.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var costReplacer = strings.NewReplacer("$", "", ",", "")

// NormalizeCost strips "$" and "," and parses what is left as a decimal.
//
// Anything that does not parse (including NaN and Inf spellings, which the
// decimal parser rejects) yields ErrInvalidCost. Zero and negative
// values parse fine; callers decide whether they count.
//
// Examples:
//
//	NormalizeCost("$1,234.50") -> 1234.5, nil
//	NormalizeCost("0.09")      -> 0.09, nil
//	NormalizeCost("n/a")       -> 0, ErrInvalidCost
func NormalizeCost(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(costReplacer.Replace(raw))
	if s == "" {
		return decimal.Zero, ErrInvalidCost
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidCost
	}
	return d, nil
}

// NormalizeRow turns one (product_name, cost) pair into a ServiceCost.
// ok is false for a blank service, an unparseable cost or a cost that is not
// positive. Credits and refunds show up as negative rows and are dropped.
func NormalizeRow(productName, cost string) (ServiceCost, bool) {
	name := strings.TrimSpace(productName)
	if name == "" {
		return ServiceCost{}, false
	}
	d, err := NormalizeCost(cost)
	if err != nil || d.Sign() <= 0 {
		return ServiceCost{}, false
	}
	return ServiceCost{Service: name, Cost: d}, true
}
