package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Pack is a fixed catalog entry: a quantity of tokens and its price.
// The catalog is reference data; orders snapshot tokens and price at
// creation time so later edits here never change settled amounts.
type Pack struct {
	ID     string          `json:"id"`
	Tokens int64           `json:"tokens"`
	Price  decimal.Decimal `json:"price"`
	Label  string          `json:"label"`
}

var ErrPackNotFound = errors.New("pack not found")

var packs = map[string]Pack{
	"small":   {ID: "small", Tokens: 1000, Price: decimal.NewFromInt(100), Label: "1,000 tokens"},
	"medium":  {ID: "medium", Tokens: 5000, Price: decimal.NewFromInt(450), Label: "5,000 tokens"},
	"large":   {ID: "large", Tokens: 15000, Price: decimal.NewFromInt(1200), Label: "15,000 tokens"},
	"premium": {ID: "premium", Tokens: 50000, Price: decimal.NewFromInt(3500), Label: "50,000 tokens"},
}

var packOrder = []string{"small", "medium", "large", "premium"}

// Get returns a copy of the pack, so callers can never alias catalog state.
func Get(packID string) (Pack, error) {
	p, ok := packs[packID]
	if !ok {
		return Pack{}, ErrPackNotFound
	}
	return p, nil
}

// All returns the packs in display order, cheapest first.
func All() []Pack {
	out := make([]Pack, 0, len(packOrder))
	for _, id := range packOrder {
		out = append(out, packs[id])
	}
	return out
}
