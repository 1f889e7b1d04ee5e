// Package rates provides the exchange-rate table used to express an
// account's multi-currency P&L in its settlement currency.
package rates

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

// ErrPairNotFound is returned when no rate exists between two currencies.
var ErrPairNotFound = errors.New("rates: currency pair not found")

type pair struct {
	from model.Currency
	to   model.Currency
}

// Table holds direct exchange rates between currency pairs. It is read-only
// after construction and may be shared by reference across accounts.
//
// Add(base, counter, rate) registers rate such that
// Convert(x, counter, base) = x * rate, along with the inverse direction.
type Table struct {
	rates map[pair]decimal.Decimal
}

// NewTable creates an empty exchange-rate table.
func NewTable() *Table {
	return &Table{rates: make(map[pair]decimal.Decimal)}
}

// Add registers a rate for a currency pair in both directions. A zero or
// negative rate is rejected.
func (t *Table) Add(base, counter model.Currency, rate decimal.Decimal) error {
	if rate.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("rates: invalid rate %s for %s/%s", rate, base, counter)
	}
	t.rates[pair{from: counter, to: base}] = rate
	t.rates[pair{from: base, to: counter}] = decimal.NewFromInt(1).Div(rate)
	return nil
}

// Convert converts an amount between currencies. Same-currency conversion is
// the identity; a missing pair returns ErrPairNotFound.
func (t *Table) Convert(amount decimal.Decimal, from, to model.Currency) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rate, ok := t.rates[pair{from: from, to: to}]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s/%s", ErrPairNotFound, from, to)
	}
	return amount.Mul(rate), nil
}
