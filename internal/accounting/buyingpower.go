package accounting

import (
	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

type workingOrder struct {
	currency  model.Currency
	remaining decimal.Decimal
	price     decimal.Decimal
}

// BuyingPowerModel tracks an account's committed capital per currency: the
// cost basis of filled positions plus the notional of working limit orders.
// Market orders carry no limit price and reserve nothing until they fill.
// Not safe for concurrent use.
type BuyingPowerModel struct {
	book    *TrueAverageBookkeeper
	orders  map[model.OrderID]*workingOrder
	working map[model.Currency]decimal.Decimal
}

// NewBuyingPowerModel creates an empty model.
func NewBuyingPowerModel() *BuyingPowerModel {
	return &BuyingPowerModel{
		book:    NewTrueAverageBookkeeper(),
		orders:  make(map[model.OrderID]*workingOrder),
		working: make(map[model.Currency]decimal.Decimal),
	}
}

// HasBuyingPower reports whether submitting fields would keep the currency's
// projected exposure within buyingPower. Exposure exactly at the limit is
// allowed.
func (m *BuyingPowerModel) HasBuyingPower(fields model.OrderFields,
	buyingPower decimal.Decimal) bool {
	projected := m.Exposure(fields.Currency).Add(fields.Quantity.Mul(fields.Price))
	return projected.LessThanOrEqual(buyingPower)
}

// Submit reserves the order's notional against its currency.
func (m *BuyingPowerModel) Submit(order model.Order) {
	if _, ok := m.orders[order.ID]; ok {
		return
	}
	w := &workingOrder{
		currency:  order.Fields.Currency,
		remaining: order.Fields.Quantity,
		price:     order.Fields.Price,
	}
	m.orders[order.ID] = w
	m.working[w.currency] = m.working[w.currency].Add(w.remaining.Mul(w.price))
}

// Update converts a fill's reserved notional into position exposure and
// releases the remainder when the order terminates.
func (m *BuyingPowerModel) Update(fields model.OrderFields,
	report model.ExecutionReport) {
	w, ok := m.orders[report.OrderID]
	if !ok {
		return
	}
	if !report.LastQuantity.IsZero() {
		filled := decimal.Min(report.LastQuantity, w.remaining)
		m.working[w.currency] = m.working[w.currency].Sub(filled.Mul(w.price))
		w.remaining = w.remaining.Sub(filled)
		quantity := model.Direction(fields.Side).Mul(report.LastQuantity)
		m.book.Record(fields.Security, w.currency, quantity,
			quantity.Mul(report.LastPrice), decimal.Zero)
	}
	if report.Status.IsTerminal() {
		m.working[w.currency] = m.working[w.currency].Sub(w.remaining.Mul(w.price))
		delete(m.orders, report.OrderID)
	}
}

// Exposure returns the currency's committed capital: open position cost basis
// magnitude plus working order notional.
func (m *BuyingPowerModel) Exposure(currency model.Currency) decimal.Decimal {
	return m.book.Total(currency).Position.CostBasis.Add(m.working[currency])
}
