// Package monitor wires the accounting and risk engines to their input
// streams: per-account portfolio monitoring and the multi-account risk
// supervisor.
package monitor

import (
	"github.com/openclear/risk-engine/internal/accounting"
	"github.com/openclear/risk-engine/internal/metrics"
	"github.com/openclear/risk-engine/internal/model"
)

// PortfolioMonitor feeds one account's quote and execution streams into its
// portfolio and yields the updates worth publishing. Not safe for concurrent
// use; the account's task queue serializes all calls.
type PortfolioMonitor struct {
	portfolio *accounting.Portfolio
	orders    map[model.OrderID]model.OrderFields
	quotes    map[model.Security]model.Quote
}

// NewPortfolioMonitor creates a monitor over a portfolio.
func NewPortfolioMonitor(portfolio *accounting.Portfolio) *PortfolioMonitor {
	return &PortfolioMonitor{
		portfolio: portfolio,
		orders:    make(map[model.OrderID]model.OrderFields),
		quotes:    make(map[model.Security]model.Quote),
	}
}

// Portfolio exposes the monitored portfolio for read access.
func (m *PortfolioMonitor) Portfolio() *accounting.Portfolio {
	return m.portfolio
}

// AddOrder registers an order so its execution reports can be applied.
func (m *PortfolioMonitor) AddOrder(order model.Order) {
	m.orders[order.ID] = order.Fields
}

// Fields returns the registered fields for an order id.
func (m *PortfolioMonitor) Fields(id model.OrderID) (model.OrderFields, bool) {
	fields, ok := m.orders[id]
	return fields, ok
}

// HandleReport applies an execution report. changed reports whether the
// security's inventory moved; publishable is true only when the update also
// passes the valuation gate. Reports for unknown orders are dropped, and a
// terminal report retires its order's registration.
func (m *PortfolioMonitor) HandleReport(report model.ExecutionReport) (
	entry accounting.PortfolioUpdateEntry, publishable, changed bool) {
	fields, ok := m.orders[report.OrderID]
	if !ok {
		return accounting.PortfolioUpdateEntry{}, false, false
	}
	changed = m.portfolio.Update(fields, report)
	if report.Status.IsTerminal() {
		delete(m.orders, report.OrderID)
	}
	if !changed {
		return accounting.PortfolioUpdateEntry{}, false, false
	}
	entry, publishable = m.portfolio.Entry(fields.Security)
	return entry, publishable, true
}

// HandleQuote applies a quote with the same contract as HandleReport. A
// quote identical to the security's previous one is dropped before touching
// the portfolio.
func (m *PortfolioMonitor) HandleQuote(quote model.Quote) (
	entry accounting.PortfolioUpdateEntry, publishable, changed bool) {
	last, seen := m.quotes[quote.Security]
	if seen && last.Ask.Equal(quote.Ask) && last.Bid.Equal(quote.Bid) {
		metrics.QuoteUpdates.WithLabelValues("duplicate").Inc()
		return accounting.PortfolioUpdateEntry{}, false, false
	}
	m.quotes[quote.Security] = quote
	if !m.portfolio.UpdateQuote(quote) {
		metrics.QuoteUpdates.WithLabelValues("unchanged").Inc()
		return accounting.PortfolioUpdateEntry{}, false, false
	}
	metrics.QuoteUpdates.WithLabelValues("changed").Inc()
	entry, publishable = m.portfolio.Entry(quote.Security)
	return entry, publishable, true
}
