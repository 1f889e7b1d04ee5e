package accounting

import (
	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

// Valuation is the latest two-sided mark for a security. A zero price means
// that side has not been quoted yet.
type Valuation struct {
	Ask decimal.Decimal `json:"ask"`
	Bid decimal.Decimal `json:"bid"`
}

// PortfolioUpdateEntry is one publishable valuation update: the security's
// inventory and unrealized P&L together with its currency's totals.
type PortfolioUpdateEntry struct {
	SecurityInventory  model.Inventory `json:"security_inventory"`
	UnrealizedSecurity decimal.Decimal `json:"unrealized_security"`
	CurrencyInventory  model.Inventory `json:"currency_inventory"`
	UnrealizedCurrency decimal.Decimal `json:"unrealized_currency"`
}

// RealizedProfitAndLoss is an inventory's gross P&L net of fees.
func RealizedProfitAndLoss(inv model.Inventory) decimal.Decimal {
	return inv.GrossProfitAndLoss.Sub(inv.Fees)
}

type securityEntry struct {
	valuation  Valuation
	unrealized decimal.Decimal
	currency   model.Currency
}

// Portfolio aggregates a bookkeeper with market valuations, tracking
// unrealized P&L per security and per currency. Not safe for concurrent use;
// callers serialize through an account's task queue.
type Portfolio struct {
	bookkeeper Bookkeeper
	venues     model.VenueDatabase
	entries    map[model.Security]*securityEntry
	unrealized map[model.Currency]decimal.Decimal
}

// NewPortfolio creates a portfolio over a bookkeeper. The venue database
// resolves a security's currency when order fields omit it.
func NewPortfolio(bookkeeper Bookkeeper, venues model.VenueDatabase) *Portfolio {
	p := &Portfolio{
		bookkeeper: bookkeeper,
		venues:     venues,
		entries:    make(map[model.Security]*securityEntry),
		unrealized: make(map[model.Currency]decimal.Decimal),
	}
	// A seeded bookkeeper's positions are marked as soon as quotes arrive.
	for _, inv := range bookkeeper.Inventories() {
		if !inv.IsEmpty() {
			entry := p.entry(inv.Position.Security)
			entry.currency = inv.Position.Currency
		}
	}
	return p
}

// Bookkeeper exposes the underlying bookkeeper for read access.
func (p *Portfolio) Bookkeeper() Bookkeeper {
	return p.bookkeeper
}

// Update books an execution report's fill against the order's fields and
// revalues the security. A report with no fill is a no-op: acknowledgements
// and cancels never touch the bookkeeper.
func (p *Portfolio) Update(fields model.OrderFields, report model.ExecutionReport) bool {
	if report.LastQuantity.IsZero() {
		return false
	}
	security := fields.Security
	currency := fields.Currency
	if currency == "" {
		currency = p.venues.CurrencyOf(security)
	}
	quantity := model.Direction(fields.Side).Mul(report.LastQuantity)
	costBasis := quantity.Mul(report.LastPrice)
	p.bookkeeper.Record(security, currency, quantity, costBasis, report.FeeTotal())
	entry := p.entry(security)
	entry.currency = currency
	p.revalue(security, entry)
	return true
}

// UpdateAsk sets a security's ask mark. A zero price clears the side. It
// reports whether the security's unrealized P&L changed.
func (p *Portfolio) UpdateAsk(security model.Security, price decimal.Decimal) bool {
	entry := p.entry(security)
	entry.valuation.Ask = price
	return p.revalue(security, entry)
}

// UpdateBid sets a security's bid mark, with the same contract as UpdateAsk.
func (p *Portfolio) UpdateBid(security model.Security, price decimal.Decimal) bool {
	entry := p.entry(security)
	entry.valuation.Bid = price
	return p.revalue(security, entry)
}

// UpdateQuote applies both sides of a quote. It reports whether either side
// changed the security's unrealized P&L.
func (p *Portfolio) UpdateQuote(quote model.Quote) bool {
	entry := p.entry(quote.Security)
	entry.valuation.Ask = quote.Ask
	entry.valuation.Bid = quote.Bid
	return p.revalue(quote.Security, entry)
}

// Inventory returns the inventory for a security in its venue currency.
func (p *Portfolio) Inventory(security model.Security) model.Inventory {
	return p.bookkeeper.Inventory(security, p.currencyOf(security))
}

// Total returns the currency-wide total inventory.
func (p *Portfolio) Total(currency model.Currency) model.Inventory {
	return p.bookkeeper.Total(currency)
}

// UnrealizedSecurity returns a security's current unrealized P&L.
func (p *Portfolio) UnrealizedSecurity(security model.Security) decimal.Decimal {
	if entry, ok := p.entries[security]; ok {
		return entry.unrealized
	}
	return decimal.Zero
}

// UnrealizedCurrency returns the summed unrealized P&L of all securities in
// a currency.
func (p *Portfolio) UnrealizedCurrency(currency model.Currency) decimal.Decimal {
	return p.unrealized[currency]
}

// UnrealizedCurrencies returns every currency carrying an unrealized figure,
// including those whose figure has returned to zero.
func (p *Portfolio) UnrealizedCurrencies() []model.Currency {
	currencies := make([]model.Currency, 0, len(p.unrealized))
	for currency := range p.unrealized {
		currencies = append(currencies, currency)
	}
	return currencies
}

// Valuation returns a security's current marks.
func (p *Portfolio) Valuation(security model.Security) Valuation {
	if entry, ok := p.entries[security]; ok {
		return entry.valuation
	}
	return Valuation{}
}

// Entry assembles the publishable update for a security. ok is false until
// the security has both marks and at least one recorded transaction; partial
// valuations are never published.
func (p *Portfolio) Entry(security model.Security) (PortfolioUpdateEntry, bool) {
	entry, ok := p.entries[security]
	if !ok || entry.valuation.Ask.IsZero() || entry.valuation.Bid.IsZero() {
		return PortfolioUpdateEntry{}, false
	}
	inv := p.bookkeeper.Inventory(security, entry.currency)
	if inv.TransactionCount == 0 {
		return PortfolioUpdateEntry{}, false
	}
	return PortfolioUpdateEntry{
		SecurityInventory:  inv,
		UnrealizedSecurity: entry.unrealized,
		CurrencyInventory:  p.bookkeeper.Total(entry.currency),
		UnrealizedCurrency: p.unrealized[entry.currency],
	}, true
}

// Entries returns the publishable update for every security that passes the
// Entry gate, for snapshot replay to new subscribers.
func (p *Portfolio) Entries() []PortfolioUpdateEntry {
	entries := make([]PortfolioUpdateEntry, 0, len(p.entries))
	for security := range p.entries {
		if entry, ok := p.Entry(security); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (p *Portfolio) entry(security model.Security) *securityEntry {
	entry, ok := p.entries[security]
	if !ok {
		entry = &securityEntry{currency: p.venues.CurrencyOf(security)}
		p.entries[security] = entry
	}
	return entry
}

func (p *Portfolio) currencyOf(security model.Security) model.Currency {
	if entry, ok := p.entries[security]; ok && entry.currency != "" {
		return entry.currency
	}
	return p.venues.CurrencyOf(security)
}

// revalue recomputes a security's unrealized P&L and folds the change into
// its currency sum. A position whose marking side is absent keeps its last
// unrealized figure.
func (p *Portfolio) revalue(security model.Security, entry *securityEntry) bool {
	unrealized, ok := p.calculateUnrealized(security, entry)
	if !ok || unrealized.Equal(entry.unrealized) {
		return false
	}
	currency := entry.currency
	p.unrealized[currency] = p.unrealized[currency].Sub(entry.unrealized).Add(unrealized)
	entry.unrealized = unrealized
	return true
}

// calculateUnrealized marks a position: the bid values a long, the ask values
// a short. ok is false when the required side is absent.
func (p *Portfolio) calculateUnrealized(security model.Security,
	entry *securityEntry) (decimal.Decimal, bool) {
	position := p.bookkeeper.Inventory(security, entry.currency).Position
	if position.Quantity.IsZero() {
		return position.CostBasis.Neg(), true
	}
	var mark decimal.Decimal
	if position.Quantity.Sign() > 0 {
		mark = entry.valuation.Bid
	} else {
		mark = entry.valuation.Ask
	}
	if mark.IsZero() {
		return decimal.Decimal{}, false
	}
	return position.Quantity.Mul(mark).Sub(position.CostBasis), true
}
