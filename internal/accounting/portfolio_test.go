package accounting

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

func newTestPortfolio() *Portfolio {
	return NewPortfolio(NewTrueAverageBookkeeper(), model.DefaultVenues())
}

func buyFields(security model.Security) model.OrderFields {
	return model.OrderFields{
		Account:  "trader",
		Security: security,
		Currency: "USD",
		Side:     model.SideBid,
		Type:     model.OrderTypeMarket,
	}
}

func fill(quantity, price float64) model.ExecutionReport {
	return model.ExecutionReport{
		Status:       model.StatusFilled,
		LastQuantity: d(quantity),
		LastPrice:    d(price),
	}
}

func TestPortfolioLongMarkedAtBid(t *testing.T) {
	p := newTestPortfolio()
	if !p.Update(buyFields(tsla), fill(1, 1)) {
		t.Fatal("fill did not update the portfolio")
	}
	if !p.UpdateQuote(model.Quote{Security: tsla, Ask: d(3), Bid: d(2)}) {
		t.Fatal("quote did not change the valuation")
	}
	if !p.UnrealizedSecurity(tsla).Equal(d(1)) {
		t.Errorf("unrealized = %s, want 1", p.UnrealizedSecurity(tsla))
	}
	if !p.UnrealizedCurrency("USD").Equal(d(1)) {
		t.Errorf("currency unrealized = %s, want 1", p.UnrealizedCurrency("USD"))
	}
}

func TestPortfolioShortMarkedAtAsk(t *testing.T) {
	p := newTestPortfolio()
	fields := buyFields(tsla)
	fields.Side = model.SideAsk
	p.Update(fields, fill(10, 5))

	p.UpdateQuote(model.Quote{Security: tsla, Ask: d(4), Bid: d(3)})
	// Short 10 at 5, marked at ask 4: -10*4 - (-50) = 10.
	if !p.UnrealizedSecurity(tsla).Equal(d(10)) {
		t.Errorf("unrealized = %s, want 10", p.UnrealizedSecurity(tsla))
	}
}

func TestPortfolioMissingMarkSideKeepsUnrealized(t *testing.T) {
	p := newTestPortfolio()
	p.Update(buyFields(tsla), fill(1, 1))
	p.UpdateQuote(model.Quote{Security: tsla, Ask: d(3), Bid: d(2)})

	// A long is marked at the bid; an ask-only quote changes nothing.
	if p.UpdateQuote(model.Quote{Security: tsla, Ask: d(9), Bid: decimal.Zero}) {
		t.Error("ask-only quote reported a change for a long position")
	}
	if !p.UnrealizedSecurity(tsla).Equal(d(1)) {
		t.Errorf("unrealized = %s, want unchanged 1", p.UnrealizedSecurity(tsla))
	}
}

func TestPortfolioUnchangedQuoteReturnsFalse(t *testing.T) {
	p := newTestPortfolio()
	p.Update(buyFields(tsla), fill(1, 1))
	quote := model.Quote{Security: tsla, Ask: d(3), Bid: d(2)}
	if !p.UpdateQuote(quote) {
		t.Fatal("first quote did not change the valuation")
	}
	if p.UpdateQuote(quote) {
		t.Error("repeated quote reported a change")
	}
}

func TestPortfolioZeroFillNeverReachesBookkeeper(t *testing.T) {
	p := newTestPortfolio()
	for _, status := range []model.OrderStatus{
		model.StatusPendingNew, model.StatusNew, model.StatusCanceled,
	} {
		report := model.ExecutionReport{Status: status, Commission: d(2)}
		if p.Update(buyFields(tsla), report) {
			t.Errorf("%s: zero-quantity report reported an inventory change", status)
		}
	}
	inv := p.Inventory(tsla)
	if !inv.Fees.IsZero() || inv.TransactionCount != 0 {
		t.Errorf("zero-fill report was booked: count=%d fees=%s",
			inv.TransactionCount, inv.Fees)
	}
	total := p.Total("USD")
	if total.TransactionCount != 0 {
		t.Errorf("currency total count = %d, want 0", total.TransactionCount)
	}

	// With the transaction count still zero, a full quote must not open the
	// publish gate for a never-filled security.
	p.UpdateQuote(model.Quote{Security: tsla, Ask: d(3), Bid: d(2)})
	if _, ok := p.Entry(tsla); ok {
		t.Error("entry published for a security that never filled")
	}
}

func TestPortfolioFlatPositionZeroUnrealized(t *testing.T) {
	p := newTestPortfolio()
	p.Update(buyFields(tsla), fill(10, 5))
	p.UpdateQuote(model.Quote{Security: tsla, Ask: d(7), Bid: d(6)})

	sell := buyFields(tsla)
	sell.Side = model.SideAsk
	p.Update(sell, fill(10, 6))
	if !p.UnrealizedSecurity(tsla).IsZero() {
		t.Errorf("unrealized after flat = %s, want 0", p.UnrealizedSecurity(tsla))
	}
	if !p.UnrealizedCurrency("USD").IsZero() {
		t.Errorf("currency unrealized after flat = %s, want 0",
			p.UnrealizedCurrency("USD"))
	}
	if !p.Inventory(tsla).GrossProfitAndLoss.Equal(d(10)) {
		t.Errorf("gross P&L = %s, want 10", p.Inventory(tsla).GrossProfitAndLoss)
	}
}

func TestPortfolioEntryGating(t *testing.T) {
	p := newTestPortfolio()
	if _, ok := p.Entry(tsla); ok {
		t.Error("entry published for an untraded, unquoted security")
	}

	p.UpdateQuote(model.Quote{Security: tsla, Ask: d(3), Bid: d(2)})
	if _, ok := p.Entry(tsla); ok {
		t.Error("entry published before any transaction")
	}

	p.Update(buyFields(tsla), fill(1, 1))
	entry, ok := p.Entry(tsla)
	if !ok {
		t.Fatal("entry not published after quote and fill")
	}
	if !entry.UnrealizedSecurity.Equal(d(1)) {
		t.Errorf("entry unrealized = %s, want 1", entry.UnrealizedSecurity)
	}
	if entry.CurrencyInventory.Position.Currency != "USD" {
		t.Errorf("entry currency = %s, want USD",
			entry.CurrencyInventory.Position.Currency)
	}

	p.UpdateBid(tsla, decimal.Zero)
	if _, ok := p.Entry(tsla); ok {
		t.Error("entry published with an absent bid")
	}
}

func TestPortfolioRealizedHelper(t *testing.T) {
	inv := model.Inventory{GrossProfitAndLoss: d(100), Fees: d(30)}
	if !RealizedProfitAndLoss(inv).Equal(d(70)) {
		t.Errorf("realized = %s, want 70", RealizedProfitAndLoss(inv))
	}
}
