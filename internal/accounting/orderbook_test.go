package accounting

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

func limitOrder(id int, security model.Security, side model.Side,
	quantity float64) model.Order {
	return model.Order{
		ID: model.OrderID(fmt.Sprintf("O-%d", id)),
		Fields: model.OrderFields{
			Account:  "trader",
			Security: security,
			Currency: "USD",
			Side:     side,
			Quantity: d(quantity),
			Price:    d(1),
			Type:     model.OrderTypeLimit,
		},
	}
}

func fillOrder(b *PositionOrderBook, order model.Order, quantity float64) {
	b.Update(model.ExecutionReport{
		OrderID:      order.ID,
		Status:       model.StatusFilled,
		LastQuantity: d(quantity),
		LastPrice:    order.Fields.Price,
	})
}

func orderIDs(orders []model.Order) []model.OrderID {
	ids := make([]model.OrderID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

func TestOrderBookFlatPositionAllOrdersOpen(t *testing.T) {
	b := NewPositionOrderBook()
	buy := limitOrder(1, tsla, model.SideBid, 100)
	sell := limitOrder(2, tsla, model.SideAsk, 100)
	b.Add(buy)
	b.Add(sell)

	opening := b.OpeningOrders()
	if len(opening) != 2 {
		t.Fatalf("opening orders = %v, want both", orderIDs(opening))
	}
}

func TestOrderBookClosingOrderNotOpening(t *testing.T) {
	b := NewPositionOrderBook()
	buy := limitOrder(1, tsla, model.SideBid, 100)
	b.Add(buy)
	fillOrder(b, buy, 100)

	sell := limitOrder(2, tsla, model.SideAsk, 100)
	b.Add(sell)
	if opening := b.OpeningOrders(); len(opening) != 0 {
		t.Errorf("opening orders = %v, want none", orderIDs(opening))
	}
}

func TestOrderBookOverCloseIsOpening(t *testing.T) {
	b := NewPositionOrderBook()
	buy := limitOrder(1, tsla, model.SideBid, 100)
	b.Add(buy)
	fillOrder(b, buy, 100)

	// Selling 150 against a long 100 leaves a 50-share opening remainder.
	sell := limitOrder(2, tsla, model.SideAsk, 150)
	b.Add(sell)
	opening := b.OpeningOrders()
	if len(opening) != 1 || opening[0].ID != sell.ID {
		t.Errorf("opening orders = %v, want [%s]", orderIDs(opening), sell.ID)
	}
}

func TestOrderBookEarlierClosersConsumePosition(t *testing.T) {
	b := NewPositionOrderBook()
	buy := limitOrder(1, tsla, model.SideBid, 100)
	b.Add(buy)
	fillOrder(b, buy, 100)

	first := limitOrder(2, tsla, model.SideAsk, 80)
	second := limitOrder(3, tsla, model.SideAsk, 40)
	b.Add(first)
	b.Add(second)

	// The first sell consumes 80 of the 100 closable shares; the second's
	// 40 overshoots the remaining 20.
	opening := b.OpeningOrders()
	if len(opening) != 1 || opening[0].ID != second.ID {
		t.Errorf("opening orders = %v, want [%s]", orderIDs(opening), second.ID)
	}
}

func TestOrderBookTestOpeningOrderSubmission(t *testing.T) {
	b := NewPositionOrderBook()
	buy := limitOrder(1, tsla, model.SideBid, 100)
	b.Add(buy)
	fillOrder(b, buy, 100)

	closing := model.OrderFields{
		Security: tsla, Currency: "USD", Side: model.SideAsk, Quantity: d(100),
	}
	if b.TestOpeningOrderSubmission(closing) {
		t.Error("exact close classified as opening")
	}

	pending := limitOrder(2, tsla, model.SideAsk, 60)
	b.Add(pending)
	// With 60 shares already being closed, another 100-share sell overshoots.
	if !b.TestOpeningOrderSubmission(closing) {
		t.Error("over-close behind a pending closer not classified as opening")
	}
}

func TestOrderBookTerminalRemovesLiveOrder(t *testing.T) {
	b := NewPositionOrderBook()
	order := limitOrder(1, tsla, model.SideBid, 100)
	b.Add(order)
	b.Update(model.ExecutionReport{OrderID: order.ID, Status: model.StatusCanceled})

	if live := b.LiveOrders(); len(live) != 0 {
		t.Errorf("live orders = %v, want none", orderIDs(live))
	}
}

func TestOrderBookPartialFillShrinksRemaining(t *testing.T) {
	b := NewPositionOrderBook()
	buy := limitOrder(1, tsla, model.SideBid, 100)
	b.Add(buy)
	b.Update(model.ExecutionReport{
		OrderID:      buy.ID,
		Status:       model.StatusPartiallyFilled,
		LastQuantity: d(40),
		LastPrice:    d(1),
	})

	// Position is long 40 with 60 still working on the buy. A 40-share sell
	// closes; the partially filled buy stays opening.
	sell := limitOrder(2, tsla, model.SideAsk, 40)
	b.Add(sell)
	opening := b.OpeningOrders()
	if len(opening) != 1 || opening[0].ID != buy.ID {
		t.Errorf("opening orders = %v, want [%s]", orderIDs(opening), buy.ID)
	}
}

func TestOrderBookSeededPositions(t *testing.T) {
	b := NewPositionOrderBookFromPositions([]model.Position{
		{Security: tsla, Currency: "USD", Quantity: d(100), CostBasis: d(1000)},
		{Security: xiu, Currency: "CAD", Quantity: decimal.Zero},
	})

	positions := b.Positions()
	if len(positions) != 1 {
		t.Fatalf("positions = %v, want only the non-flat one", positions)
	}
	if positions[0].Security != tsla || !positions[0].Quantity.Equal(d(100)) {
		t.Errorf("seeded position = %+v", positions[0])
	}

	sell := model.OrderFields{
		Security: tsla, Currency: "USD", Side: model.SideAsk, Quantity: d(100),
	}
	if b.TestOpeningOrderSubmission(sell) {
		t.Error("close of a seeded position classified as opening")
	}
}
