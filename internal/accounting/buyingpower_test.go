package accounting

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

func TestBuyingPowerAtLimitAllowed(t *testing.T) {
	m := NewBuyingPowerModel()
	fields := model.OrderFields{
		Security: tsla, Currency: "USD", Side: model.SideBid,
		Quantity: d(100), Price: d(10), Type: model.OrderTypeLimit,
	}
	if !m.HasBuyingPower(fields, d(1000)) {
		t.Error("submission at the exact limit rejected")
	}
	if m.HasBuyingPower(fields, d(999)) {
		t.Error("submission beyond the limit allowed")
	}
}

func TestBuyingPowerWorkingOrdersReserve(t *testing.T) {
	m := NewBuyingPowerModel()
	order := limitOrder(1, tsla, model.SideBid, 100)
	order.Fields.Price = d(10)
	m.Submit(order)

	if !m.Exposure("USD").Equal(d(1000)) {
		t.Errorf("exposure = %s, want 1000", m.Exposure("USD"))
	}
	next := model.OrderFields{
		Security: msft, Currency: "USD", Side: model.SideBid,
		Quantity: d(1), Price: d(1), Type: model.OrderTypeLimit,
	}
	if m.HasBuyingPower(next, d(1000)) {
		t.Error("reserved notional not counted against the next submission")
	}
}

func TestBuyingPowerFillMovesReservationToPosition(t *testing.T) {
	m := NewBuyingPowerModel()
	order := limitOrder(1, tsla, model.SideBid, 100)
	order.Fields.Price = d(10)
	m.Submit(order)
	m.Update(order.Fields, model.ExecutionReport{
		OrderID:      order.ID,
		Status:       model.StatusFilled,
		LastQuantity: d(100),
		LastPrice:    d(9),
	})

	// Filled at 9: the 10-priced reservation is released and the position
	// carries its actual cost.
	if !m.Exposure("USD").Equal(d(900)) {
		t.Errorf("exposure = %s, want 900", m.Exposure("USD"))
	}
}

func TestBuyingPowerCancelReleasesReservation(t *testing.T) {
	m := NewBuyingPowerModel()
	order := limitOrder(1, tsla, model.SideBid, 100)
	order.Fields.Price = d(10)
	m.Submit(order)
	m.Update(order.Fields, model.ExecutionReport{
		OrderID: order.ID, Status: model.StatusCanceled,
	})

	if !m.Exposure("USD").IsZero() {
		t.Errorf("exposure = %s, want 0 after cancel", m.Exposure("USD"))
	}
}

func TestBuyingPowerClosingReducesExposure(t *testing.T) {
	m := NewBuyingPowerModel()
	buy := limitOrder(1, tsla, model.SideBid, 100)
	buy.Fields.Price = d(10)
	m.Submit(buy)
	m.Update(buy.Fields, model.ExecutionReport{
		OrderID: buy.ID, Status: model.StatusFilled,
		LastQuantity: d(100), LastPrice: d(10),
	})

	sell := limitOrder(2, tsla, model.SideAsk, 100)
	sell.Fields.Price = decimal.Zero
	m.Submit(sell)
	m.Update(sell.Fields, model.ExecutionReport{
		OrderID: sell.ID, Status: model.StatusFilled,
		LastQuantity: d(100), LastPrice: d(11),
	})

	if !m.Exposure("USD").IsZero() {
		t.Errorf("exposure = %s, want 0 after closing the position", m.Exposure("USD"))
	}
}
