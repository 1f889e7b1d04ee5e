package accounting

import (
	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

type bookOrder struct {
	order     model.Order
	remaining decimal.Decimal
}

type bookPosition struct {
	quantity decimal.Decimal
	currency model.Currency
}

// PositionOrderBook tracks an account's live orders against its positions and
// classifies each order as opening or closing. An order is opening when it
// would grow the position's magnitude, including the remainder of a closing
// order large enough to flip through flat. Not safe for concurrent use.
type PositionOrderBook struct {
	live      map[model.OrderID]*bookOrder
	sequence  []model.OrderID
	positions map[model.Security]*bookPosition
}

// NewPositionOrderBook creates an empty book.
func NewPositionOrderBook() *PositionOrderBook {
	return &PositionOrderBook{
		live:      make(map[model.OrderID]*bookOrder),
		positions: make(map[model.Security]*bookPosition),
	}
}

// NewPositionOrderBookFromPositions seeds a book with existing positions,
// typically loaded from an inventory snapshot.
func NewPositionOrderBookFromPositions(positions []model.Position) *PositionOrderBook {
	b := NewPositionOrderBook()
	for _, p := range positions {
		if p.Quantity.IsZero() {
			continue
		}
		b.positions[p.Security] = &bookPosition{
			quantity: p.Quantity,
			currency: p.Currency,
		}
	}
	return b
}

// Add registers a live order. Orders are classified lazily, so an order's
// opening status can change as earlier orders fill.
func (b *PositionOrderBook) Add(order model.Order) {
	if _, ok := b.live[order.ID]; ok {
		return
	}
	b.live[order.ID] = &bookOrder{order: order, remaining: order.Fields.Quantity}
	b.sequence = append(b.sequence, order.ID)
}

// Update applies an execution report to its order: fills move the position
// and shrink the order's remaining quantity, and a terminal status removes
// the order from the live set. Reports for unknown orders are ignored.
func (b *PositionOrderBook) Update(report model.ExecutionReport) {
	entry, ok := b.live[report.OrderID]
	if !ok {
		return
	}
	if !report.LastQuantity.IsZero() {
		fields := entry.order.Fields
		position := b.position(fields.Security, fields.Currency)
		position.quantity = position.quantity.Add(
			model.Direction(fields.Side).Mul(report.LastQuantity))
		entry.remaining = entry.remaining.Sub(report.LastQuantity)
	}
	if report.Status.IsTerminal() {
		delete(b.live, report.OrderID)
	}
}

// LiveOrders returns all non-terminal orders in submission order.
func (b *PositionOrderBook) LiveOrders() []model.Order {
	orders := make([]model.Order, 0, len(b.live))
	for _, id := range b.sequence {
		if entry, ok := b.live[id]; ok {
			orders = append(orders, entry.order)
		}
	}
	return orders
}

// OpeningOrders returns the live orders classified as opening. Earlier closing
// orders consume the position's closable quantity first, so a later closing
// order that overshoots what remains counts as opening.
func (b *PositionOrderBook) OpeningOrders() []model.Order {
	closable := b.closableQuantities()
	var opening []model.Order
	for _, id := range b.sequence {
		entry, ok := b.live[id]
		if !ok {
			continue
		}
		if b.classifyOpening(entry.order.Fields, entry.remaining, closable) {
			opening = append(opening, entry.order)
		}
	}
	return opening
}

// TestOpeningOrderSubmission reports whether submitting fields now would be
// an opening order, given the current position and the live orders already
// consuming it.
func (b *PositionOrderBook) TestOpeningOrderSubmission(fields model.OrderFields) bool {
	closable := b.closableQuantities()
	for _, id := range b.sequence {
		if entry, ok := b.live[id]; ok {
			b.classifyOpening(entry.order.Fields, entry.remaining, closable)
		}
	}
	return b.classifyOpening(fields, fields.Quantity, closable)
}

// Positions returns the current non-flat positions. Cost basis is not
// tracked here; the bookkeeper owns valuation.
func (b *PositionOrderBook) Positions() []model.Position {
	positions := make([]model.Position, 0, len(b.positions))
	for security, p := range b.positions {
		if p.quantity.IsZero() {
			continue
		}
		positions = append(positions, model.Position{
			Security: security,
			Currency: p.currency,
			Quantity: p.quantity,
		})
	}
	return positions
}

func (b *PositionOrderBook) position(security model.Security,
	currency model.Currency) *bookPosition {
	p, ok := b.positions[security]
	if !ok {
		p = &bookPosition{currency: currency}
		b.positions[security] = p
	}
	return p
}

// closableQuantities maps each security to the position magnitude still
// available for closing orders to consume.
func (b *PositionOrderBook) closableQuantities() map[model.Security]decimal.Decimal {
	closable := make(map[model.Security]decimal.Decimal, len(b.positions))
	for security, p := range b.positions {
		closable[security] = p.quantity.Abs()
	}
	return closable
}

// classifyOpening decides one order against the running closable quantities,
// consuming what it closes. An order on the position's own side, against a
// flat position, or exceeding the remaining closable quantity is opening.
func (b *PositionOrderBook) classifyOpening(fields model.OrderFields,
	remaining decimal.Decimal, closable map[model.Security]decimal.Decimal) bool {
	position, ok := b.positions[fields.Security]
	if !ok || position.quantity.IsZero() {
		return true
	}
	signed := model.Direction(fields.Side).Mul(remaining)
	if signed.Sign() == position.quantity.Sign() {
		return true
	}
	available := closable[fields.Security]
	take := decimal.Min(remaining, available)
	closable[fields.Security] = available.Sub(take)
	return remaining.GreaterThan(take)
}
