// Package accounting implements the cost-basis bookkeeping and portfolio
// valuation core of the risk engine.
package accounting

import (
	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/model"
)

// Key identifies one inventory: a security traded in a currency.
type Key struct {
	Security model.Security
	Currency model.Currency
}

// Bookkeeper tracks inventories from a stream of recorded transactions.
// Implementations are free to choose a costing method; the engine ships
// TrueAverageBookkeeper.
type Bookkeeper interface {
	// Record books a transaction. quantity is signed (+buy / -sell);
	// costBasis is the gross cash amount of the trade.
	Record(security model.Security, currency model.Currency,
		quantity, costBasis, fees decimal.Decimal)

	// Inventory returns the inventory for a key, materializing an empty
	// one for keys never traded.
	Inventory(security model.Security, currency model.Currency) model.Inventory

	// Total returns the currency-wide total inventory: the position-wise
	// sum of magnitudes across all securities in that currency.
	Total(currency model.Currency) model.Inventory

	// Inventories returns every per-security inventory ever recorded.
	Inventories() []model.Inventory
}

// TrueAverageBookkeeper implements true-average costing: opening and
// same-direction trades move the weighted average cost, and realized P&L is
// recognized only on the portion of a trade that reduces an existing
// position, at the position's average price.
type TrueAverageBookkeeper struct {
	inventories map[Key]*model.Inventory
	totals      map[model.Currency]*model.Inventory
}

// NewTrueAverageBookkeeper creates an empty bookkeeper.
func NewTrueAverageBookkeeper() *TrueAverageBookkeeper {
	return &TrueAverageBookkeeper{
		inventories: make(map[Key]*model.Inventory),
		totals:      make(map[model.Currency]*model.Inventory),
	}
}

// NewTrueAverageBookkeeperFromInventories seeds a bookkeeper from a saved
// snapshot, rebuilding the per-currency totals.
func NewTrueAverageBookkeeperFromInventories(inventories []model.Inventory) *TrueAverageBookkeeper {
	b := NewTrueAverageBookkeeper()
	for _, inv := range inventories {
		inv := inv
		key := Key{Security: inv.Position.Security, Currency: inv.Position.Currency}
		b.inventories[key] = &inv
		total := b.total(inv.Position.Currency)
		addMagnitudes(total, &inv)
		total.Fees = total.Fees.Add(inv.Fees)
		total.Volume = total.Volume.Add(inv.Volume)
		total.TransactionCount += inv.TransactionCount
	}
	return b
}

// Record books a transaction using true-average costing. A zero-quantity
// transaction still accrues fees and bumps the transaction count but
// performs no position math.
func (b *TrueAverageBookkeeper) Record(security model.Security,
	currency model.Currency, quantity, costBasis, fees decimal.Decimal) {
	entry := b.entry(security, currency)
	total := b.total(currency)

	remaining := quantity.Abs()
	entry.Fees = entry.Fees.Add(fees)
	entry.Volume = entry.Volume.Add(remaining)
	entry.TransactionCount++
	total.Fees = total.Fees.Add(fees)
	total.Volume = total.Volume.Add(remaining)
	total.TransactionCount++
	if quantity.IsZero() {
		return
	}

	price := costBasis.Div(quantity).Abs()
	direction := model.Direction(model.SideBid)
	if quantity.IsNegative() {
		direction = model.Direction(model.SideAsk)
	}

	// The entry's magnitudes are pulled out of the total and re-added once
	// the entry is up to date, so the total always equals the freshly
	// summed magnitudes after a record.
	subtractMagnitudes(total, entry)

	if !entry.Position.Quantity.IsZero() &&
		entry.Position.Quantity.Sign() != quantity.Sign() {
		// Reducing trade: realize P&L on the reduced portion at the
		// position's average price.
		reduction := decimal.Min(remaining, entry.Position.Quantity.Abs())
		if reduction.Equal(entry.Position.Quantity.Abs()) {
			// A full close realizes against the exact cost basis, so a
			// repeating average leaves no residue on the flat position.
			grossDelta := direction.Neg().Mul(reduction).Mul(price).
				Sub(entry.Position.CostBasis)
			entry.GrossProfitAndLoss = entry.GrossProfitAndLoss.Add(grossDelta)
			entry.Position.Quantity = decimal.Zero
			entry.Position.CostBasis = decimal.Zero
		} else {
			average := entry.Position.AveragePrice()
			grossDelta := direction.Neg().Mul(reduction).Mul(price.Sub(average))
			entry.GrossProfitAndLoss = entry.GrossProfitAndLoss.Add(grossDelta)
			entry.Position.Quantity = entry.Position.Quantity.Add(direction.Mul(reduction))
			entry.Position.CostBasis = entry.Position.CostBasis.Add(
				direction.Mul(reduction).Mul(average))
		}
		remaining = remaining.Sub(reduction)
		if remaining.IsZero() {
			addMagnitudes(total, entry)
			return
		}
	}

	// Opening trade, or the residue of a trade that flipped through flat:
	// acquired at the trade price.
	entry.Position.Quantity = entry.Position.Quantity.Add(direction.Mul(remaining))
	entry.Position.CostBasis = entry.Position.CostBasis.Add(
		direction.Mul(remaining).Mul(price))
	addMagnitudes(total, entry)
}

// Inventory returns the inventory for a key. Keys never traded yield an
// empty inventory rather than an error.
func (b *TrueAverageBookkeeper) Inventory(security model.Security,
	currency model.Currency) model.Inventory {
	key := Key{Security: security, Currency: currency}
	if entry, ok := b.inventories[key]; ok {
		return *entry
	}
	return emptyInventory(security, currency)
}

// Total returns the currency-wide total inventory.
func (b *TrueAverageBookkeeper) Total(currency model.Currency) model.Inventory {
	if total, ok := b.totals[currency]; ok {
		return *total
	}
	return emptyInventory(model.Security{}, currency)
}

// Inventories returns every per-security inventory ever recorded.
func (b *TrueAverageBookkeeper) Inventories() []model.Inventory {
	inventories := make([]model.Inventory, 0, len(b.inventories))
	for _, entry := range b.inventories {
		inventories = append(inventories, *entry)
	}
	return inventories
}

func (b *TrueAverageBookkeeper) entry(security model.Security,
	currency model.Currency) *model.Inventory {
	key := Key{Security: security, Currency: currency}
	entry, ok := b.inventories[key]
	if !ok {
		inv := emptyInventory(security, currency)
		entry = &inv
		b.inventories[key] = entry
	}
	return entry
}

func (b *TrueAverageBookkeeper) total(currency model.Currency) *model.Inventory {
	total, ok := b.totals[currency]
	if !ok {
		inv := emptyInventory(model.Security{}, currency)
		total = &inv
		b.totals[currency] = total
	}
	return total
}

func emptyInventory(security model.Security, currency model.Currency) model.Inventory {
	return model.Inventory{
		Position: model.Position{
			Security:  security,
			Currency:  currency,
			Quantity:  decimal.Zero,
			CostBasis: decimal.Zero,
		},
		GrossProfitAndLoss: decimal.Zero,
		Fees:               decimal.Zero,
		Volume:             decimal.Zero,
	}
}

// A total aggregates magnitudes, not netted quantities: two offsetting
// positions in different securities still represent traded size.
func subtractMagnitudes(total, entry *model.Inventory) {
	total.GrossProfitAndLoss = total.GrossProfitAndLoss.Sub(entry.GrossProfitAndLoss)
	total.Position.Quantity = total.Position.Quantity.Sub(entry.Position.Quantity.Abs())
	total.Position.CostBasis = total.Position.CostBasis.Sub(entry.Position.CostBasis.Abs())
}

func addMagnitudes(total, entry *model.Inventory) {
	total.GrossProfitAndLoss = total.GrossProfitAndLoss.Add(entry.GrossProfitAndLoss)
	total.Position.Quantity = total.Position.Quantity.Add(entry.Position.Quantity.Abs())
	total.Position.CostBasis = total.Position.CostBasis.Add(entry.Position.CostBasis.Abs())
}
