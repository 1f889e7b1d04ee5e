// Package model defines the core domain types shared across the risk engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 currency code, e.g. "USD".
type Currency string

// Account identifies one trading account. Every portfolio, risk state and
// transition machine is scoped to a single account.
type Account string

// OrderID identifies an order across its execution report stream.
type OrderID string

// Security identifies a tradable instrument by symbol and venue.
type Security struct {
	Symbol string `json:"symbol"`
	Venue  string `json:"venue"`
}

func (s Security) String() string {
	return s.Symbol + "." + s.Venue
}

// Side is the side of an order.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// Direction returns +1 for a bid (buy) and -1 for an ask (sell).
func Direction(side Side) decimal.Decimal {
	if side == SideAsk {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the side that reduces a position opened on this side.
func Opposite(side Side) Side {
	if side == SideBid {
		return SideAsk
	}
	return SideBid
}

// OrderType distinguishes limit and market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus is the lifecycle status carried by an execution report.
type OrderStatus string

const (
	StatusPendingNew      OrderStatus = "PENDING_NEW"
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further reports follow this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// OrderFields are the immutable parameters of an order submission.
type OrderFields struct {
	Account     Account         `json:"account"`
	Security    Security        `json:"security"`
	Currency    Currency        `json:"currency"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Type        OrderType       `json:"type"`
	Destination string          `json:"destination"`
}

// Order pairs an id with its submission fields.
type Order struct {
	ID        OrderID     `json:"id"`
	Fields    OrderFields `json:"fields"`
	Timestamp time.Time   `json:"timestamp"`
}

// ExecutionReport is one update in an order's execution stream. A stream
// terminates in exactly one terminal status.
type ExecutionReport struct {
	OrderID       OrderID         `json:"order_id"`
	Status        OrderStatus     `json:"status"`
	LastQuantity  decimal.Decimal `json:"last_quantity"`
	LastPrice     decimal.Decimal `json:"last_price"`
	Commission    decimal.Decimal `json:"commission"`
	ExecutionFee  decimal.Decimal `json:"execution_fee"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	Timestamp     time.Time       `json:"timestamp"`
}

// FeeTotal is the sum of all fees on a report.
func (r ExecutionReport) FeeTotal() decimal.Decimal {
	return r.Commission.Add(r.ExecutionFee).Add(r.ProcessingFee)
}

// Quote is a two-sided market snapshot. A zero price means the side is
// absent from this update.
type Quote struct {
	Security Security        `json:"security"`
	Ask      decimal.Decimal `json:"ask"`
	Bid      decimal.Decimal `json:"bid"`
}

// Position is a signed holding in one security and currency. CostBasis is
// the total cash paid (positive) or received (negative) to acquire Quantity;
// when Quantity is zero, CostBasis is zero.
type Position struct {
	Security  Security        `json:"security"`
	Currency  Currency        `json:"currency"`
	Quantity  decimal.Decimal `json:"quantity"`
	CostBasis decimal.Decimal `json:"cost_basis"`
}

// AveragePrice returns CostBasis / Quantity, or zero for a flat position.
func (p Position) AveragePrice() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.CostBasis.Div(p.Quantity)
}

// Inventory is a position together with its accumulated trading activity.
// GrossProfitAndLoss accumulates realized gains from reducing trades only;
// it never reflects open-position marks.
type Inventory struct {
	Position           Position        `json:"position"`
	GrossProfitAndLoss decimal.Decimal `json:"gross_profit_and_loss"`
	Fees               decimal.Decimal `json:"fees"`
	Volume             decimal.Decimal `json:"volume"`
	TransactionCount   int64           `json:"transaction_count"`
}

// IsEmpty reports whether the inventory has never recorded a transaction.
func (v Inventory) IsEmpty() bool {
	return v.TransactionCount == 0 && v.Position.Quantity.IsZero()
}

// RiskStateType enumerates the discrete risk states.
type RiskStateType string

const (
	// RiskActive allows trading.
	RiskActive RiskStateType = "ACTIVE"

	// RiskCloseOrders allows only position-reducing activity and counts
	// down to RiskDisabled.
	RiskCloseOrders RiskStateType = "CLOSE_ORDERS"

	// RiskDisabled requires the account to be flat; no new risk.
	RiskDisabled RiskStateType = "DISABLED"
)

// RiskState is a risk state tagged with an expiry. Only CLOSE_ORDERS carries
// a finite, meaningful expiry; a zero Expiry is treated as infinite.
type RiskState struct {
	Type   RiskStateType `json:"type"`
	Expiry time.Time     `json:"expiry,omitempty"`
}

// Equal compares by (type, expiry).
func (s RiskState) Equal(o RiskState) bool {
	return s.Type == o.Type && s.Expiry.Equal(o.Expiry)
}

// RiskParameters is the full-replacement parameter set pushed by an external
// authority. The engine swaps its working copy wholesale on update; fields
// are never merged individually.
type RiskParameters struct {
	Currency           Currency        `json:"currency"`
	BuyingPower        decimal.Decimal `json:"buying_power"`
	AllowedState       RiskState       `json:"allowed_state"`
	MaxNetLoss         decimal.Decimal `json:"max_net_loss"`
	TransitionDuration time.Duration   `json:"transition_duration"`
}
