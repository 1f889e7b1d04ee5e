package risk

import (
	"context"
	"log/slog"

	"github.com/openclear/risk-engine/internal/accounting"
	"github.com/openclear/risk-engine/internal/metrics"
	"github.com/openclear/risk-engine/internal/model"
)

// OrderExecutionClient is the execution collaborator the transition model
// unwinds an account through.
type OrderExecutionClient interface {
	Cancel(ctx context.Context, order model.Order) error
	Submit(ctx context.Context, fields model.OrderFields) (model.Order, error)
}

// Phase is one step of the unwind sequence. Monitoring, resting in close
// orders, awaiting cancels and flattened are resting phases; the others are
// transient actions passed through on the way.
type Phase int

const (
	// PhaseMonitoring is the resting phase while trading is allowed.
	PhaseMonitoring Phase = iota

	// PhaseCancelingOpening cancels every opening order.
	PhaseCancelingOpening

	// PhaseCloseOrders rests with only closing orders live.
	PhaseCloseOrders

	// PhaseCancelingAll cancels every live order.
	PhaseCancelingAll

	// PhaseAwaitingCancels rests until every canceled order terminates.
	PhaseAwaitingCancels

	// PhaseFlattening submits market orders against every open position.
	PhaseFlattening

	// PhaseFlattened rests with the account unwound.
	PhaseFlattened
)

func (p Phase) String() string {
	switch p {
	case PhaseMonitoring:
		return "MONITORING"
	case PhaseCancelingOpening:
		return "CANCELING_OPENING"
	case PhaseCloseOrders:
		return "CLOSE_ORDERS"
	case PhaseCancelingAll:
		return "CANCELING_ALL"
	case PhaseAwaitingCancels:
		return "AWAITING_CANCELS"
	case PhaseFlattening:
		return "FLATTENING"
	case PhaseFlattened:
		return "FLATTENED"
	}
	return "UNKNOWN"
}

// TransitionModel executes risk-state transitions against the market. On
// CLOSE_ORDERS it cancels opening orders; on DISABLED it cancels everything,
// waits for the cancels to land, then flattens the remaining positions with
// market orders. Not safe for concurrent use; the account's task queue
// serializes all three update streams.
type TransitionModel struct {
	account     model.Account
	book        *accounting.PositionOrderBook
	client      OrderExecutionClient
	venues      model.VenueDatabase
	phase       Phase
	outstanding map[model.OrderID]struct{}
}

// NewTransitionModel creates a model over an account's existing positions,
// typically loaded from an inventory snapshot. It starts monitoring; the
// first risk-state update drives it from there.
func NewTransitionModel(account model.Account, positions []model.Position,
	client OrderExecutionClient, venues model.VenueDatabase) *TransitionModel {
	return &TransitionModel{
		account:     account,
		book:        accounting.NewPositionOrderBookFromPositions(positions),
		client:      client,
		venues:      venues,
		phase:       PhaseMonitoring,
		outstanding: make(map[model.OrderID]struct{}),
	}
}

// Phase returns the current phase.
func (m *TransitionModel) Phase() Phase {
	return m.phase
}

// TestOpeningOrderSubmission reports whether submitting fields now would add
// new risk, given the account's positions and live orders.
func (m *TransitionModel) TestOpeningOrderSubmission(fields model.OrderFields) bool {
	return m.book.TestOpeningOrderSubmission(fields)
}

// Add registers an order submission for book maintenance. Submissions are
// tracked in every phase; the venue gate rejecting them is elsewhere.
func (m *TransitionModel) Add(order model.Order) {
	m.book.Add(order)
}

// UpdateReport applies an execution report. The order book is maintained in
// every phase; while awaiting cancels, a terminal report retires its order
// from the outstanding set and the last one triggers flattening.
func (m *TransitionModel) UpdateReport(ctx context.Context, report model.ExecutionReport) {
	m.book.Update(report)
	if m.phase != PhaseAwaitingCancels || !report.Status.IsTerminal() {
		return
	}
	delete(m.outstanding, report.OrderID)
	if len(m.outstanding) == 0 {
		m.flatten(ctx)
	}
}

// UpdateState reacts to a risk-state change. Reverting to ACTIVE from any
// resting phase resumes monitoring, including mid-unwind before the
// flattening step has fired.
func (m *TransitionModel) UpdateState(ctx context.Context, state model.RiskState) {
	switch state.Type {
	case model.RiskActive:
		m.outstanding = make(map[model.OrderID]struct{})
		m.phase = PhaseMonitoring
	case model.RiskCloseOrders:
		if m.phase == PhaseMonitoring {
			m.cancelOpening(ctx)
		}
	case model.RiskDisabled:
		if m.phase == PhaseMonitoring || m.phase == PhaseCloseOrders {
			m.cancelAll(ctx)
		}
	}
}

func (m *TransitionModel) cancelOpening(ctx context.Context) {
	m.phase = PhaseCancelingOpening
	for _, order := range m.book.OpeningOrders() {
		m.cancel(ctx, order)
	}
	m.phase = PhaseCloseOrders
}

func (m *TransitionModel) cancelAll(ctx context.Context) {
	m.phase = PhaseCancelingAll
	m.outstanding = make(map[model.OrderID]struct{})
	for _, order := range m.book.LiveOrders() {
		m.cancel(ctx, order)
		m.outstanding[order.ID] = struct{}{}
	}
	if len(m.outstanding) == 0 {
		m.flatten(ctx)
		return
	}
	m.phase = PhaseAwaitingCancels
}

// flatten submits a market order against every open position. A failed
// submission leaves its position standing; it is logged and retried on the
// next DISABLED transition rather than looping here.
func (m *TransitionModel) flatten(ctx context.Context) {
	m.phase = PhaseFlattening
	for _, position := range m.book.Positions() {
		fields := m.flatteningFields(position)
		order, err := m.client.Submit(ctx, fields)
		if err != nil {
			metrics.FlatteningSubmissions.WithLabelValues("failed").Inc()
			slog.Error("risk: flattening submission failed",
				"account", m.account,
				"security", position.Security,
				"quantity", position.Quantity,
				"error", err)
			continue
		}
		metrics.FlatteningSubmissions.WithLabelValues("submitted").Inc()
		m.book.Add(order)
	}
	m.phase = PhaseFlattened
}

func (m *TransitionModel) flatteningFields(position model.Position) model.OrderFields {
	side := model.SideAsk
	if position.Quantity.Sign() < 0 {
		side = model.SideBid
	}
	currency := position.Currency
	if currency == "" {
		currency = m.venues.CurrencyOf(position.Security)
	}
	return model.OrderFields{
		Account:     m.account,
		Security:    position.Security,
		Currency:    currency,
		Side:        side,
		Quantity:    position.Quantity.Abs(),
		Type:        model.OrderTypeMarket,
		Destination: m.venues.DestinationOf(position.Security),
	}
}

func (m *TransitionModel) cancel(ctx context.Context, order model.Order) {
	if err := m.client.Cancel(ctx, order); err != nil {
		slog.Error("risk: cancel failed",
			"account", m.account,
			"order", order.ID,
			"error", err)
	}
}
