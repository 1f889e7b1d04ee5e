// Package risk implements the per-account risk-state engine and the
// transition machine that unwinds an account once trading is restricted.
package risk

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/accounting"
	"github.com/openclear/risk-engine/internal/metrics"
	"github.com/openclear/risk-engine/internal/model"
	"github.com/openclear/risk-engine/internal/rates"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

type valuationSource interface {
	UnrealizedCurrencies() []model.Currency
	UnrealizedCurrency(currency model.Currency) decimal.Decimal
	Total(currency model.Currency) model.Inventory
}

// StateModel drives an account's risk state from its portfolio and clock.
// The state is ACTIVE until the account's net loss reaches the configured
// maximum, then CLOSE_ORDERS with an expiry, then DISABLED once the expiry
// passes without recovery. A recovery above the loss line restores the
// allowed state immediately. Not safe for concurrent use.
type StateModel struct {
	portfolio  valuationSource
	rates      *rates.Table
	clock      Clock
	parameters model.RiskParameters
	state      model.RiskState
}

// NewStateModel creates a model in the allowed state and immediately runs
// both checks, so an account loaded into breach starts in CLOSE_ORDERS.
func NewStateModel(portfolio valuationSource, parameters model.RiskParameters,
	table *rates.Table, clock Clock) *StateModel {
	m := &StateModel{
		portfolio:  portfolio,
		rates:      table,
		clock:      clock,
		parameters: parameters,
		state:      parameters.AllowedState,
	}
	m.UpdateTime()
	m.UpdatePortfolio()
	return m
}

// State returns the current risk state.
func (m *StateModel) State() model.RiskState {
	return m.state
}

// Parameters returns the working parameter set.
func (m *StateModel) Parameters() model.RiskParameters {
	return m.parameters
}

// Update replaces the parameter set wholesale and re-evaluates. An ACTIVE
// account snaps to the new allowed state; a latched account stays latched
// until it recovers.
func (m *StateModel) Update(parameters model.RiskParameters) {
	m.parameters = parameters
	if m.state.Type == model.RiskActive {
		m.state = parameters.AllowedState
	}
	m.UpdateTime()
	m.UpdatePortfolio()
}

// UpdateTime expires a CLOSE_ORDERS state into DISABLED. A zero expiry never
// fires.
func (m *StateModel) UpdateTime() {
	if m.state.Type != model.RiskCloseOrders || m.state.Expiry.IsZero() {
		return
	}
	if !m.clock.Now().Before(m.state.Expiry) {
		m.state = model.RiskState{Type: model.RiskDisabled}
	}
}

// UpdatePortfolio re-evaluates the account's net P&L against the maximum net
// loss. Each valued currency contributes its realized and unrealized P&L
// converted to the settlement currency; a currency that cannot be converted
// latches an ACTIVE account into CLOSE_ORDERS rather than trading blind.
func (m *StateModel) UpdatePortfolio() {
	if m.parameters.Currency == "" {
		return
	}
	total := decimal.Zero
	for _, currency := range m.portfolio.UnrealizedCurrencies() {
		realized := accounting.RealizedProfitAndLoss(m.portfolio.Total(currency))
		pnl := realized.Add(m.portfolio.UnrealizedCurrency(currency))
		converted, err := m.rates.Convert(pnl, currency, m.parameters.Currency)
		if err != nil {
			metrics.ConversionFailures.Inc()
			slog.Warn("risk: cannot value currency, closing orders",
				"currency", currency,
				"settlement", m.parameters.Currency,
				"error", err)
			m.latch()
			return
		}
		total = total.Add(converted)
	}
	if total.LessThanOrEqual(m.parameters.MaxNetLoss.Neg()) {
		m.latch()
	} else if m.state.Type != model.RiskActive {
		m.state = m.parameters.AllowedState
	}
}

// latch moves an ACTIVE account to CLOSE_ORDERS with a fresh expiry. A state
// already latched keeps its original expiry.
func (m *StateModel) latch() {
	if m.state.Type != model.RiskActive {
		return
	}
	m.state = model.RiskState{
		Type:   model.RiskCloseOrders,
		Expiry: m.clock.Now().Add(m.parameters.TransitionDuration),
	}
}
