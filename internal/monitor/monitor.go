package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openclear/risk-engine/internal/accounting"
	"github.com/openclear/risk-engine/internal/events"
	"github.com/openclear/risk-engine/internal/metrics"
	"github.com/openclear/risk-engine/internal/model"
	"github.com/openclear/risk-engine/internal/rates"
	"github.com/openclear/risk-engine/internal/risk"
	"github.com/openclear/risk-engine/internal/store"
)

var (
	// ErrAccountDisabled rejects submissions while the account is DISABLED.
	ErrAccountDisabled = errors.New("monitor: account disabled")

	// ErrClosingOnly rejects opening submissions while the account is
	// CLOSE_ORDERS.
	ErrClosingOnly = errors.New("monitor: account restricted to closing orders")

	// ErrInsufficientBuyingPower rejects submissions exceeding the account's
	// buying power.
	ErrInsufficientBuyingPower = errors.New("monitor: insufficient buying power")
)

// RiskStateEvent is a published risk-state change.
type RiskStateEvent struct {
	Account model.Account   `json:"account"`
	State   model.RiskState `json:"state"`
}

// PortfolioEvent is a published portfolio update.
type PortfolioEvent struct {
	Account model.Account `json:"account"`
	accounting.PortfolioUpdateEntry
}

type portfolioKey struct {
	account  model.Account
	security model.Security
}

type accountEntry struct {
	account     model.Account
	queue       *events.TaskQueue
	portfolio   *PortfolioMonitor
	state       *risk.StateModel
	transition  *risk.TransitionModel
	buyingPower *accounting.BuyingPowerModel
	sequence    int64
	lastState   model.RiskState
}

// Config carries the collaborators of a RiskMonitor.
type Config struct {
	Client risk.OrderExecutionClient
	Store  store.Store
	Rates  *rates.Table
	Venues model.VenueDatabase
	Clock  risk.Clock

	// Parameters is the default parameter set applied to accounts seen for
	// the first time, until an authority pushes their own.
	Parameters model.RiskParameters

	// TimerInterval is the cadence of the expiry timer driven by Run.
	TimerInterval time.Duration
}

// RiskMonitor supervises every account: it admits order submissions, routes
// quotes and execution reports onto per-account task queues, drives each
// account's risk state and transition machine, persists inventory snapshots,
// and publishes risk-state and portfolio events.
type RiskMonitor struct {
	client   risk.OrderExecutionClient
	store    store.Store
	rates    *rates.Table
	venues   model.VenueDatabase
	clock    risk.Clock
	defaults model.RiskParameters
	interval time.Duration

	mu            sync.Mutex
	accounts      map[model.Account]*accountEntry
	orderAccounts map[model.OrderID]model.Account
	riskStates    map[model.Account]model.RiskState
	portfolios    map[portfolioKey]PortfolioEvent

	riskEvents      *events.SnapshotPublisher[RiskStateEvent]
	portfolioEvents *events.SnapshotPublisher[PortfolioEvent]
}

// NewRiskMonitor creates a monitor. Accounts are created lazily on their
// first submission or parameter update, or eagerly via LoadAccounts.
func NewRiskMonitor(cfg Config) *RiskMonitor {
	if cfg.Clock == nil {
		cfg.Clock = risk.SystemClock{}
	}
	if cfg.TimerInterval <= 0 {
		cfg.TimerInterval = time.Second
	}
	m := &RiskMonitor{
		client:        cfg.Client,
		store:         cfg.Store,
		rates:         cfg.Rates,
		venues:        cfg.Venues,
		clock:         cfg.Clock,
		defaults:      cfg.Parameters,
		interval:      cfg.TimerInterval,
		accounts:      make(map[model.Account]*accountEntry),
		orderAccounts: make(map[model.OrderID]model.Account),
		riskStates:    make(map[model.Account]model.RiskState),
		portfolios:    make(map[portfolioKey]PortfolioEvent),
	}
	m.riskEvents = events.NewSnapshotPublisher(m.riskStateSnapshot)
	m.portfolioEvents = events.NewSnapshotPublisher(m.portfolioSnapshot)
	return m
}

// LoadAccounts creates an entry for every account with a saved snapshot, so
// a restarted engine resumes watching positions it was carrying.
func (m *RiskMonitor) LoadAccounts(ctx context.Context) error {
	accounts, err := m.store.Accounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if _, err := m.ensureAccount(ctx, account); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeRiskStates registers a risk-state subscriber; the snapshot holds
// every account's current state.
func (m *RiskMonitor) SubscribeRiskStates(buffer int) ([]RiskStateEvent, <-chan RiskStateEvent, func()) {
	return m.riskEvents.Subscribe(buffer)
}

// SubscribePortfolios registers a portfolio subscriber; the snapshot holds
// the latest publishable entry per account and security.
func (m *RiskMonitor) SubscribePortfolios(buffer int) ([]PortfolioEvent, <-chan PortfolioEvent, func()) {
	return m.portfolioEvents.Subscribe(buffer)
}

// RiskState returns an account's last published risk state.
func (m *RiskMonitor) RiskState(account model.Account) (model.RiskState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.riskStates[account]
	return state, ok
}

// SubmitOrder admits an order: the account must not be DISABLED, an account
// in CLOSE_ORDERS may only reduce positions, and the projected exposure must
// fit the account's buying power. An admitted order is registered with the
// account's books; the caller routes it to the market.
func (m *RiskMonitor) SubmitOrder(ctx context.Context, order model.Order) error {
	entry, err := m.ensureAccount(ctx, order.Fields.Account)
	if err != nil {
		return err
	}
	return m.call(ctx, entry, func() error {
		switch entry.state.State().Type {
		case model.RiskDisabled:
			metrics.SubmissionRejections.WithLabelValues("disabled").Inc()
			return ErrAccountDisabled
		case model.RiskCloseOrders:
			if entry.transition.TestOpeningOrderSubmission(order.Fields) {
				metrics.SubmissionRejections.WithLabelValues("closing_only").Inc()
				return ErrClosingOnly
			}
		}
		buyingPower := entry.state.Parameters().BuyingPower
		if !entry.buyingPower.HasBuyingPower(order.Fields, buyingPower) {
			metrics.SubmissionRejections.WithLabelValues("buying_power").Inc()
			return ErrInsufficientBuyingPower
		}
		m.registerOrder(entry, order)
		return nil
	})
}

// UpdateExecutionReport routes a report to the account that owns its order.
// Reports for unknown orders are dropped.
func (m *RiskMonitor) UpdateExecutionReport(report model.ExecutionReport) {
	m.mu.Lock()
	account, ok := m.orderAccounts[report.OrderID]
	var entry *accountEntry
	if ok {
		entry = m.accounts[account]
		if report.Status.IsTerminal() {
			delete(m.orderAccounts, report.OrderID)
		}
	}
	m.mu.Unlock()
	if entry == nil {
		slog.Warn("monitor: report for unknown order", "order", report.OrderID)
		return
	}
	entry.queue.Push(func() {
		fields, known := entry.portfolio.Fields(report.OrderID)
		update, publishable, changed := entry.portfolio.HandleReport(report)
		if known {
			entry.buyingPower.Update(fields, report)
		}
		entry.transition.UpdateReport(context.Background(), report)
		if !changed {
			return
		}
		entry.sequence++
		if publishable {
			m.publishPortfolio(entry, update)
		}
		m.saveSnapshot(entry)
		entry.state.UpdatePortfolio()
		m.syncState(entry)
	})
}

// UpdateQuote fans a quote out to every account. Each account drops quotes
// identical to its last for the security.
func (m *RiskMonitor) UpdateQuote(quote model.Quote) {
	for _, entry := range m.entries() {
		entry := entry
		entry.queue.Push(func() {
			update, publishable, changed := entry.portfolio.HandleQuote(quote)
			if !changed {
				return
			}
			if publishable {
				m.publishPortfolio(entry, update)
			}
			entry.state.UpdatePortfolio()
			m.syncState(entry)
		})
	}
}

// UpdateParameters replaces an account's risk parameters wholesale.
func (m *RiskMonitor) UpdateParameters(ctx context.Context,
	account model.Account, parameters model.RiskParameters) error {
	entry, err := m.ensureAccount(ctx, account)
	if err != nil {
		return err
	}
	entry.queue.Push(func() {
		entry.state.Update(parameters)
		m.syncState(entry)
	})
	return nil
}

// Run drives the expiry timer until the context ends. Timer delay only
// delays the CLOSE_ORDERS expiry; it never skips it.
func (m *RiskMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick runs the expiry check once across all accounts.
func (m *RiskMonitor) Tick() {
	for _, entry := range m.entries() {
		entry := entry
		entry.queue.Push(func() {
			entry.state.UpdateTime()
			m.syncState(entry)
		})
	}
}

// Close drains every account queue and persists a final snapshot.
func (m *RiskMonitor) Close() {
	for _, entry := range m.entries() {
		entry.queue.Push(func() { m.saveSnapshot(entry) })
		entry.queue.Close()
	}
}

func (m *RiskMonitor) entries() []*accountEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]*accountEntry, 0, len(m.accounts))
	for _, entry := range m.accounts {
		entries = append(entries, entry)
	}
	return entries
}

// ensureAccount returns the account's entry, creating and seeding it from
// the snapshot store on first sight.
func (m *RiskMonitor) ensureAccount(ctx context.Context,
	account model.Account) (*accountEntry, error) {
	m.mu.Lock()
	if entry, ok := m.accounts[account]; ok {
		m.mu.Unlock()
		return entry, nil
	}
	m.mu.Unlock()

	snapshot, err := m.store.LoadSnapshot(ctx, account)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if entry, ok := m.accounts[account]; ok {
		m.mu.Unlock()
		return entry, nil
	}

	bookkeeper := accounting.NewTrueAverageBookkeeperFromInventories(snapshot.Inventories)
	portfolio := accounting.NewPortfolio(bookkeeper, m.venues)
	entry := &accountEntry{
		account:   account,
		queue:     events.NewTaskQueue(256),
		portfolio: NewPortfolioMonitor(portfolio),
		state:     risk.NewStateModel(portfolio, m.defaults, m.rates, m.clock),
		transition: risk.NewTransitionModel(account,
			openPositions(snapshot.Inventories),
			&trackingClient{monitor: m, account: account, inner: m.client},
			m.venues),
		buyingPower: accounting.NewBuyingPowerModel(),
		sequence:    snapshot.Sequence,
	}
	entry.lastState = entry.state.State()
	m.accounts[account] = entry
	m.riskStates[account] = entry.lastState
	m.mu.Unlock()
	slog.Info("monitor: account created",
		"account", account,
		"state", entry.lastState.Type,
		"inventories", len(snapshot.Inventories))

	// An account loaded into breach starts latched; the transition machine
	// must hear about it.
	state := entry.lastState
	m.riskEvents.Publish(RiskStateEvent{Account: account, State: state})
	if state.Type != model.RiskActive {
		entry.queue.Push(func() {
			entry.transition.UpdateState(context.Background(), state)
		})
	}
	return entry, nil
}

// registerOrder must run on the account's queue.
func (m *RiskMonitor) registerOrder(entry *accountEntry, order model.Order) {
	entry.portfolio.AddOrder(order)
	entry.buyingPower.Submit(order)
	entry.transition.Add(order)
	m.mu.Lock()
	m.orderAccounts[order.ID] = entry.account
	m.mu.Unlock()
}

// syncState publishes the account's risk state if it changed and drives the
// transition machine. Must run on the account's queue.
func (m *RiskMonitor) syncState(entry *accountEntry) {
	state := entry.state.State()
	if state.Equal(entry.lastState) {
		return
	}
	entry.lastState = state
	m.mu.Lock()
	m.riskStates[entry.account] = state
	m.mu.Unlock()
	metrics.RiskStateTransitions.WithLabelValues(string(state.Type)).Inc()
	slog.Info("monitor: risk state changed",
		"account", entry.account,
		"state", state.Type,
		"expiry", state.Expiry)
	m.riskEvents.Publish(RiskStateEvent{Account: entry.account, State: state})
	entry.transition.UpdateState(context.Background(), state)
}

// publishPortfolio must run on the account's queue.
func (m *RiskMonitor) publishPortfolio(entry *accountEntry,
	update accounting.PortfolioUpdateEntry) {
	event := PortfolioEvent{Account: entry.account, PortfolioUpdateEntry: update}
	key := portfolioKey{
		account:  entry.account,
		security: update.SecurityInventory.Position.Security,
	}
	m.mu.Lock()
	m.portfolios[key] = event
	m.mu.Unlock()
	metrics.PortfolioUpdates.Inc()
	m.portfolioEvents.Publish(event)
}

// saveSnapshot must run on the account's queue.
func (m *RiskMonitor) saveSnapshot(entry *accountEntry) {
	snapshot := store.Snapshot{
		Inventories: entry.portfolio.Portfolio().Bookkeeper().Inventories(),
		Sequence:    entry.sequence,
	}
	if err := m.store.SaveSnapshot(context.Background(), entry.account, snapshot); err != nil {
		slog.Error("monitor: snapshot save failed",
			"account", entry.account,
			"error", err)
	}
}

// call runs fn on the account's queue and waits for its result.
func (m *RiskMonitor) call(ctx context.Context, entry *accountEntry,
	fn func() error) error {
	result := make(chan error, 1)
	entry.queue.Push(func() { result <- fn() })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RiskStates returns every account's current risk state.
func (m *RiskMonitor) RiskStates() []RiskStateEvent {
	return m.riskStateSnapshot()
}

// PortfolioEntries returns the latest publishable entry per account and
// security.
func (m *RiskMonitor) PortfolioEntries() []PortfolioEvent {
	return m.portfolioSnapshot()
}

func (m *RiskMonitor) riskStateSnapshot() []RiskStateEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]RiskStateEvent, 0, len(m.riskStates))
	for account, state := range m.riskStates {
		snapshot = append(snapshot, RiskStateEvent{Account: account, State: state})
	}
	return snapshot
}

func (m *RiskMonitor) portfolioSnapshot() []PortfolioEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]PortfolioEvent, 0, len(m.portfolios))
	for _, event := range m.portfolios {
		snapshot = append(snapshot, event)
	}
	return snapshot
}

func openPositions(inventories []model.Inventory) []model.Position {
	var positions []model.Position
	for _, inv := range inventories {
		if !inv.Position.Quantity.IsZero() {
			positions = append(positions, inv.Position)
		}
	}
	return positions
}

// trackingClient wraps the execution client so flattening orders submitted
// by a transition machine are registered like any other order and their
// reports route back to the account.
type trackingClient struct {
	monitor *RiskMonitor
	account model.Account
	inner   risk.OrderExecutionClient
}

func (c *trackingClient) Cancel(ctx context.Context, order model.Order) error {
	return c.inner.Cancel(ctx, order)
}

func (c *trackingClient) Submit(ctx context.Context,
	fields model.OrderFields) (model.Order, error) {
	order, err := c.inner.Submit(ctx, fields)
	if err != nil {
		return model.Order{}, err
	}
	c.monitor.mu.Lock()
	entry := c.monitor.accounts[c.account]
	c.monitor.orderAccounts[order.ID] = c.account
	c.monitor.mu.Unlock()
	entry.portfolio.AddOrder(order)
	return order, nil
}