package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openclear/risk-engine/internal/model"
	"github.com/openclear/risk-engine/internal/rates"
	"github.com/openclear/risk-engine/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

type fakeMarket struct {
	mu        sync.Mutex
	canceled  []model.OrderID
	submitted []model.OrderFields
	nextID    int
}

func (c *fakeMarket) Cancel(_ context.Context, order model.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, order.ID)
	return nil
}

func (c *fakeMarket) Submit(_ context.Context,
	fields model.OrderFields) (model.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.submitted = append(c.submitted, fields)
	return model.Order{
		ID:     model.OrderID(fmt.Sprintf("F-%d", c.nextID)),
		Fields: fields,
	}, nil
}

func (c *fakeMarket) submissions() []model.OrderFields {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.OrderFields(nil), c.submitted...)
}

func testMonitor(t *testing.T) (*RiskMonitor, *fakeMarket, *fakeClock, *store.MemoryStore) {
	t.Helper()
	table := rates.NewTable()
	if err := table.Add("USD", "CAD", d(0.5)); err != nil {
		t.Fatal(err)
	}
	client := &fakeMarket{}
	st := store.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2023, 5, 17, 13, 11, 0, 0, time.UTC)}
	m := NewRiskMonitor(Config{
		Client: client,
		Store:  st,
		Rates:  table,
		Venues: model.DefaultVenues(),
		Clock:  clock,
		Parameters: model.RiskParameters{
			Currency:           "USD",
			BuyingPower:        d(100000),
			AllowedState:       model.RiskState{Type: model.RiskActive},
			MaxNetLoss:         d(100),
			TransitionDuration: time.Minute,
		},
		TimerInterval: time.Second,
	})
	t.Cleanup(m.Close)
	return m, client, clock, st
}

func waitForState(t *testing.T, ch <-chan RiskStateEvent,
	want model.RiskStateType) RiskStateEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-ch:
			if event.State.Type == want {
				return event
			}
		case <-deadline:
			t.Fatalf("no %s risk-state event", want)
		}
	}
}

func fillReport(id model.OrderID, quantity, price float64) model.ExecutionReport {
	return model.ExecutionReport{
		OrderID:      id,
		Status:       model.StatusFilled,
		LastQuantity: d(quantity),
		LastPrice:    d(price),
	}
}

func TestMonitorBreachClosesOrders(t *testing.T) {
	ctx := context.Background()
	m, _, _, _ := testMonitor(t)
	_, states, cancel := m.SubscribeRiskStates(16)
	defer cancel()

	order := testBuy("O-1", 100, 2)
	if err := m.SubmitOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	m.UpdateExecutionReport(fillReport(order.ID, 100, 2))
	m.UpdateQuote(model.Quote{Security: tsla, Ask: d(1.05), Bid: d(1)})

	event := waitForState(t, states, model.RiskCloseOrders)
	if event.Account != "trader" {
		t.Errorf("event account = %s, want trader", event.Account)
	}

	// While closing orders, opening new risk is rejected but reducing the
	// position is admitted.
	opening := testBuy("O-2", 10, 1)
	if err := m.SubmitOrder(ctx, opening); !errors.Is(err, ErrClosingOnly) {
		t.Errorf("opening submission error = %v, want ErrClosingOnly", err)
	}
	closing := testBuy("O-3", 100, 1)
	closing.Fields.Side = model.SideAsk
	if err := m.SubmitOrder(ctx, closing); err != nil {
		t.Errorf("closing submission error = %v, want admitted", err)
	}
}

func TestMonitorExpiryDisablesAndFlattens(t *testing.T) {
	ctx := context.Background()
	m, client, clock, _ := testMonitor(t)
	_, states, cancel := m.SubscribeRiskStates(16)
	defer cancel()

	order := testBuy("O-1", 100, 2)
	if err := m.SubmitOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	m.UpdateExecutionReport(fillReport(order.ID, 100, 2))
	m.UpdateQuote(model.Quote{Security: tsla, Ask: d(1.05), Bid: d(1)})
	waitForState(t, states, model.RiskCloseOrders)

	clock.advance(time.Minute)
	m.Tick()
	waitForState(t, states, model.RiskDisabled)

	deadline := time.After(2 * time.Second)
	for {
		if flat := client.submissions(); len(flat) == 1 {
			if flat[0].Side != model.SideAsk || !flat[0].Quantity.Equal(d(100)) {
				t.Errorf("flattening order = %+v", flat[0])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("no flattening submission after DISABLED")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMonitorRecoveryReactivates(t *testing.T) {
	ctx := context.Background()
	m, _, _, _ := testMonitor(t)
	_, states, cancel := m.SubscribeRiskStates(16)
	defer cancel()

	order := testBuy("O-1", 100, 2)
	if err := m.SubmitOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	m.UpdateExecutionReport(fillReport(order.ID, 100, 2))
	m.UpdateQuote(model.Quote{Security: tsla, Ask: d(1.05), Bid: d(1)})
	waitForState(t, states, model.RiskCloseOrders)

	m.UpdateQuote(model.Quote{Security: tsla, Ask: d(1.95), Bid: d(1.9)})
	waitForState(t, states, model.RiskActive)
}

func TestMonitorBuyingPowerRejection(t *testing.T) {
	ctx := context.Background()
	m, _, _, _ := testMonitor(t)

	order := testBuy("O-1", 1000, 200)
	if err := m.SubmitOrder(ctx, order); !errors.Is(err, ErrInsufficientBuyingPower) {
		t.Errorf("error = %v, want ErrInsufficientBuyingPower", err)
	}
}

func TestMonitorDisabledByParametersRejectsAll(t *testing.T) {
	ctx := context.Background()
	m, _, _, _ := testMonitor(t)
	_, states, cancel := m.SubscribeRiskStates(16)
	defer cancel()

	if err := m.UpdateParameters(ctx, "trader", model.RiskParameters{
		Currency:     "USD",
		BuyingPower:  d(100000),
		AllowedState: model.RiskState{Type: model.RiskDisabled},
		MaxNetLoss:   d(100),
	}); err != nil {
		t.Fatal(err)
	}
	waitForState(t, states, model.RiskDisabled)

	closing := testBuy("O-1", 1, 1)
	closing.Fields.Side = model.SideAsk
	if err := m.SubmitOrder(ctx, closing); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("error = %v, want ErrAccountDisabled", err)
	}
}

func TestMonitorPersistsAndReloadsSnapshots(t *testing.T) {
	ctx := context.Background()
	m, _, _, st := testMonitor(t)
	_, portfolios, cancel := m.SubscribePortfolios(16)
	defer cancel()

	order := testBuy("O-1", 100, 2)
	if err := m.SubmitOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	m.UpdateQuote(model.Quote{Security: tsla, Ask: d(2.05), Bid: d(2)})
	m.UpdateExecutionReport(fillReport(order.ID, 100, 2))

	select {
	case <-portfolios:
	case <-time.After(2 * time.Second):
		t.Fatal("no portfolio event after the fill")
	}
	// The same queue runs the snapshot save before admitting another order.
	if err := m.SubmitOrder(ctx, testBuy("O-2", 1, 1)); err != nil {
		t.Fatal(err)
	}

	snapshot, err := st.LoadSnapshot(ctx, "trader")
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Inventories) != 1 {
		t.Fatalf("snapshot inventories = %v, want one", snapshot.Inventories)
	}
	if !snapshot.Inventories[0].Position.Quantity.Equal(d(100)) {
		t.Errorf("snapshot quantity = %s, want 100",
			snapshot.Inventories[0].Position.Quantity)
	}

	// A fresh monitor sees the saved account and its open position.
	m2, client2, _, _ := func() (*RiskMonitor, *fakeMarket, *fakeClock, *store.MemoryStore) {
		table := rates.NewTable()
		table.Add("USD", "CAD", d(0.5))
		client := &fakeMarket{}
		clock := &fakeClock{now: time.Now()}
		m2 := NewRiskMonitor(Config{
			Client: client,
			Store:  st,
			Rates:  table,
			Venues: model.DefaultVenues(),
			Clock:  clock,
			Parameters: model.RiskParameters{
				Currency:           "USD",
				BuyingPower:        d(100000),
				AllowedState:       model.RiskState{Type: model.RiskActive},
				MaxNetLoss:         d(100),
				TransitionDuration: time.Minute,
			},
		})
		return m2, client, clock, st
	}()
	defer m2.Close()
	_ = client2
	if err := m2.LoadAccounts(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := m2.RiskState("trader"); !ok {
		t.Error("reloaded monitor does not know the account")
	}
}
