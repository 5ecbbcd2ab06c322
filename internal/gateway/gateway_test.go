package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"strike/internal/broker"
	"strike/internal/config"
	"strike/internal/decision"
	"strike/internal/events"
	"strike/internal/policy"
	"strike/internal/risk"
	"strike/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) SubmitPaperOrder(ctx context.Context, req broker.SubmitRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockAdapter) RefreshOrderStatuses(ctx context.Context, orderIDs []string) (map[string]broker.OrderStatusUpdate, error) {
	args := m.Called(ctx, orderIDs)
	var out map[string]broker.OrderStatusUpdate
	if v := args.Get(0); v != nil {
		out = v.(map[string]broker.OrderStatusUpdate)
	}
	return out, args.Error(1)
}

func (m *mockAdapter) GetPositionsSnapshot(ctx context.Context) ([]broker.Position, error) {
	args := m.Called(ctx)
	var out []broker.Position
	if v := args.Get(0); v != nil {
		out = v.([]broker.Position)
	}
	return out, args.Error(1)
}

func (m *mockAdapter) GetAccountSnapshot(ctx context.Context) (broker.AccountSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(broker.AccountSnapshot), args.Error(1)
}

func (m *mockAdapter) GetOptionMidPrice(ctx context.Context, contract broker.OptionContract) (float64, error) {
	args := m.Called(ctx, contract)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockAdapter) GetConnectionStatus(ctx context.Context) (broker.ConnectionStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(broker.ConnectionStatus), args.Error(1)
}

type fakeLedger struct {
	mu     sync.Mutex
	orders map[string]model.OrderModel
	order  []string // insertion order of ids
	events []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{orders: map[string]model.OrderModel{}}
}

func (l *fakeLedger) SaveOrder(_ context.Context, ord *model.OrderModel) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[ord.OrderID]; !ok {
		l.order = append(l.order, ord.OrderID)
	}
	l.orders[ord.OrderID] = *ord
	return nil
}

func (l *fakeLedger) GetOrder(_ context.Context, orderID string) (*model.OrderModel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.orders[orderID]; ok {
		cp := m
		return &cp, nil
	}
	return nil, nil
}

func (l *fakeLedger) ListOrdersByStatus(_ context.Context, statuses []string, _ int) ([]model.OrderModel, error) {
	want := map[string]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.OrderModel
	for _, id := range l.order {
		if m := l.orders[id]; want[m.Status] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *fakeLedger) ListRecentOrders(_ context.Context, limit int) ([]model.OrderModel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.OrderModel
	for i := len(l.order) - 1; i >= 0; i-- {
		out = append(out, l.orders[l.order[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (l *fakeLedger) LogEvent(_ context.Context, name string, _ any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, name)
	return nil
}

func (l *fakeLedger) eventCount(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == name {
			n++
		}
	}
	return n
}

func (l *fakeLedger) orderCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.orders)
}

func (l *fakeLedger) status(t *testing.T, orderID string) Status {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.orders[orderID]
	require.True(t, ok, "order %s not in ledger", orderID)
	return Status(m.Status)
}

type stubEarnings struct{ ev events.EarningsEvent }

func (s stubEarnings) NextEarningsDate(context.Context, string) (events.EarningsEvent, error) {
	return s.ev, nil
}

type stubFilings struct{ fr events.FilingRisk }

func (s stubFilings) FilingRiskSnapshot(context.Context, string) (events.FilingRisk, error) {
	return s.fr, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{Mode: "paper"},
		Sync:   config.SyncConfig{MinRefreshGapSeconds: 60},
	}
}

func newTestGateway(adapter broker.Adapter, eventSvc *events.Service) (*Gateway, *fakeLedger) {
	led := newFakeLedger()
	pol := policy.NewStore(context.Background(), nil)
	if eventSvc == nil {
		eventSvc = events.NewService(nil, nil, time.Minute, time.Minute)
	}
	g := New(testConfig(), adapter, led, pol, risk.NewEngine(pol), eventSvc)
	g.mu.Lock()
	g.account = risk.AccountState{Equity: 100000}
	g.mu.Unlock()
	return g, led
}

func testChainContract(delta, bid, ask float64, oi, vol int, right string, dteDays int) broker.OptionContract {
	return broker.OptionContract{
		Symbol:       "AAPL",
		Expiration:   time.Now().AddDate(0, 0, dteDays).Format("2006-01-02"),
		Strike:       200,
		Right:        right,
		Bid:          bid,
		Ask:          ask,
		Delta:        delta,
		OpenInterest: oi,
		Volume:       vol,
	}
}

func seedOrder(t *testing.T, g *Gateway, o *OrderIntent) *OrderIntent {
	t.Helper()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	require.NoError(t, g.saveOrder(context.Background(), o))
	return o
}

func callCard(symbol string) decision.DecisionCard {
	return decision.DecisionCard{
		Symbol:     symbol,
		Action:     decision.ActionCall,
		Confidence: 0.71,
		CreatedAt:  time.Now(),
	}
}

func TestProposeOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("selects closest delta then tightest spread", func(t *testing.T) {
		g, led := newTestGateway(&mockAdapter{}, nil)
		best := testChainContract(0.36, 2.40, 2.60, 500, 100, broker.RightCall, 20)
		chain := []broker.OptionContract{
			testChainContract(0.55, 2.40, 2.60, 900, 200, broker.RightCall, 20), // delta too far
			testChainContract(0.36, 2.30, 2.70, 900, 200, broker.RightCall, 20), // wider spread
			best,
			testChainContract(0.35, 2.40, 2.60, 10, 200, broker.RightCall, 20),  // illiquid
			testChainContract(0.35, 2.40, 2.60, 900, 200, broker.RightPut, 20),  // wrong right
			testChainContract(0.35, 2.40, 2.60, 900, 200, broker.RightCall, 90), // outside DTE window
		}
		o, err := g.ProposeOrder(ctx, callCard("AAPL"), chain)
		require.NoError(t, err)
		require.NotNil(t, o)
		assert.Equal(t, best.Key(), o.Contract.Key())
		assert.Equal(t, StatusPendingApproval, o.Status)
		assert.Equal(t, 2.50, o.LimitPrice)
		// 100k equity, 3% premium cap, $250 per contract.
		assert.Equal(t, 12, o.Quantity)
		assert.Equal(t, IntentEntry, o.IntentType)
		assert.Equal(t, SideBuy, o.Side)
		assert.Equal(t, 1, led.eventCount("order_proposed"))
	})

	t.Run("open interest breaks remaining ties", func(t *testing.T) {
		g, _ := newTestGateway(&mockAdapter{}, nil)
		deep := testChainContract(0.35, 2.40, 2.60, 900, 200, broker.RightCall, 20)
		shallow := testChainContract(0.35, 2.40, 2.60, 300, 200, broker.RightCall, 20)
		shallow.Strike = 205 // distinct contract
		o, err := g.ProposeOrder(ctx, callCard("AAPL"), []broker.OptionContract{shallow, deep})
		require.NoError(t, err)
		require.NotNil(t, o)
		assert.Equal(t, deep.Key(), o.Contract.Key())
	})

	t.Run("validation failures return distinct sentinels", func(t *testing.T) {
		g, led := newTestGateway(&mockAdapter{}, nil)

		card := callCard("AAPL")
		card.Action = decision.ActionNoTrade
		o, err := g.ProposeOrder(ctx, card, nil)
		assert.Nil(t, o)
		assert.ErrorIs(t, err, ErrNoTradeDecision)

		o, err = g.ProposeOrder(ctx, callCard("AAPL"), nil)
		assert.Nil(t, o)
		assert.ErrorIs(t, err, ErrNoContractMatch)

		// Every sentinel also matches the umbrella error.
		assert.ErrorIs(t, err, ErrProposalRejected)

		assert.Zero(t, led.eventCount("order_proposed"), "rejected proposals never touch the ledger")
		assert.Zero(t, led.orderCount())
	})

	t.Run("undersized account fails sizing", func(t *testing.T) {
		g, led := newTestGateway(&mockAdapter{}, nil)
		g.mu.Lock()
		g.account.Equity = 900
		g.mu.Unlock()

		chain := []broker.OptionContract{testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20)}
		o, err := g.ProposeOrder(ctx, callCard("AAPL"), chain)
		assert.Nil(t, o)
		assert.ErrorIs(t, err, ErrAccountUndersized)
		assert.ErrorIs(t, err, ErrProposalRejected)
		assert.Zero(t, led.orderCount())
	})
}

func TestApproveOrder(t *testing.T) {
	ctx := context.Background()
	chain := []broker.OptionContract{testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20)}

	t.Run("rejection is terminal", func(t *testing.T) {
		g, _ := newTestGateway(&mockAdapter{}, nil)
		o, err := g.ProposeOrder(ctx, callCard("AAPL"), chain)
		require.NoError(t, err)

		got, err := g.ApproveOrder(ctx, o.ID, false, "not today")
		require.NoError(t, err)
		assert.Equal(t, StatusRejectedByUser, got.Status)
		assert.Contains(t, got.RiskNotes, "rejected: not today")

		_, err = g.ApproveOrder(ctx, o.ID, true, "")
		assert.Error(t, err, "terminal orders cannot be re-approved")
	})

	t.Run("approval submits paper order", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, led := newTestGateway(adapter, nil)
		o, err := g.ProposeOrder(ctx, callCard("AAPL"), chain)
		require.NoError(t, err)

		adapter.On("SubmitPaperOrder", mock.Anything, mock.MatchedBy(func(req broker.SubmitRequest) bool {
			return req.OrderID == o.ID && req.Side == "BUY" && req.Quantity == o.Quantity
		})).Return("BR-77", nil)

		got, err := g.ApproveOrder(ctx, o.ID, true, "")
		require.NoError(t, err)
		assert.Equal(t, StatusSubmittedPaper, got.Status)
		assert.Equal(t, "BR-77", got.BrokerOrderID)
		assert.Contains(t, got.RiskNotes, "broker_ref:BR-77")
		assert.Equal(t, 1, led.eventCount("order_submitted"))
		adapter.AssertExpectations(t)
	})

	t.Run("risk failure blocks without touching the broker", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, _ := newTestGateway(adapter, nil)
		o, err := g.ProposeOrder(ctx, callCard("AAPL"), chain)
		require.NoError(t, err)

		g.mu.Lock()
		g.account = risk.AccountState{Equity: 1000}
		g.mu.Unlock()

		got, err := g.ApproveOrder(ctx, o.ID, true, "")
		require.NoError(t, err)
		assert.Equal(t, StatusBlockedRisk, got.Status)
		assert.Contains(t, got.RiskNotes, "account_undersized")
		adapter.AssertNotCalled(t, "SubmitPaperOrder", mock.Anything, mock.Anything)
	})

	t.Run("non-paper broker mode hard-blocks", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, _ := newTestGateway(adapter, nil)
		o, err := g.ProposeOrder(ctx, callCard("AAPL"), chain)
		require.NoError(t, err)

		g.NotifyConnectivity(ctx, broker.ConnectionStatus{Reachable: true, DetectedMode: "live"})

		got, err := g.ApproveOrder(ctx, o.ID, true, "")
		require.NoError(t, err)
		assert.Equal(t, StatusBlockedRisk, got.Status)
		assert.Contains(t, got.RiskNotes, "live_mode_disabled")
		adapter.AssertNotCalled(t, "SubmitPaperOrder", mock.Anything, mock.Anything)
	})
}

func TestRefreshBrokerStatuses_SingleRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := &mockAdapter{}
	g, _ := newTestGateway(adapter, nil)

	for i := 0; i < 2; i++ {
		seedOrder(t, g, &OrderIntent{
			ID:         fmt.Sprintf("sub-%d", i),
			IntentType: IntentEntry,
			Side:       SideBuy,
			Symbol:     "AAPL",
			Contract:   testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20),
			Quantity:   1,
			LimitPrice: 2.50,
			Status:     StatusSubmittedPaper,
		})
	}
	adapter.On("RefreshOrderStatuses", mock.Anything, mock.Anything).
		Return(map[string]broker.OrderStatusUpdate{}, nil).
		After(30 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.RefreshBrokerStatuses(ctx))
		}()
	}
	wg.Wait()
	// Within the minimum gap a follow-up sweep is skipped outright.
	require.NoError(t, g.RefreshBrokerStatuses(ctx))

	adapter.AssertNumberOfCalls(t, "RefreshOrderStatuses", 1)
}

func TestRefresh_StatusMapping(t *testing.T) {
	ctx := context.Background()
	contract := testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20)

	seed := func(g *Gateway, id string) *OrderIntent {
		return seedOrder(t, g, &OrderIntent{
			ID: id, IntentType: IntentEntry, Side: SideBuy, Symbol: "AAPL",
			Contract: contract, Quantity: 2, LimitPrice: 2.50, Status: StatusSubmittedPaper,
		})
	}

	t.Run("filled and cancelled transitions", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, led := newTestGateway(adapter, nil)
		a, b := seed(g, "a"), seed(g, "b")
		adapter.On("RefreshOrderStatuses", mock.Anything, mock.Anything).Return(map[string]broker.OrderStatusUpdate{
			a.ID: {Status: "Filled", Filled: 2, AvgFillPrice: 2.48},
			b.ID: {Status: "ApiCancelled"},
		}, nil)

		require.NoError(t, g.refreshOnce(ctx))
		assert.Equal(t, StatusFilled, led.status(t, a.ID))
		assert.Equal(t, StatusCancelled, led.status(t, b.ID))
		assert.Equal(t, 2, led.eventCount("order_status_changed"))
	})

	t.Run("unknown status keeps state and dedups the note", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, led := newTestGateway(adapter, nil)
		a := seed(g, "a")
		adapter.On("RefreshOrderStatuses", mock.Anything, mock.Anything).Return(map[string]broker.OrderStatusUpdate{
			a.ID: {Status: "Weird"},
		}, nil)

		require.NoError(t, g.refreshOnce(ctx))
		require.NoError(t, g.refreshOnce(ctx))

		assert.Equal(t, StatusSubmittedPaper, led.status(t, a.ID))
		m, err := led.GetOrder(ctx, a.ID)
		require.NoError(t, err)
		got, err := fromModel(m)
		require.NoError(t, err)
		assert.Equal(t, []string{"broker_status:Weird"}, got.RiskNotes)
	})

	t.Run("working statuses leave the order untouched", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, led := newTestGateway(adapter, nil)
		a := seed(g, "a")
		adapter.On("RefreshOrderStatuses", mock.Anything, mock.Anything).Return(map[string]broker.OrderStatusUpdate{
			a.ID: {Status: "PreSubmitted"},
		}, nil)

		require.NoError(t, g.refreshOnce(ctx))
		assert.Equal(t, StatusSubmittedPaper, led.status(t, a.ID))
		assert.Zero(t, led.eventCount("order_status_changed"))
	})
}

func TestRefresh_ExitFillClosesEntry(t *testing.T) {
	ctx := context.Background()
	adapter := &mockAdapter{}
	g, led := newTestGateway(adapter, nil)
	contract := testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20)

	entry := seedOrder(t, g, &OrderIntent{
		ID: "entry-1", IntentType: IntentEntry, Side: SideBuy, Symbol: "AAPL",
		Contract: contract, Quantity: 3, LimitPrice: 2.50, Status: StatusFilled,
		FilledQty: 3, AvgFillPrice: 2.50,
	})
	exit := seedOrder(t, g, &OrderIntent{
		ID: "exit-1", IntentType: IntentExit, Side: SideSell, Symbol: "AAPL",
		Contract: contract, Quantity: 3, LimitPrice: 3.40, Status: StatusSubmittedPaper,
		ParentOrderID: entry.ID, ExitReason: "take_profit",
	})
	adapter.On("RefreshOrderStatuses", mock.Anything, mock.Anything).Return(map[string]broker.OrderStatusUpdate{
		exit.ID: {Status: "Filled", Filled: 3, AvgFillPrice: 3.38},
	}, nil)

	require.NoError(t, g.refreshOnce(ctx))
	assert.Equal(t, StatusExited, led.status(t, entry.ID))
	assert.Equal(t, StatusFilled, led.status(t, exit.ID))
	assert.Equal(t, 1, led.eventCount("entry_exited"))

	// A second sweep finds no submitted orders and changes nothing.
	require.NoError(t, g.refreshOnce(ctx))
	assert.Equal(t, 1, led.eventCount("entry_exited"))
}

func TestSyncAccountState(t *testing.T) {
	ctx := context.Background()

	t.Run("overwrites account fields from the snapshot", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, _ := newTestGateway(adapter, nil)
		adapter.On("GetAccountSnapshot", mock.Anything).Return(broker.AccountSnapshot{
			NetLiquidation: 50000, RealizedPnL: 120.5, UnrealizedPnL: -80.25,
		}, nil)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return([]broker.Position{}, nil)

		require.NoError(t, g.SyncAccountState(ctx))
		acct := g.accountState()
		assert.Equal(t, 50000.0, acct.Equity)
		assert.Equal(t, 120.5, acct.RealizedPnL)
		assert.Equal(t, -80.25, acct.UnrealizedPnL)
		assert.True(t, g.RuntimeStatus().StartupReconciled)
	})

	t.Run("reconciliation failure leaves it armed for the next sync", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, _ := newTestGateway(adapter, nil)
		adapter.On("GetAccountSnapshot", mock.Anything).Return(broker.AccountSnapshot{NetLiquidation: 50000}, nil)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(nil, fmt.Errorf("bridge down"))

		require.NoError(t, g.SyncAccountState(ctx))
		assert.False(t, g.RuntimeStatus().StartupReconciled)
	})
}

func TestReconcilePositions(t *testing.T) {
	ctx := context.Background()
	contract := testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20)

	adapter := &mockAdapter{}
	g, led := newTestGateway(adapter, nil)

	// Submitted entry the broker already holds: infer the fill.
	sub := seedOrder(t, g, &OrderIntent{
		ID: "sub-1", IntentType: IntentEntry, Side: SideBuy, Symbol: "AAPL",
		Contract: contract, Quantity: 2, LimitPrice: 2.50, Status: StatusSubmittedPaper,
	})
	// Filled entry with no broker position and a filled exit: infer the exit.
	gone := contract
	gone.Strike = 210
	entry := seedOrder(t, g, &OrderIntent{
		ID: "entry-1", IntentType: IntentEntry, Side: SideBuy, Symbol: "AAPL",
		Contract: gone, Quantity: 1, LimitPrice: 2.00, Status: StatusFilled,
		FilledQty: 1, AvgFillPrice: 2.00,
	})
	seedOrder(t, g, &OrderIntent{
		ID: "exit-1", IntentType: IntentExit, Side: SideSell, Symbol: "AAPL",
		Contract: gone, Quantity: 1, LimitPrice: 2.60, Status: StatusFilled,
		ParentOrderID: entry.ID, FilledQty: 1, AvgFillPrice: 2.60, ExitReason: "take_profit",
	})
	adapter.On("GetPositionsSnapshot", mock.Anything).Return([]broker.Position{
		{Symbol: "AAPL", SecType: "OPT", Expiration: contract.Expiration, Strike: 200, Right: "C", Position: 2, MarketPrice: 2.55},
	}, nil)

	require.NoError(t, g.reconcilePositions(ctx))
	assert.Equal(t, StatusFilled, led.status(t, sub.ID))
	assert.Equal(t, StatusExited, led.status(t, entry.ID))

	m, err := led.GetOrder(ctx, sub.ID)
	require.NoError(t, err)
	inferred, err := fromModel(m)
	require.NoError(t, err)
	assert.Equal(t, 2.0, inferred.FilledQty)
	assert.Equal(t, 2.50, inferred.AvgFillPrice, "fill price falls back to the limit")

	// Running again must change nothing.
	require.NoError(t, g.reconcilePositions(ctx))
	assert.Equal(t, 1, led.eventCount("reconcile_inferred_fill"))
	assert.Equal(t, 1, led.eventCount("reconcile_inferred_exit"))
	m, err = led.GetOrder(ctx, sub.ID)
	require.NoError(t, err)
	again, err := fromModel(m)
	require.NoError(t, err)
	assert.Equal(t, inferred.RiskNotes, again.RiskNotes)
}

func exitTestGateway(t *testing.T, adapter *mockAdapter, earnings events.EarningsEvent, filing events.FilingRisk) (*Gateway, *fakeLedger, *OrderIntent) {
	t.Helper()
	svc := events.NewService(stubEarnings{ev: earnings}, stubFilings{fr: filing}, time.Minute, time.Minute)
	g, led := newTestGateway(adapter, svc)
	entry := seedOrder(t, g, &OrderIntent{
		ID: "entry-1", IntentType: IntentEntry, Side: SideBuy, Symbol: "AAPL",
		Contract:  testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20),
		Quantity:  3, LimitPrice: 2.00, Status: StatusFilled,
		FilledQty: 3, AvgFillPrice: 2.00, CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	return g, led, entry
}

func positionsAt(contract broker.OptionContract, qty, mark float64) []broker.Position {
	return []broker.Position{{
		Symbol: contract.Symbol, SecType: "OPT", Expiration: contract.Expiration,
		Strike: contract.Strike, Right: contract.Right, Position: qty, MarketPrice: mark,
	}}
}

func TestRunExitAutomation(t *testing.T) {
	ctx := context.Background()
	noEvents := events.EarningsEvent{}
	noFiling := events.FilingRisk{}

	t.Run("take profit at +35%", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, led, entry := exitTestGateway(t, adapter, noEvents, noFiling)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(positionsAt(entry.Contract, 3, 2.70), nil)

		proposed, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		require.Len(t, proposed, 1)
		exit := proposed[0]
		assert.Equal(t, "take_profit", exit.ExitReason)
		assert.Equal(t, IntentExit, exit.IntentType)
		assert.Equal(t, SideSell, exit.Side)
		assert.Equal(t, entry.ID, exit.ParentOrderID)
		assert.Equal(t, 3, exit.Quantity)
		assert.Equal(t, 2.70, exit.LimitPrice)
		assert.Equal(t, StatusPendingApproval, exit.Status)
		assert.Equal(t, 1, led.eventCount("exit_proposed"))
	})

	t.Run("stop loss at -35%", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, _, _ := exitTestGateway(t, adapter, noEvents, noFiling)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(positionsAt(testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20), 3, 1.30), nil)

		proposed, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		require.Len(t, proposed, 1)
		assert.Equal(t, "stop_loss", proposed[0].ExitReason)
	})

	t.Run("small moves trigger nothing", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, _, entry := exitTestGateway(t, adapter, noEvents, noFiling)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(positionsAt(entry.Contract, 3, 2.20), nil)

		proposed, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		assert.Empty(t, proposed)
	})

	t.Run("max hold fires on stale positions", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, _, entry := exitTestGateway(t, adapter, noEvents, noFiling)
		entry.CreatedAt = time.Now().Add(-11 * 24 * time.Hour)
		seedOrder(t, g, entry)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(positionsAt(entry.Contract, 3, 2.10), nil)

		proposed, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		require.Len(t, proposed, 1)
		assert.Equal(t, "max_hold", proposed[0].ExitReason)
	})

	t.Run("imminent earnings outrank take profit", func(t *testing.T) {
		adapter := &mockAdapter{}
		soon := time.Now().Add(20 * time.Hour)
		g, _, entry := exitTestGateway(t, adapter, events.EarningsEvent{EventDate: &soon}, noFiling)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(positionsAt(entry.Contract, 3, 2.70), nil)

		proposed, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		require.Len(t, proposed, 1)
		assert.Equal(t, "pre_event", proposed[0].ExitReason)
	})

	t.Run("closer filing beats farther earnings", func(t *testing.T) {
		adapter := &mockAdapter{}
		earningsAt := time.Now().Add(30 * time.Hour)
		filedAt := time.Now().Add(-5 * time.Hour)
		g, _, entry := exitTestGateway(t, adapter,
			events.EarningsEvent{EventDate: &earningsAt},
			events.FilingRisk{EventRisk: 0.9, LatestFilingDate: &filedAt})
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(positionsAt(entry.Contract, 3, 2.10), nil)

		proposed, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		require.Len(t, proposed, 1)
		assert.Equal(t, "filing_risk", proposed[0].ExitReason)
	})

	t.Run("one exit per entry", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, led, entry := exitTestGateway(t, adapter, noEvents, noFiling)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(positionsAt(entry.Contract, 3, 2.70), nil)

		first, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		require.Len(t, first, 1)
		g.exitGuard.Reset()
		second, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		assert.Empty(t, second)
		assert.Equal(t, 1, led.eventCount("exit_proposed"))
	})

	t.Run("falls back to mid quote when positions are unavailable", func(t *testing.T) {
		adapter := &mockAdapter{}
		g, _, entry := exitTestGateway(t, adapter, noEvents, noFiling)
		adapter.On("GetPositionsSnapshot", mock.Anything).Return(nil, fmt.Errorf("bridge down"))
		adapter.On("GetOptionMidPrice", mock.Anything, mock.Anything).Return(2.70, nil)

		proposed, err := g.RunExitAutomation(ctx)
		require.NoError(t, err)
		require.Len(t, proposed, 1)
		assert.Equal(t, "take_profit", proposed[0].ExitReason)
		_ = entry
	})
}

func TestNotifyConnectivity(t *testing.T) {
	ctx := context.Background()
	adapter := &mockAdapter{}
	g, led := newTestGateway(adapter, nil)

	g.NotifyConnectivity(ctx, broker.ConnectionStatus{Reachable: true, DetectedMode: "paper"})
	assert.Zero(t, led.eventCount("connectivity"), "first observation is not a transition")

	g.NotifyConnectivity(ctx, broker.ConnectionStatus{Reachable: false})
	assert.Equal(t, 1, led.eventCount("connectivity"))
	assert.False(t, g.RuntimeStatus().Connectivity.Reachable)

	// Mark a completed sweep, then reconnect: throttles reset and the
	// startup reconciliation re-arms.
	_, err := g.refreshGuard.Run(ctx, func(context.Context) error { return nil })
	require.NoError(t, err)
	g.mu.Lock()
	g.startupReconciled = true
	g.mu.Unlock()

	g.NotifyConnectivity(ctx, broker.ConnectionStatus{Reachable: true, DetectedMode: "paper"})
	st := g.RuntimeStatus()
	assert.True(t, st.Connectivity.Reachable)
	assert.False(t, st.StartupReconciled)
	assert.True(t, st.Refresh.LastRun.IsZero(), "refresh throttle reset on reconnect")
}

func TestReloadBrokerConfiguration(t *testing.T) {
	ctx := context.Background()
	adapter := &mockAdapter{}
	g, led := newTestGateway(adapter, nil)

	adapter.On("GetAccountSnapshot", mock.Anything).Return(broker.AccountSnapshot{NetLiquidation: 50000}, nil)
	adapter.On("GetPositionsSnapshot", mock.Anything).Return([]broker.Position{}, nil)
	require.NoError(t, g.SyncAccountState(ctx))
	snap, at := g.LastAccountSnapshot()
	require.NotZero(t, snap.NetLiquidation)
	require.False(t, at.IsZero())

	g.ReloadBrokerConfiguration(ctx, "paper")
	snap, at = g.LastAccountSnapshot()
	assert.Zero(t, snap.NetLiquidation)
	assert.True(t, at.IsZero())
	assert.False(t, g.RuntimeStatus().StartupReconciled)
	assert.Equal(t, 1, led.eventCount("broker_config_reloaded"))
}

func TestListOpenPositions(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGateway(&mockAdapter{}, nil)
	contract := testChainContract(0.35, 2.40, 2.60, 500, 100, broker.RightCall, 20)

	seedOrder(t, g, &OrderIntent{
		ID: "f-1", IntentType: IntentEntry, Side: SideBuy, Symbol: "AAPL",
		Contract: contract, Quantity: 2, LimitPrice: 2.50, Status: StatusFilled,
		FilledQty: 2, AvgFillPrice: 2.48,
	})
	seedOrder(t, g, &OrderIntent{
		ID: "p-1", IntentType: IntentEntry, Side: SideBuy, Symbol: "MSFT",
		Contract: contract, Quantity: 1, LimitPrice: 2.50, Status: StatusPendingApproval,
	})

	open, err := g.ListOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "f-1", open[0].OrderID)
	assert.Equal(t, 2, open[0].Quantity)
	assert.Equal(t, 2.48, open[0].AvgFillPrice)
}
