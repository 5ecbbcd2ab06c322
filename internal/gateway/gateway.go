package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strike/internal/broker"
	"strike/internal/config"
	"strike/internal/events"
	"strike/internal/logger"
	"strike/internal/pkg/throttle"
	"strike/internal/policy"
	"strike/internal/risk"
	"strike/internal/store/model"
)

// Ledger is the persistence surface the gateway writes orders and audit
// events through.
type Ledger interface {
	SaveOrder(ctx context.Context, ord *model.OrderModel) error
	GetOrder(ctx context.Context, orderID string) (*model.OrderModel, error)
	ListOrdersByStatus(ctx context.Context, statuses []string, limit int) ([]model.OrderModel, error)
	ListRecentOrders(ctx context.Context, limit int) ([]model.OrderModel, error)
	LogEvent(ctx context.Context, name string, payload any) error
}

// Notifier pushes human-facing trade notifications. Optional; nil disables it.
type Notifier interface {
	SendText(text string)
}

// Gateway owns the order lifecycle. All mutations of orders flow through it;
// the broker adapter and the ledger are its only side-effect surfaces.
type Gateway struct {
	broker   broker.Adapter
	ledger   Ledger
	policies *policy.Store
	risk     *risk.Engine
	events   *events.Service
	notifier Notifier

	mode string // configured broker mode, "paper" | "live"

	refreshGuard *throttle.Guard
	accountGuard *throttle.Guard
	exitGuard    *throttle.Guard

	mu                sync.Mutex
	account           risk.AccountState
	accountSyncedAt   time.Time
	lastSnapshot      broker.AccountSnapshot
	conn              ConnectivityState
	connSeen          bool
	startupReconciled bool
}

func New(cfg *config.Config, adapter broker.Adapter, ledger Ledger, policies *policy.Store, riskEngine *risk.Engine, eventSvc *events.Service) *Gateway {
	return &Gateway{
		broker:       adapter,
		ledger:       ledger,
		policies:     policies,
		risk:         riskEngine,
		events:       eventSvc,
		mode:         cfg.Broker.Mode,
		refreshGuard: throttle.New(time.Duration(cfg.Sync.MinRefreshGapSeconds) * time.Second),
		accountGuard: throttle.New(time.Duration(cfg.Sync.MinAccountGapSeconds) * time.Second),
		exitGuard:    throttle.New(time.Duration(cfg.Sync.MinExitGapSeconds) * time.Second),
	}
}

// SetNotifier wires an optional notifier after construction.
func (g *Gateway) SetNotifier(n Notifier) { g.notifier = n }

func (g *Gateway) notify(text string) {
	if g.notifier != nil {
		g.notifier.SendText(text)
	}
}

func (g *Gateway) saveOrder(ctx context.Context, o *OrderIntent) error {
	o.UpdatedAt = time.Now()
	m, err := toModel(o)
	if err != nil {
		return err
	}
	if err := g.ledger.SaveOrder(ctx, m); err != nil {
		return fmt.Errorf("persist order %s: %w", o.ID, err)
	}
	return nil
}

func (g *Gateway) loadOrder(ctx context.Context, orderID string) (*OrderIntent, error) {
	m, err := g.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return fromModel(m)
}

func (g *Gateway) logEvent(ctx context.Context, name string, payload any) {
	if err := g.ledger.LogEvent(ctx, name, payload); err != nil {
		logger.Warnf("event log write failed (%s): %v", name, err)
	}
}

// accountState returns the last synced account view.
func (g *Gateway) accountState() risk.AccountState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account
}
