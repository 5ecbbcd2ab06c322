package gateway

import (
	"context"
	"time"

	"strike/internal/broker"
	"strike/internal/logger"
)

// RuntimeStatus snapshots guard timings, connectivity, and reconciliation
// state for the status endpoint.
func (g *Gateway) RuntimeStatus() RuntimeStatus {
	g.mu.Lock()
	conn := g.conn
	reconciled := g.startupReconciled
	g.mu.Unlock()
	return RuntimeStatus{
		Refresh:           g.refreshGuard.Status(),
		AccountSync:       g.accountGuard.Status(),
		ExitSweep:         g.exitGuard.Status(),
		Connectivity:      conn,
		StartupReconciled: reconciled,
	}
}

// NotifyConnectivity records a broker reachability observation. A transition
// back to reachable resets the sweep throttles and re-arms the startup
// reconciliation, so the next sync runs immediately and re-aligns state.
func (g *Gateway) NotifyConnectivity(ctx context.Context, status broker.ConnectionStatus) {
	g.mu.Lock()
	first := !g.connSeen
	was := g.conn.Reachable
	g.connSeen = true
	if first || was != status.Reachable || g.conn.DetectedMode != status.DetectedMode {
		g.conn = ConnectivityState{
			Reachable:    status.Reachable,
			DetectedMode: status.DetectedMode,
			ChangedAt:    time.Now(),
		}
	}
	reconnected := !first && !was && status.Reachable
	if reconnected {
		g.startupReconciled = false
	}
	g.mu.Unlock()

	if first {
		return
	}
	if was != status.Reachable {
		g.logEvent(ctx, "connectivity", map[string]any{
			"reachable":     status.Reachable,
			"detected_mode": status.DetectedMode,
		})
		if status.Reachable {
			logger.Infof("broker reachable again (mode=%s), resetting sweep throttles", status.DetectedMode)
			g.refreshGuard.Reset()
			g.accountGuard.Reset()
			g.exitGuard.Reset()
			g.notify("Broker connection restored")
		} else {
			logger.Warnf("broker unreachable")
			g.notify("Broker connection lost")
		}
	}
}

// ReloadBrokerConfiguration drops cached broker-derived state after a
// configuration change: the account snapshot cache and the event caches.
// Order state is never touched.
func (g *Gateway) ReloadBrokerConfiguration(ctx context.Context, mode string) {
	g.mu.Lock()
	if mode != "" {
		g.mode = mode
	}
	g.lastSnapshot = broker.AccountSnapshot{}
	g.accountSyncedAt = time.Time{}
	g.startupReconciled = false
	g.mu.Unlock()

	g.events.Flush()
	g.accountGuard.Reset()
	g.logEvent(ctx, "broker_config_reloaded", map[string]any{"mode": mode})
	logger.Infof("broker configuration reloaded, caches dropped")
}

// ListPendingOrders returns orders awaiting approval, newest first.
func (g *Gateway) ListPendingOrders(ctx context.Context) ([]*OrderIntent, error) {
	ms, err := g.ledger.ListOrdersByStatus(ctx, []string{string(StatusPendingApproval)}, 0)
	if err != nil {
		return nil, err
	}
	return fromModels(ms)
}

// ListRecentOrders returns the most recently touched orders across all states.
func (g *Gateway) ListRecentOrders(ctx context.Context, limit int) ([]*OrderIntent, error) {
	ms, err := g.ledger.ListRecentOrders(ctx, limit)
	if err != nil {
		return nil, err
	}
	return fromModels(ms)
}

// ListOpenPositions projects FILLED entries into the open-position view.
func (g *Gateway) ListOpenPositions(ctx context.Context) ([]OpenPosition, error) {
	entries, err := g.openEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]OpenPosition, 0, len(entries))
	for _, o := range entries {
		out = append(out, OpenPosition{
			OrderID:      o.ID,
			Symbol:       o.Symbol,
			Contract:     o.Contract,
			Quantity:     o.remainingQuantity(),
			AvgFillPrice: o.entryPrice(),
			OpenedAt:     o.CreatedAt,
		})
	}
	return out, nil
}
