package gateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"strike/internal/broker"
	"strike/internal/logger"
)

// positionQtyEpsilon absorbs broker-side fractional noise when comparing
// position quantities against locally submitted sizes.
const positionQtyEpsilon = 1e-6

// SyncAccountState pulls the broker account snapshot and updates the cached
// equity/PnL view, overwriting a field only when the broker value differs.
// The first successful sync after startup (or after a reconnect) also runs
// the position reconciliation pass. Throttled and single-flighted.
func (g *Gateway) SyncAccountState(ctx context.Context) error {
	_, err := g.accountGuard.Run(ctx, g.syncOnce)
	return err
}

func (g *Gateway) syncOnce(ctx context.Context) error {
	snap, err := g.broker.GetAccountSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("account snapshot: %w", err)
	}

	g.mu.Lock()
	if snap.NetLiquidation > 0 && snap.NetLiquidation != g.account.Equity {
		g.account.Equity = snap.NetLiquidation
	}
	if snap.RealizedPnL != g.account.RealizedPnL {
		g.account.RealizedPnL = snap.RealizedPnL
	}
	if snap.UnrealizedPnL != g.account.UnrealizedPnL {
		g.account.UnrealizedPnL = snap.UnrealizedPnL
	}
	g.lastSnapshot = snap
	g.accountSyncedAt = time.Now()
	needReconcile := !g.startupReconciled
	g.mu.Unlock()

	if needReconcile {
		if err := g.reconcilePositions(ctx); err != nil {
			logger.Warnf("startup reconciliation failed, will retry next sync: %v", err)
			return nil
		}
		g.mu.Lock()
		g.startupReconciled = true
		g.mu.Unlock()
	}
	return nil
}

// reconcilePositions aligns local order state with broker positions after a
// restart or reconnect. Two inferences, both idempotent:
//
//   - a SUBMITTED order whose contract shows a broker position of at least
//     the submitted quantity is inferred FILLED at the limit price;
//   - a FILLED entry whose contract shows no broker position, and which has a
//     FILLED exit, is inferred EXITED.
func (g *Gateway) reconcilePositions(ctx context.Context) error {
	positions, err := g.broker.GetPositionsSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("positions snapshot: %w", err)
	}
	qtyByKey := map[string]float64{}
	for _, p := range positions {
		if key := p.ContractKey(); key != "" {
			qtyByKey[key] += p.Position
		}
	}

	submitted, err := g.listSubmitted(ctx)
	if err != nil {
		return err
	}
	for _, o := range submitted {
		held := qtyByKey[o.Contract.Key()]
		if o.IntentType != IntentEntry {
			continue
		}
		if held+positionQtyEpsilon < float64(o.Quantity) {
			continue
		}
		prev := o.Status
		o.Status = StatusFilled
		if o.FilledQty == 0 {
			o.FilledQty = float64(o.Quantity)
		}
		if o.AvgFillPrice == 0 {
			o.AvgFillPrice = o.LimitPrice
		}
		o.addRiskNote("reconciled:inferred_fill")
		if err := g.saveOrder(ctx, o); err != nil {
			return err
		}
		g.logEvent(ctx, "reconcile_inferred_fill", map[string]any{
			"order_id": o.ID,
			"from":     prev,
			"held":     held,
		})
		logger.Infof("reconciliation: order %s inferred FILLED (broker holds %g of %s)", o.ID, held, o.Contract.Key())
	}

	entries, err := g.openEntries(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if math.Abs(qtyByKey[entry.Contract.Key()]) > positionQtyEpsilon {
			continue
		}
		exit, err := g.filledExitFor(ctx, entry.ID)
		if err != nil {
			return err
		}
		if exit == nil {
			continue
		}
		entry.Status = StatusExited
		entry.addRiskNote("exited_by:" + exit.ID)
		entry.addRiskNote("reconciled:inferred_exit")
		if err := g.saveOrder(ctx, entry); err != nil {
			return err
		}
		g.logEvent(ctx, "reconcile_inferred_exit", map[string]any{
			"order_id": entry.ID,
			"exit_id":  exit.ID,
		})
		logger.Infof("reconciliation: entry %s inferred EXITED via %s", entry.ID, exit.ID)
	}
	return nil
}

// filledExitFor returns the FILLED exit order for an entry, if any.
func (g *Gateway) filledExitFor(ctx context.Context, entryID string) (*OrderIntent, error) {
	ms, err := g.ledger.ListOrdersByStatus(ctx, []string{string(StatusFilled)}, 0)
	if err != nil {
		return nil, err
	}
	orders, err := fromModels(ms)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.IntentType == IntentExit && o.ParentOrderID == entryID {
			return o, nil
		}
	}
	return nil, nil
}

// LastAccountSnapshot returns the most recent broker account snapshot and
// when it was taken.
func (g *Gateway) LastAccountSnapshot() (broker.AccountSnapshot, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSnapshot, g.accountSyncedAt
}
