package gateway

import (
	"context"
	"fmt"
	"strings"

	"strike/internal/broker"
	"strike/internal/logger"
)

// RefreshBrokerStatuses reconciles every SUBMITTED order against the broker
// in one batched round trip. The call is throttled and single-flighted:
// concurrent callers share one sweep, and a sweep that completed inside the
// minimum gap is skipped entirely.
func (g *Gateway) RefreshBrokerStatuses(ctx context.Context) error {
	_, err := g.refreshGuard.Run(ctx, g.refreshOnce)
	return err
}

func (g *Gateway) refreshOnce(ctx context.Context) error {
	submitted, err := g.listSubmitted(ctx)
	if err != nil {
		return err
	}
	if len(submitted) == 0 {
		return nil
	}

	ids := make([]string, 0, len(submitted))
	for _, o := range submitted {
		ids = append(ids, o.ID)
	}
	updates, err := g.broker.RefreshOrderStatuses(ctx, ids)
	if err != nil {
		return fmt.Errorf("broker status refresh: %w", err)
	}

	for _, o := range submitted {
		upd, ok := updates[o.ID]
		if !ok {
			continue
		}
		if err := g.applyStatusUpdate(ctx, o, upd); err != nil {
			logger.Errorf("apply status for %s: %v", o.ID, err)
		}
	}
	return nil
}

func (g *Gateway) listSubmitted(ctx context.Context) ([]*OrderIntent, error) {
	ms, err := g.ledger.ListOrdersByStatus(ctx, []string{
		string(StatusSubmittedPaper),
		string(StatusSubmittedLive),
	}, 0)
	if err != nil {
		return nil, err
	}
	return fromModels(ms)
}

// applyStatusUpdate maps a broker-reported status onto the local state
// machine and persists any change. Unknown broker statuses leave the local
// state untouched but are recorded as a (deduplicated) risk note.
func (g *Gateway) applyStatusUpdate(ctx context.Context, o *OrderIntent, upd broker.OrderStatusUpdate) error {
	changed := false
	if upd.BrokerOrderID != "" && upd.BrokerOrderID != o.BrokerOrderID {
		o.BrokerOrderID = upd.BrokerOrderID
		changed = true
	}
	if upd.Filled > 0 && upd.Filled != o.FilledQty {
		o.FilledQty = upd.Filled
		changed = true
	}
	if upd.AvgFillPrice > 0 && upd.AvgFillPrice != o.AvgFillPrice {
		o.AvgFillPrice = upd.AvgFillPrice
		changed = true
	}

	next := o.Status
	switch normalizeBrokerStatus(upd.Status) {
	case "FILLED":
		next = StatusFilled
	case "CANCELLED", "APICANCELLED", "INACTIVE":
		next = StatusCancelled
	case "PENDING", "PRESUBMITTED", "SUBMITTED", "":
		// still working at the broker
	default:
		if o.addRiskNote("broker_status:" + upd.Status) {
			changed = true
			logger.Warnf("order %s reported unknown broker status %q", o.ID, upd.Status)
		}
	}

	if next != o.Status {
		prev := o.Status
		o.Status = next
		changed = true
		g.logEvent(ctx, "order_status_changed", map[string]any{
			"order_id": o.ID,
			"from":     prev,
			"to":       next,
			"filled":   o.FilledQty,
			"avg_px":   o.AvgFillPrice,
		})
		if next == StatusFilled {
			logger.Infof("order %s filled: %g @ %.2f", o.ID, o.FilledQty, o.AvgFillPrice)
			g.notify(fmt.Sprintf("Filled %s %s x%g @ %.2f", o.Side, o.Contract.Key(), o.FilledQty, o.AvgFillPrice))
			if o.IntentType == IntentExit {
				if err := g.markParentExited(ctx, o); err != nil {
					logger.Errorf("mark parent exited for %s: %v", o.ID, err)
				}
			}
		}
	}

	if !changed {
		return nil
	}
	return g.saveOrder(ctx, o)
}

// markParentExited moves the ENTRY behind a filled EXIT to EXITED, exactly
// once: a parent already EXITED is left alone.
func (g *Gateway) markParentExited(ctx context.Context, exit *OrderIntent) error {
	if exit.ParentOrderID == "" {
		return nil
	}
	parent, err := g.loadOrder(ctx, exit.ParentOrderID)
	if err != nil {
		return err
	}
	if parent.Status == StatusExited {
		return nil
	}
	parent.Status = StatusExited
	parent.addRiskNote("exited_by:" + exit.ID)
	if err := g.saveOrder(ctx, parent); err != nil {
		return err
	}
	g.logEvent(ctx, "entry_exited", map[string]any{
		"order_id": parent.ID,
		"exit_id":  exit.ID,
		"reason":   exit.ExitReason,
	})
	g.notify(fmt.Sprintf("Closed %s (%s): exit filled x%g @ %.2f", parent.Contract.Key(), exit.ExitReason, exit.FilledQty, exit.AvgFillPrice))
	return nil
}

func normalizeBrokerStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
