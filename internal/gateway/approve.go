package gateway

import (
	"context"
	"fmt"

	"strike/internal/broker"
	"strike/internal/logger"
	"strike/internal/risk"
)

// ApproveOrder resolves a PENDING_APPROVAL order. A rejection marks it
// REJECTED_BY_USER. An approval runs the risk checks (for entries), enforces
// paper mode, and submits to the broker; the resulting state is one of
// SUBMITTED_PAPER, BLOCKED_RISK, or an error with the order unchanged when
// the broker submission itself fails.
func (g *Gateway) ApproveOrder(ctx context.Context, orderID string, approved bool, comment string) (*OrderIntent, error) {
	o, err := g.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPendingApproval {
		return nil, fmt.Errorf("order %s is %s, not pending approval", orderID, o.Status)
	}

	if !approved {
		o.Status = StatusRejectedByUser
		if comment != "" {
			o.addRiskNote("rejected: " + comment)
		}
		if err := g.saveOrder(ctx, o); err != nil {
			return nil, err
		}
		g.logEvent(ctx, "order_rejected", map[string]any{"order_id": o.ID, "comment": comment})
		return o, nil
	}

	if o.IntentType == IntentEntry {
		acct := g.accountState()
		exposure, err := g.openExposure(ctx)
		if err != nil {
			return nil, fmt.Errorf("compute exposure: %w", err)
		}
		premium := o.LimitPrice * float64(o.Quantity) * 100
		if reasons := g.risk.ValidateEntry(o.Symbol, premium, exposure, acct); len(reasons) > 0 {
			o.Status = StatusBlockedRisk
			for _, r := range reasons {
				o.addRiskNote(r)
			}
			if err := g.saveOrder(ctx, o); err != nil {
				return nil, err
			}
			g.logEvent(ctx, "order_blocked", map[string]any{"order_id": o.ID, "reasons": reasons})
			logger.Warnf("order %s blocked by risk: %v", o.ID, reasons)
			return o, nil
		}
	}

	// Live trading stays off until explicitly supported end to end. A broker
	// bridge reporting a non-paper account hard-blocks the submission.
	if mode := g.effectiveMode(); mode != "paper" {
		o.Status = StatusBlockedRisk
		o.addRiskNote("live_mode_disabled")
		if err := g.saveOrder(ctx, o); err != nil {
			return nil, err
		}
		g.logEvent(ctx, "order_blocked", map[string]any{"order_id": o.ID, "reasons": []string{"live_mode_disabled"}, "mode": mode})
		logger.Warnf("order %s blocked: broker mode is %q, only paper is allowed", o.ID, mode)
		return o, nil
	}

	ref, err := g.broker.SubmitPaperOrder(ctx, submitRequest(o))
	if err != nil {
		return nil, fmt.Errorf("submit order %s: %w", o.ID, err)
	}
	o.Status = StatusSubmittedPaper
	o.BrokerOrderID = ref
	o.addRiskNote("broker_ref:" + ref)
	if err := g.saveOrder(ctx, o); err != nil {
		return nil, err
	}
	g.logEvent(ctx, "order_submitted", map[string]any{"order_id": o.ID, "broker_ref": ref})
	logger.Infof("submitted %s %s x%d @ %.2f as paper order %s", o.Side, o.Contract.Key(), o.Quantity, o.LimitPrice, ref)
	g.notify(fmt.Sprintf("Submitted %s %s x%d @ %.2f", o.Side, o.Contract.Key(), o.Quantity, o.LimitPrice))
	return o, nil
}

// effectiveMode prefers the mode the broker bridge actually reports over the
// configured one.
func (g *Gateway) effectiveMode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.connSeen && g.conn.DetectedMode != "" {
		return g.conn.DetectedMode
	}
	return g.mode
}

// openExposure aggregates the premium at risk across FILLED entries that have
// not been exited.
func (g *Gateway) openExposure(ctx context.Context) (risk.Exposure, error) {
	open, err := g.openEntries(ctx)
	if err != nil {
		return risk.Exposure{}, err
	}
	exp := risk.Exposure{BySymbol: map[string]float64{}}
	for _, o := range open {
		premium := o.entryPrice() * float64(o.remainingQuantity()) * 100
		exp.TotalPremium += premium
		exp.BySymbol[o.Symbol] += premium
	}
	return exp, nil
}

// openEntries lists FILLED ENTRY orders.
func (g *Gateway) openEntries(ctx context.Context) ([]*OrderIntent, error) {
	ms, err := g.ledger.ListOrdersByStatus(ctx, []string{string(StatusFilled)}, 0)
	if err != nil {
		return nil, err
	}
	all, err := fromModels(ms)
	if err != nil {
		return nil, err
	}
	var entries []*OrderIntent
	for _, o := range all {
		if o.IntentType == IntentEntry {
			entries = append(entries, o)
		}
	}
	return entries, nil
}

func submitRequest(o *OrderIntent) broker.SubmitRequest {
	return broker.SubmitRequest{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Action:     string(o.Action),
		Side:       string(o.Side),
		Quantity:   o.Quantity,
		LimitPrice: o.LimitPrice,
		Expiration: o.Contract.Expiration,
		Strike:     o.Contract.Strike,
		Right:      o.Contract.Right,
	}
}
