package gateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"strike/internal/logger"
	"strike/internal/policy"

	"github.com/google/uuid"
)

// exitTrigger is one fired exit condition, in priority order: event risk
// first, then take-profit, stop-loss, and max-hold.
type exitTrigger struct {
	reason string
	detail string
}

// RunExitAutomation scans FILLED entries without an active exit and proposes
// a closing order for the first triggered condition. Throttled and
// single-flighted like the other sweeps. Returns the exits proposed by the
// run that actually executed.
func (g *Gateway) RunExitAutomation(ctx context.Context) ([]*OrderIntent, error) {
	var proposed []*OrderIntent
	_, err := g.exitGuard.Run(ctx, func(ctx context.Context) error {
		var err error
		proposed, err = g.exitSweep(ctx)
		return err
	})
	return proposed, err
}

func (g *Gateway) exitSweep(ctx context.Context) ([]*OrderIntent, error) {
	entries, err := g.openEntries(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	covered, err := g.entriesWithActiveExit(ctx)
	if err != nil {
		return nil, err
	}
	marks := g.positionMarks(ctx)

	pol := g.policies.Get()
	now := time.Now()
	var proposed []*OrderIntent
	for _, entry := range entries {
		if covered[entry.ID] {
			continue
		}
		mark, ok := g.markFor(ctx, entry, marks)
		if !ok {
			logger.Warnf("exit sweep: no mark for %s, skipping", entry.Contract.Key())
			continue
		}
		trigger, ok := g.evaluateExit(ctx, entry, mark, pol, now)
		if !ok {
			continue
		}
		exit, err := g.proposeExit(ctx, entry, mark, trigger)
		if err != nil {
			logger.Errorf("propose exit for %s: %v", entry.ID, err)
			continue
		}
		proposed = append(proposed, exit)
	}
	return proposed, nil
}

// entriesWithActiveExit maps entry ids that already have a live or filled
// exit order, so each position gets at most one closing order.
func (g *Gateway) entriesWithActiveExit(ctx context.Context) (map[string]bool, error) {
	ms, err := g.ledger.ListOrdersByStatus(ctx, []string{
		string(StatusPendingApproval),
		string(StatusSubmittedPaper),
		string(StatusSubmittedLive),
		string(StatusFilled),
	}, 0)
	if err != nil {
		return nil, err
	}
	orders, err := fromModels(ms)
	if err != nil {
		return nil, err
	}
	covered := map[string]bool{}
	for _, o := range orders {
		if o.IntentType == IntentExit && o.ParentOrderID != "" {
			covered[o.ParentOrderID] = true
		}
	}
	return covered, nil
}

// positionMarks fetches broker position marks once per sweep. A failure just
// degrades to per-contract mid lookups.
func (g *Gateway) positionMarks(ctx context.Context) map[string]float64 {
	positions, err := g.broker.GetPositionsSnapshot(ctx)
	if err != nil {
		logger.Warnf("exit sweep: positions snapshot failed, falling back to mid quotes: %v", err)
		return nil
	}
	marks := map[string]float64{}
	for _, p := range positions {
		if key := p.ContractKey(); key != "" && p.MarketPrice > 0 {
			marks[key] = p.MarketPrice
		}
	}
	return marks
}

// markFor prefers the broker position mark, then the live mid quote.
func (g *Gateway) markFor(ctx context.Context, entry *OrderIntent, marks map[string]float64) (float64, bool) {
	if m, ok := marks[entry.Contract.Key()]; ok && m > 0 {
		return m, true
	}
	mid, err := g.broker.GetOptionMidPrice(ctx, entry.Contract)
	if err != nil || mid <= 0 {
		return 0, false
	}
	return mid, true
}

// evaluateExit checks the exit conditions in priority order and returns the
// first that fires.
func (g *Gateway) evaluateExit(ctx context.Context, entry *OrderIntent, mark float64, pol policy.Policy, now time.Time) (exitTrigger, bool) {
	entryPx := entry.entryPrice()
	if entryPx <= 0 {
		return exitTrigger{}, false
	}
	pnlPct := (mark - entryPx) / entryPx
	holdDays := now.Sub(entry.CreatedAt).Hours() / 24

	if t, ok := g.eventTrigger(ctx, entry.Symbol, pol, now); ok {
		return t, true
	}
	if pnlPct >= pol.TakeProfitPct {
		return exitTrigger{reason: "take_profit", detail: fmt.Sprintf("pnl=%.1f%% target=%.0f%%", pnlPct*100, pol.TakeProfitPct*100)}, true
	}
	if pnlPct <= -pol.StopLossPct {
		return exitTrigger{reason: "stop_loss", detail: fmt.Sprintf("pnl=%.1f%% limit=-%.0f%%", pnlPct*100, pol.StopLossPct*100)}, true
	}
	if holdDays > float64(pol.MaxHoldDays) {
		return exitTrigger{reason: "max_hold", detail: fmt.Sprintf("held=%.1fd max=%dd", holdDays, pol.MaxHoldDays)}, true
	}
	return exitTrigger{}, false
}

// eventTrigger fires when an earnings event falls inside the pre-event exit
// window or a high-risk filing falls inside the lookback window. When both
// apply, the temporally closer event decides the reason.
func (g *Gateway) eventTrigger(ctx context.Context, symbol string, pol policy.Policy, now time.Time) (exitTrigger, bool) {
	const never = time.Duration(math.MaxInt64)
	earningsDist, filingDist := never, never

	ev := g.events.NextEarnings(ctx, symbol)
	if ev.EventDate != nil {
		if until := ev.EventDate.Sub(now); until >= 0 && until <= time.Duration(pol.PreEventExitHours)*time.Hour {
			earningsDist = until
		}
	}
	fr := g.events.FilingRisk(ctx, symbol)
	if fr.EventRisk >= pol.FilingRiskThreshold && fr.LatestFilingDate != nil {
		if since := now.Sub(*fr.LatestFilingDate); since >= 0 && since <= time.Duration(pol.FilingLookbackHours)*time.Hour {
			filingDist = since
		}
	}

	switch {
	case earningsDist == never && filingDist == never:
		return exitTrigger{}, false
	case earningsDist <= filingDist:
		return exitTrigger{reason: "pre_event", detail: fmt.Sprintf("earnings_in=%.1fh window=%dh", earningsDist.Hours(), pol.PreEventExitHours)}, true
	default:
		return exitTrigger{reason: "filing_risk", detail: fmt.Sprintf("filed_%.1fh_ago risk=%.2f", filingDist.Hours(), fr.EventRisk)}, true
	}
}

// proposeExit creates the PENDING_APPROVAL closing order for an entry.
func (g *Gateway) proposeExit(ctx context.Context, entry *OrderIntent, mark float64, trigger exitTrigger) (*OrderIntent, error) {
	now := time.Now()
	entryPx := entry.entryPrice()
	detail := fmt.Sprintf("exit:%s entry=%.2f mark=%.2f %s", trigger.reason, entryPx, mark, trigger.detail)
	exit := &OrderIntent{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		IntentType:    IntentExit,
		Side:          SideSell,
		Symbol:        entry.Symbol,
		Action:        entry.Action,
		Contract:      entry.Contract,
		Quantity:      entry.remainingQuantity(),
		LimitPrice:    roundPrice(mark),
		Status:        StatusPendingApproval,
		ParentOrderID: entry.ID,
		ExitReason:    trigger.reason,
		RiskNotes:     []string{detail},
	}
	if err := g.saveOrder(ctx, exit); err != nil {
		return nil, err
	}
	g.logEvent(ctx, "exit_proposed", map[string]any{
		"order_id":  exit.ID,
		"parent_id": entry.ID,
		"reason":    trigger.reason,
		"detail":    trigger.detail,
		"mark":      mark,
		"quantity":  exit.Quantity,
	})
	logger.Infof("exit proposed for %s (%s): x%d @ %.2f", entry.Contract.Key(), trigger.reason, exit.Quantity, exit.LimitPrice)
	g.notify(fmt.Sprintf("Exit proposed for %s (%s): x%d @ %.2f", entry.Contract.Key(), trigger.reason, exit.Quantity, exit.LimitPrice))
	return exit, nil
}
