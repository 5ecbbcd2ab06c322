package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"strike/internal/broker"
	"strike/internal/decision"
	"strike/internal/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	minOpenInterest = 150
	minVolume       = 30
	maxSpreadPct    = 0.20

	// targetDelta is the preferred absolute delta for directional entries.
	targetDelta = 0.35
)

// Proposal validation failures. All wrap ErrProposalRejected and leave the
// ledger untouched.
var (
	ErrProposalRejected = errors.New("proposal rejected")

	ErrNoTradeDecision   = fmt.Errorf("%w: decision action is NO_TRADE", ErrProposalRejected)
	ErrNoContractMatch   = fmt.Errorf("%w: no contract passes the liquidity and expiry filters", ErrProposalRejected)
	ErrAccountUndersized = fmt.Errorf("%w: equity cannot size a single contract", ErrProposalRejected)
)

// ProposeOrder turns a CALL/PUT decision plus an option chain into a
// PENDING_APPROVAL entry order. A NO_TRADE decision, an empty post-filter
// chain, and an account too small for one contract each fail with their own
// sentinel before anything is written.
func (g *Gateway) ProposeOrder(ctx context.Context, card decision.DecisionCard, chain []broker.OptionContract) (*OrderIntent, error) {
	if card.Action == decision.ActionNoTrade {
		return nil, ErrNoTradeDecision
	}
	pol := g.policies.Get()
	now := time.Now()

	contract, ok := selectContract(chain, card.Action, pol.DTEMin, pol.DTEMax, now)
	if !ok {
		logger.Infof("no tradable contract for %s %s: chain of %d filtered to zero", card.Symbol, card.Action, len(chain))
		return nil, fmt.Errorf("%w (symbol=%s chain=%d)", ErrNoContractMatch, card.Symbol, len(chain))
	}

	limit := roundPrice(contract.Mid())
	if limit <= 0 {
		return nil, fmt.Errorf("%w: contract %s has no usable quote", ErrProposalRejected, contract.Key())
	}

	acct := g.accountState()
	qty := g.risk.ContractQuantity(acct.Equity, limit)
	if qty <= 0 {
		logger.Infof("propose %s %s: account equity %.2f cannot size one contract at %.2f", card.Symbol, card.Action, acct.Equity, limit)
		return nil, fmt.Errorf("%w (equity=%.2f limit=%.2f)", ErrAccountUndersized, acct.Equity, limit)
	}

	cardCopy := card
	o := &OrderIntent{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		IntentType: IntentEntry,
		Side:       SideBuy,
		Symbol:     card.Symbol,
		Action:     card.Action,
		Contract:   contract,
		Quantity:   qty,
		LimitPrice: limit,
		Status:     StatusPendingApproval,
		Decision:   &cardCopy,
	}
	if err := g.saveOrder(ctx, o); err != nil {
		return nil, err
	}
	g.logEvent(ctx, "order_proposed", map[string]any{
		"order_id":   o.ID,
		"symbol":     o.Symbol,
		"action":     o.Action,
		"contract":   contract.Key(),
		"quantity":   qty,
		"limit":      limit,
		"confidence": card.Confidence,
	})
	logger.Infof("proposed %s %s x%d @ %.2f (%s)", card.Action, contract.Key(), qty, limit, o.ID)
	return o, nil
}

// selectContract filters a chain to liquid contracts of the decided right
// inside the policy DTE window, then ranks by closeness to the target delta,
// tighter spread, then higher open interest.
func selectContract(chain []broker.OptionContract, action decision.Action, dteMin, dteMax int, now time.Time) (broker.OptionContract, bool) {
	right := broker.RightCall
	if action == decision.ActionPut {
		right = broker.RightPut
	}
	var candidates []broker.OptionContract
	for _, c := range chain {
		if c.Right != right {
			continue
		}
		if c.OpenInterest < minOpenInterest || c.Volume < minVolume {
			continue
		}
		dte := c.DTE(now)
		if dte < dteMin || dte > dteMax {
			continue
		}
		if c.Mid() <= 0 || c.SpreadPct() > maxSpreadPct {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return broker.OptionContract{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		di := math.Abs(math.Abs(candidates[i].Delta) - targetDelta)
		dj := math.Abs(math.Abs(candidates[j].Delta) - targetDelta)
		if di != dj {
			return di < dj
		}
		si, sj := candidates[i].SpreadPct(), candidates[j].SpreadPct()
		if si != sj {
			return si < sj
		}
		return candidates[i].OpenInterest > candidates[j].OpenInterest
	})
	return candidates[0], true
}

// roundPrice quotes limit prices in whole cents.
func roundPrice(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
