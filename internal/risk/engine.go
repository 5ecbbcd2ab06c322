// Package risk sizes orders under the premium cap and validates proposed
// entries against account-level limits. Failures are reason tags, not errors:
// the gateway records them as BLOCKED_RISK risk notes.
package risk

import (
	"math"

	"strike/internal/policy"
)

const (
	// contractMultiplier converts a per-share option premium to dollars.
	contractMultiplier = 100

	// minAccountEquity is the floor below which no new entries are sized.
	minAccountEquity = 2000.0
)

type Policies interface {
	Get() policy.Policy
}

// AccountState is the broker-reported account view used for validation.
type AccountState struct {
	Equity        float64
	RealizedPnL   float64
	UnrealizedPnL float64
}

// Exposure aggregates the premium currently at risk in open positions.
type Exposure struct {
	TotalPremium float64
	BySymbol     map[string]float64
}

func (e Exposure) symbolPremium(symbol string) float64 {
	if e.BySymbol == nil {
		return 0
	}
	return e.BySymbol[symbol]
}

type Engine struct {
	policies Policies
}

func NewEngine(policies Policies) *Engine {
	return &Engine{policies: policies}
}

// ContractQuantity sizes an order so its total premium stays inside the
// policy premium cap. Returns 0 when the account cannot carry one contract.
func (e *Engine) ContractQuantity(equity, limitPrice float64) int {
	if equity < minAccountEquity || limitPrice <= 0 {
		return 0
	}
	costPerContract := limitPrice * contractMultiplier
	maxPremium := equity * e.policies.Get().MaxPremiumPct
	if costPerContract <= 0 || maxPremium < costPerContract {
		return 0
	}
	return int(math.Floor(maxPremium / costPerContract))
}

// ValidateEntry runs the pre-submission checks for an ENTRY order and returns
// the list of failed-check tags; an empty list means the order may proceed.
func (e *Engine) ValidateEntry(symbol string, premium float64, exposure Exposure, acct AccountState) []string {
	pol := e.policies.Get()
	var reasons []string

	if acct.Equity < minAccountEquity {
		reasons = append(reasons, "account_undersized")
	}
	if acct.Equity > 0 && premium > acct.Equity*pol.MaxPremiumPct {
		reasons = append(reasons, "premium_cap_exceeded")
	}
	if acct.Equity > 0 && acct.UnrealizedPnL < 0 &&
		-acct.UnrealizedPnL/acct.Equity > pol.MaxDrawdownPct {
		reasons = append(reasons, "drawdown_limit")
	}
	// Concentration only binds once there is existing exposure to be
	// concentrated against.
	if exposure.TotalPremium > 0 {
		share := (exposure.symbolPremium(symbol) + premium) / (exposure.TotalPremium + premium)
		if share > pol.MaxCorrelation {
			reasons = append(reasons, "correlation_cap")
		}
	}
	return reasons
}
