// Package policy holds the mutable trading policy: thresholds, risk limits,
// exit parameters, and the symbol universe. Every write goes through a
// patch-and-validate merge against the current value; numeric fields are
// clamped to fixed ranges rather than rejected.
package policy

import "math"

type Policy struct {
	ScanTopN            int      `json:"scan_top_n"`
	ScreenerCode        string   `json:"screener_code"`
	AnalysisProvider    string   `json:"analysis_provider"`
	MinCompositeScore   float64  `json:"min_composite_score"`
	MinDirectionalProb  float64  `json:"min_directional_prob"`
	DTEMin              int      `json:"dte_min"`
	DTEMax              int      `json:"dte_max"`
	MaxPremiumPct       float64  `json:"max_premium_pct"`
	MaxDrawdownPct      float64  `json:"max_drawdown_pct"`
	MaxCorrelation      float64  `json:"max_correlation"`
	TakeProfitPct       float64  `json:"take_profit_pct"`
	StopLossPct         float64  `json:"stop_loss_pct"`
	MaxHoldDays         int      `json:"max_hold_days"`
	PreEventExitHours   int      `json:"pre_event_exit_hours"`
	FilingLookbackHours int      `json:"filing_lookback_hours"`
	FilingRiskThreshold float64  `json:"filing_risk_threshold"`
	UniverseSymbols     []string `json:"universe_symbols"`
}

// Patch is a partial policy update. Nil fields keep the current value.
// Integer-valued fields arrive as floats (JSON) and are rounded before
// clamping. An empty UniverseSymbols list is ignored, never applied.
type Patch struct {
	ScanTopN            *float64 `json:"scan_top_n,omitempty"`
	ScreenerCode        *string  `json:"screener_code,omitempty"`
	AnalysisProvider    *string  `json:"analysis_provider,omitempty"`
	MinCompositeScore   *float64 `json:"min_composite_score,omitempty"`
	MinDirectionalProb  *float64 `json:"min_directional_prob,omitempty"`
	DTEMin              *float64 `json:"dte_min,omitempty"`
	DTEMax              *float64 `json:"dte_max,omitempty"`
	MaxPremiumPct       *float64 `json:"max_premium_pct,omitempty"`
	MaxDrawdownPct      *float64 `json:"max_drawdown_pct,omitempty"`
	MaxCorrelation      *float64 `json:"max_correlation,omitempty"`
	TakeProfitPct       *float64 `json:"take_profit_pct,omitempty"`
	StopLossPct         *float64 `json:"stop_loss_pct,omitempty"`
	MaxHoldDays         *float64 `json:"max_hold_days,omitempty"`
	PreEventExitHours   *float64 `json:"pre_event_exit_hours,omitempty"`
	FilingLookbackHours *float64 `json:"filing_lookback_hours,omitempty"`
	FilingRiskThreshold *float64 `json:"filing_risk_threshold,omitempty"`
	UniverseSymbols     []string `json:"universe_symbols,omitempty"`
}

type limit struct{ min, max float64 }

// Clamp ranges for every numeric field. Out-of-range input is clamped, not
// rejected.
var limits = map[string]limit{
	"scan_top_n":            {1, 50},
	"min_composite_score":   {0, 100},
	"min_directional_prob":  {0.5, 0.95},
	"dte_min":               {1, 60},
	"dte_max":               {5, 120},
	"max_premium_pct":       {0.005, 0.25},
	"max_drawdown_pct":      {0.02, 0.5},
	"max_correlation":       {0.05, 1},
	"take_profit_pct":       {0.05, 3},
	"stop_loss_pct":         {0.05, 0.9},
	"max_hold_days":         {1, 60},
	"pre_event_exit_hours":  {1, 168},
	"filing_lookback_hours": {1, 336},
	"filing_risk_threshold": {0.1, 1},
}

func Defaults() Policy {
	return Policy{
		ScanTopN:            8,
		ScreenerCode:        "most_active",
		AnalysisProvider:    "standard",
		MinCompositeScore:   62,
		MinDirectionalProb:  0.58,
		DTEMin:              7,
		DTEMax:              45,
		MaxPremiumPct:       0.03,
		MaxDrawdownPct:      0.12,
		MaxCorrelation:      0.35,
		TakeProfitPct:       0.30,
		StopLossPct:         0.25,
		MaxHoldDays:         10,
		PreEventExitHours:   36,
		FilingLookbackHours: 48,
		FilingRiskThreshold: 0.75,
		UniverseSymbols: []string{
			"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "META", "TSLA", "AMD", "NFLX", "SPY",
		},
	}
}

func clampFloat(field string, v float64) float64 {
	lim, ok := limits[field]
	if !ok {
		return v
	}
	if v < lim.min {
		return lim.min
	}
	if v > lim.max {
		return lim.max
	}
	return v
}

func clampInt(field string, v float64) int {
	return int(clampFloat(field, math.Round(v)))
}

// merge applies a patch onto cur with clamping and returns the result.
// The dteMax >= dteMin invariant is restored after clamping.
func merge(cur Policy, p Patch) Policy {
	next := cur
	next.UniverseSymbols = append([]string(nil), cur.UniverseSymbols...)

	if p.ScanTopN != nil {
		next.ScanTopN = clampInt("scan_top_n", *p.ScanTopN)
	}
	if p.ScreenerCode != nil {
		next.ScreenerCode = *p.ScreenerCode
	}
	if p.AnalysisProvider != nil {
		next.AnalysisProvider = *p.AnalysisProvider
	}
	if p.MinCompositeScore != nil {
		next.MinCompositeScore = clampFloat("min_composite_score", *p.MinCompositeScore)
	}
	if p.MinDirectionalProb != nil {
		next.MinDirectionalProb = clampFloat("min_directional_prob", *p.MinDirectionalProb)
	}
	if p.DTEMin != nil {
		next.DTEMin = clampInt("dte_min", *p.DTEMin)
	}
	if p.DTEMax != nil {
		next.DTEMax = clampInt("dte_max", *p.DTEMax)
	}
	if next.DTEMax < next.DTEMin {
		next.DTEMax = next.DTEMin
	}
	if p.MaxPremiumPct != nil {
		next.MaxPremiumPct = clampFloat("max_premium_pct", *p.MaxPremiumPct)
	}
	if p.MaxDrawdownPct != nil {
		next.MaxDrawdownPct = clampFloat("max_drawdown_pct", *p.MaxDrawdownPct)
	}
	if p.MaxCorrelation != nil {
		next.MaxCorrelation = clampFloat("max_correlation", *p.MaxCorrelation)
	}
	if p.TakeProfitPct != nil {
		next.TakeProfitPct = clampFloat("take_profit_pct", *p.TakeProfitPct)
	}
	if p.StopLossPct != nil {
		next.StopLossPct = clampFloat("stop_loss_pct", *p.StopLossPct)
	}
	if p.MaxHoldDays != nil {
		next.MaxHoldDays = clampInt("max_hold_days", *p.MaxHoldDays)
	}
	if p.PreEventExitHours != nil {
		next.PreEventExitHours = clampInt("pre_event_exit_hours", *p.PreEventExitHours)
	}
	if p.FilingLookbackHours != nil {
		next.FilingLookbackHours = clampInt("filing_lookback_hours", *p.FilingLookbackHours)
	}
	if p.FilingRiskThreshold != nil {
		next.FilingRiskThreshold = clampFloat("filing_risk_threshold", *p.FilingRiskThreshold)
	}
	if len(p.UniverseSymbols) > 0 {
		next.UniverseSymbols = append([]string(nil), p.UniverseSymbols...)
	}
	return next
}

// fullPatch lifts a policy into a patch setting every field, so a loaded
// snapshot passes through the same clamp tables as a live update. Empty
// strings and an empty universe stay unset and fall back to the base value.
func fullPatch(p Policy) Patch {
	f := func(v float64) *float64 { return &v }
	out := Patch{
		ScanTopN:            f(float64(p.ScanTopN)),
		MinCompositeScore:   f(p.MinCompositeScore),
		MinDirectionalProb:  f(p.MinDirectionalProb),
		DTEMin:              f(float64(p.DTEMin)),
		DTEMax:              f(float64(p.DTEMax)),
		MaxPremiumPct:       f(p.MaxPremiumPct),
		MaxDrawdownPct:      f(p.MaxDrawdownPct),
		MaxCorrelation:      f(p.MaxCorrelation),
		TakeProfitPct:       f(p.TakeProfitPct),
		StopLossPct:         f(p.StopLossPct),
		MaxHoldDays:         f(float64(p.MaxHoldDays)),
		PreEventExitHours:   f(float64(p.PreEventExitHours)),
		FilingLookbackHours: f(float64(p.FilingLookbackHours)),
		FilingRiskThreshold: f(p.FilingRiskThreshold),
		UniverseSymbols:     p.UniverseSymbols,
	}
	if p.ScreenerCode != "" {
		out.ScreenerCode = &p.ScreenerCode
	}
	if p.AnalysisProvider != "" {
		out.AnalysisProvider = &p.AnalysisProvider
	}
	return out
}

// copyOf returns a defensive copy, including the universe slice.
func copyOf(p Policy) Policy {
	out := p
	out.UniverseSymbols = append([]string(nil), p.UniverseSymbols...)
	return out
}
