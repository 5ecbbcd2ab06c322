// Package decision turns per-symbol scoring output into a final trade action:
// a deterministic score/probability gate, a calibrated confidence, and a
// reviewer veto.
package decision

import (
	"context"
	"time"
)

type Action string

const (
	ActionCall    Action = "CALL"
	ActionPut     Action = "PUT"
	ActionNoTrade Action = "NO_TRADE"
)

// FeatureVector is the quality/risk feature set computed by the scoring
// pipeline. It is treated as an opaque value object downstream.
type FeatureVector struct {
	Symbol              string  `json:"symbol"`
	OptionsQuality      float64 `json:"options_quality"`
	RegimeStability     float64 `json:"regime_stability"`
	RelStrength20d      float64 `json:"rel_strength_20d"`
	RelStrength60d      float64 `json:"rel_strength_60d"`
	TrendStrength       float64 `json:"trend_strength"`
	RelVolume           float64 `json:"rel_volume"`
	NewsVelocity        float64 `json:"news_velocity"`
	NewsFreshness       float64 `json:"news_freshness"`
	SentimentDispersion float64 `json:"sentiment_dispersion"`
	EventRisk           float64 `json:"event_risk"`
	GapRisk             float64 `json:"gap_risk"`
	SpreadPct           float64 `json:"spread_pct"`
}

// ScoreCard is the aggregate model output for a symbol.
type ScoreCard struct {
	CompositeScore float64 `json:"composite_score"`
	ProbUp         float64 `json:"prob_up"`
	ProbDown       float64 `json:"prob_down"`
}

// DecisionCard is the engine's final verdict for one symbol.
type DecisionCard struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	VetoFlags  []string  `json:"veto_flags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Judgement is a reviewer verdict on a candidate trade.
type Judgement struct {
	Confirmed bool     `json:"confirmed"`
	VetoFlags []string `json:"veto_flags,omitempty"`
	Rationale string   `json:"rationale"`
}

// Reviewer is the judgment service the engine consults for non-NO_TRADE
// candidates. weakFloor is the composite-score floor the reviewer may use as
// context for its weak-signal check.
type Reviewer interface {
	Review(ctx context.Context, feature FeatureVector, score ScoreCard, action Action, weakFloor float64) Judgement
}
