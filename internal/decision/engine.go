package decision

import (
	"context"
	"fmt"
	"math"
	"time"

	"strike/internal/policy"
)

// Fixed confidence-blend weights. These are policy constants, not fitted
// values; do not re-derive them.
const (
	wCompositeSignal = 1.1
	wDirectionalEdge = 1.7

	qwOptionsQuality  = 0.55
	qwRegimeStability = 0.45
	qwRelStrength20   = 0.30
	qwRelStrength60   = 0.20
	qwTrendDeviation  = 0.015
	qwRelVolumeDev    = 0.25
	qwNewsBlend       = 0.20

	rwEventRisk      = 0.90
	rwGapRisk        = 0.70
	rwSpreadScale    = 8.0
	rwSpreadCap      = 0.50
	rwDispersion     = 0.60
	rwVolumeShortage = 0.50

	dispersionBaseline = 0.35
	relVolumeFloor     = 0.70

	confidenceMin = 0.02
	confidenceMax = 0.99
)

// Policies provides the current trading policy snapshot.
type Policies interface {
	Get() policy.Policy
}

type Engine struct {
	policies Policies
	reviewer Reviewer
}

func NewEngine(policies Policies, reviewer Reviewer) *Engine {
	return &Engine{policies: policies, reviewer: reviewer}
}

// Decide gates the candidate deterministically, computes the calibrated
// confidence, and submits tradeable candidates to the reviewer. A
// non-confirming verdict forces NO_TRADE while preserving the confidence.
// NO_TRADE candidates never reach the reviewer.
func (e *Engine) Decide(ctx context.Context, feature FeatureVector, score ScoreCard) DecisionCard {
	pol := e.policies.Get()
	confidence := calibratedConfidence(feature, score)

	card := DecisionCard{
		Symbol:     feature.Symbol,
		Action:     gateAction(pol, score),
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if card.Action == ActionNoTrade {
		card.Rationale = fmt.Sprintf("gate not met: composite=%.1f (min %.1f) p_up=%.2f p_down=%.2f (min %.2f)",
			score.CompositeScore, pol.MinCompositeScore, score.ProbUp, score.ProbDown, pol.MinDirectionalProb)
		return card
	}

	j := e.reviewer.Review(ctx, feature, score, card.Action, pol.MinCompositeScore)
	card.Rationale = j.Rationale
	card.VetoFlags = j.VetoFlags
	if !j.Confirmed {
		card.Action = ActionNoTrade
	}
	return card
}

// gateAction is the deterministic gate, evaluated in documented order:
// CALL before PUT, and NO_TRADE otherwise.
func gateAction(pol policy.Policy, score ScoreCard) Action {
	if score.CompositeScore >= pol.MinCompositeScore {
		if score.ProbUp >= pol.MinDirectionalProb {
			return ActionCall
		}
		if score.ProbDown >= pol.MinDirectionalProb {
			return ActionPut
		}
	}
	return ActionNoTrade
}

func calibratedConfidence(f FeatureVector, s ScoreCard) float64 {
	compositeSignal := clamp(s.CompositeScore/120, -1.4, 1.4)
	directionalEdge := math.Abs(s.ProbUp - s.ProbDown)

	qualitySignal := qwOptionsQuality*f.OptionsQuality +
		qwRegimeStability*f.RegimeStability +
		qwRelStrength20*f.RelStrength20d +
		qwRelStrength60*f.RelStrength60d +
		qwTrendDeviation*(f.TrendStrength-20) +
		qwRelVolumeDev*(f.RelVolume-1) +
		qwNewsBlend*(f.NewsVelocity+f.NewsFreshness-f.SentimentDispersion)

	riskPenalty := rwEventRisk*f.EventRisk +
		rwGapRisk*f.GapRisk +
		math.Min(f.SpreadPct*rwSpreadScale, rwSpreadCap) +
		rwDispersion*math.Max(0, f.SentimentDispersion-dispersionBaseline) +
		rwVolumeShortage*math.Max(0, relVolumeFloor-f.RelVolume)

	raw := sigmoid(wCompositeSignal*compositeSignal + wDirectionalEdge*directionalEdge + qualitySignal - riskPenalty)
	return clamp(raw, confidenceMin, confidenceMax)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
