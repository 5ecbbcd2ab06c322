package decision

import (
	"context"
	"testing"

	"strike/internal/policy"

	"github.com/stretchr/testify/assert"
)

type fixedPolicies struct{ pol policy.Policy }

func (f fixedPolicies) Get() policy.Policy { return f.pol }

type countingReviewer struct {
	calls     int
	judgement Judgement
}

func (r *countingReviewer) Review(_ context.Context, _ FeatureVector, _ ScoreCard, _ Action, _ float64) Judgement {
	r.calls++
	return r.judgement
}

func benignFeature(symbol string) FeatureVector {
	return FeatureVector{
		Symbol:          symbol,
		OptionsQuality:  0.8,
		RegimeStability: 0.7,
		RelStrength20d:  0.4,
		RelStrength60d:  0.3,
		TrendStrength:   28,
		RelVolume:       1.2,
		NewsVelocity:    0.3,
		NewsFreshness:   0.4,
		EventRisk:       0.1,
		GapRisk:         0.15,
		SpreadPct:       0.01,
	}
}

func testPolicy() policy.Policy {
	pol := policy.Defaults()
	pol.MinCompositeScore = 60
	pol.MinDirectionalProb = 0.58
	return pol
}

func TestDecide_BelowThresholdSkipsReviewer(t *testing.T) {
	rev := &countingReviewer{judgement: Judgement{Confirmed: true}}
	eng := NewEngine(fixedPolicies{testPolicy()}, rev)

	card := eng.Decide(context.Background(), benignFeature("AAPL"), ScoreCard{
		CompositeScore: 40, ProbUp: 0.9, ProbDown: 0.1,
	})

	assert.Equal(t, ActionNoTrade, card.Action)
	assert.Zero(t, rev.calls, "NO_TRADE candidate must not reach the reviewer")
	assert.Contains(t, card.Rationale, "gate not met")
}

func TestDecide_WeakProbabilityIsNoTrade(t *testing.T) {
	rev := &countingReviewer{judgement: Judgement{Confirmed: true}}
	eng := NewEngine(fixedPolicies{testPolicy()}, rev)

	card := eng.Decide(context.Background(), benignFeature("AAPL"), ScoreCard{
		CompositeScore: 75, ProbUp: 0.5, ProbDown: 0.5,
	})

	assert.Equal(t, ActionNoTrade, card.Action)
	assert.Zero(t, rev.calls)
}

func TestDecide_CallAndPutGates(t *testing.T) {
	rev := &countingReviewer{judgement: Judgement{Confirmed: true, Rationale: "ok"}}
	eng := NewEngine(fixedPolicies{testPolicy()}, rev)

	call := eng.Decide(context.Background(), benignFeature("AAPL"), ScoreCard{
		CompositeScore: 75, ProbUp: 0.7, ProbDown: 0.3,
	})
	assert.Equal(t, ActionCall, call.Action)

	put := eng.Decide(context.Background(), benignFeature("AAPL"), ScoreCard{
		CompositeScore: 75, ProbUp: 0.3, ProbDown: 0.7,
	})
	assert.Equal(t, ActionPut, put.Action)
	assert.Equal(t, 2, rev.calls)
}

func TestDecide_VetoForcesNoTradeKeepsConfidence(t *testing.T) {
	rev := &countingReviewer{judgement: Judgement{
		Confirmed: false,
		VetoFlags: []string{"high_event_risk"},
		Rationale: "event risk too high",
	}}
	eng := NewEngine(fixedPolicies{testPolicy()}, rev)

	score := ScoreCard{CompositeScore: 80, ProbUp: 0.72, ProbDown: 0.28}
	card := eng.Decide(context.Background(), benignFeature("NVDA"), score)

	assert.Equal(t, ActionNoTrade, card.Action)
	assert.Equal(t, []string{"high_event_risk"}, card.VetoFlags)
	assert.Equal(t, "event risk too high", card.Rationale)
	assert.Equal(t, calibratedConfidence(benignFeature("NVDA"), score), card.Confidence)
}

func TestCalibratedConfidence_Bounds(t *testing.T) {
	worst := FeatureVector{EventRisk: 1, GapRisk: 1, SpreadPct: 1, SentimentDispersion: 1}
	best := benignFeature("X")

	lo := calibratedConfidence(worst, ScoreCard{CompositeScore: -500, ProbUp: 0.5, ProbDown: 0.5})
	hi := calibratedConfidence(best, ScoreCard{CompositeScore: 500, ProbUp: 0.99, ProbDown: 0.01})

	assert.GreaterOrEqual(t, lo, 0.02)
	assert.LessOrEqual(t, hi, 0.99)
	assert.Greater(t, hi, lo)
}
