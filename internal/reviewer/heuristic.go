package reviewer

import (
	"fmt"
	"strings"

	"strike/internal/decision"
)

// Heuristic veto thresholds. Any flag present means not confirmed.
const (
	vetoEventRisk      = 0.82
	vetoSpreadPct      = 0.02
	vetoGapRisk        = 0.88
	vetoTrendStrength  = 10.0
	vetoRelVolume      = 0.45
	vetoDispersion     = 0.90
	weakFloorShortfall = 6.0
)

// heuristicJudgement is the deterministic fallback reviewer.
func heuristicJudgement(f decision.FeatureVector, s decision.ScoreCard, weakFloor float64) decision.Judgement {
	var flags []string
	if f.EventRisk >= vetoEventRisk {
		flags = append(flags, "high_event_risk")
	}
	if f.SpreadPct >= vetoSpreadPct {
		flags = append(flags, "wide_spread")
	}
	if f.GapRisk >= vetoGapRisk {
		flags = append(flags, "gap_risk")
	}
	if f.TrendStrength < vetoTrendStrength {
		flags = append(flags, "weak_trend")
	}
	if f.RelVolume < vetoRelVolume {
		flags = append(flags, "thin_volume")
	}
	if f.SentimentDispersion > vetoDispersion {
		flags = append(flags, "sentiment_dispersion")
	}
	if s.CompositeScore < weakFloor-weakFloorShortfall {
		flags = append(flags, "below_weak_floor")
	}

	if len(flags) > 0 {
		return decision.Judgement{
			Confirmed: false,
			VetoFlags: flags,
			Rationale: fmt.Sprintf("heuristic veto (%s)", strings.Join(flags, ", ")),
		}
	}
	return decision.Judgement{Confirmed: true, Rationale: "heuristic pass"}
}
