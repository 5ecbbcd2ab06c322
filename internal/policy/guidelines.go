package policy

import (
	"fmt"
	"strings"
)

// Guidelines is a human-readable summary of the active trading rules,
// served to the UI and echoed to reviewers alongside candidates.
type Guidelines struct {
	Entry    []string `json:"entry"`
	Risk     []string `json:"risk"`
	Exit     []string `json:"exit"`
	Universe []string `json:"universe"`
}

// Guidelines renders the current policy as rule text. The wording is stable
// so callers can diff it across policy changes.
func (s *Store) Guidelines() Guidelines {
	p := s.Get()
	return Guidelines{
		Entry: []string{
			fmt.Sprintf("Scan the top %d candidates from the %s screener.", p.ScanTopN, p.ScreenerCode),
			fmt.Sprintf("Enter only when composite score >= %.0f and directional probability >= %.2f.", p.MinCompositeScore, p.MinDirectionalProb),
			fmt.Sprintf("Pick contracts expiring in %d to %d days.", p.DTEMin, p.DTEMax),
		},
		Risk: []string{
			fmt.Sprintf("Spend at most %.1f%% of equity on a single entry premium.", p.MaxPremiumPct*100),
			fmt.Sprintf("Stop adding risk past %.0f%% portfolio drawdown.", p.MaxDrawdownPct*100),
			fmt.Sprintf("Keep pairwise position correlation under %.2f.", p.MaxCorrelation),
		},
		Exit: []string{
			fmt.Sprintf("Take profit at +%.0f%%, cut losses at -%.0f%%.", p.TakeProfitPct*100, p.StopLossPct*100),
			fmt.Sprintf("Close any position held longer than %d days.", p.MaxHoldDays),
			fmt.Sprintf("Exit within %d hours of earnings, or when filing risk >= %.2f inside a %d hour window.", p.PreEventExitHours, p.FilingRiskThreshold, p.FilingLookbackHours),
		},
		Universe: append([]string(nil), p.UniverseSymbols...),
	}
}

// String flattens the guidelines into one block, one rule per line.
func (g Guidelines) String() string {
	var b strings.Builder
	for _, group := range [][]string{g.Entry, g.Risk, g.Exit} {
		for _, rule := range group {
			b.WriteString(rule)
			b.WriteString("\n")
		}
	}
	if len(g.Universe) > 0 {
		b.WriteString("Universe: " + strings.Join(g.Universe, ", ") + "\n")
	}
	return b.String()
}
