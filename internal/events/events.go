// Package events wraps the corporate-event data adapters (earnings calendar,
// filing risk) behind per-symbol TTL caches with single-flight lookups, so
// concurrent exit-automation passes never issue duplicate external calls.
package events

import (
	"context"
	"strings"
	"time"

	"strike/internal/logger"

	"golang.org/x/sync/singleflight"
)

// SourceUnavailable marks cached sentinel values written after a lookup
// failure; they expire with the normal TTL so a failing dependency is not
// hot-looped.
const SourceUnavailable = "unavailable"

// EarningsEvent is the next known binary event for a symbol.
type EarningsEvent struct {
	EventDate *time.Time `json:"event_date"`
	Source    string     `json:"source"`
}

// FilingRisk is a snapshot of recent-filing risk for a symbol.
type FilingRisk struct {
	EventRisk        float64    `json:"event_risk"`
	LatestFilingDate *time.Time `json:"latest_filing_date"`
	LatestForm       string     `json:"latest_form"`
	Source           string     `json:"source"`
	Note             string     `json:"note"`
}

type EarningsSource interface {
	NextEarningsDate(ctx context.Context, symbol string) (EarningsEvent, error)
}

type FilingSource interface {
	FilingRiskSnapshot(ctx context.Context, symbol string) (FilingRisk, error)
}

// Service serves cached event data. Lookups never return an error: failures
// are logged and cached as unavailable sentinels for their TTL.
type Service struct {
	earnings EarningsSource
	filings  FilingSource

	earningsCache *ttlCache[EarningsEvent]
	filingsCache  *ttlCache[FilingRisk]
	flight        singleflight.Group
}

func NewService(earnings EarningsSource, filings FilingSource, earningsTTL, filingsTTL time.Duration) *Service {
	return &Service{
		earnings:      earnings,
		filings:       filings,
		earningsCache: newTTLCache[EarningsEvent](earningsTTL),
		filingsCache:  newTTLCache[FilingRisk](filingsTTL),
	}
}

func (s *Service) NextEarnings(ctx context.Context, symbol string) EarningsEvent {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || s.earnings == nil {
		return EarningsEvent{Source: SourceUnavailable}
	}
	if ev, ok := s.earningsCache.Get(symbol); ok {
		return ev
	}
	v, _, _ := s.flight.Do("earnings:"+symbol, func() (any, error) {
		if ev, ok := s.earningsCache.Get(symbol); ok {
			return ev, nil
		}
		ev, err := s.earnings.NextEarningsDate(ctx, symbol)
		if err != nil {
			logger.Warnf("events: earnings lookup failed symbol=%s err=%v", symbol, err)
			ev = EarningsEvent{Source: SourceUnavailable}
		}
		s.earningsCache.Set(symbol, ev)
		return ev, nil
	})
	return v.(EarningsEvent)
}

func (s *Service) FilingRisk(ctx context.Context, symbol string) FilingRisk {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || s.filings == nil {
		return FilingRisk{Source: SourceUnavailable}
	}
	if fr, ok := s.filingsCache.Get(symbol); ok {
		return fr
	}
	v, _, _ := s.flight.Do("filings:"+symbol, func() (any, error) {
		if fr, ok := s.filingsCache.Get(symbol); ok {
			return fr, nil
		}
		fr, err := s.filings.FilingRiskSnapshot(ctx, symbol)
		if err != nil {
			logger.Warnf("events: filing lookup failed symbol=%s err=%v", symbol, err)
			fr = FilingRisk{Source: SourceUnavailable}
		}
		s.filingsCache.Set(symbol, fr)
		return fr, nil
	})
	return v.(FilingRisk)
}

// Flush drops both caches, e.g. after a broker configuration reload.
func (s *Service) Flush() {
	s.earningsCache.Flush()
	s.filingsCache.Flush()
}
