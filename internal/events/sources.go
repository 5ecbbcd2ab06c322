package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"strike/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// RESTEarnings fetches the next earnings date from a calendar HTTP endpoint.
type RESTEarnings struct {
	http *resty.Client
}

// RESTFilings fetches a filing-risk snapshot from a filings HTTP endpoint.
type RESTFilings struct {
	http *resty.Client
}

func NewRESTEarnings(cfg config.EventsConfig) *RESTEarnings {
	base := strings.TrimRight(strings.TrimSpace(cfg.EarningsURL), "/")
	if base == "" {
		return nil
	}
	return &RESTEarnings{http: newEventHTTP(base, cfg)}
}

func NewRESTFilings(cfg config.EventsConfig) *RESTFilings {
	base := strings.TrimRight(strings.TrimSpace(cfg.FilingsURL), "/")
	if base == "" {
		return nil
	}
	return &RESTFilings{http: newEventHTTP(base, cfg)}
}

func newEventHTTP(base string, cfg config.EventsConfig) *resty.Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().SetBaseURL(base).SetTimeout(timeout)
}

func (s *RESTEarnings) NextEarningsDate(ctx context.Context, symbol string) (EarningsEvent, error) {
	resp, err := s.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).Get("/next")
	if err != nil {
		return EarningsEvent{}, err
	}
	if resp.IsError() {
		return EarningsEvent{}, fmt.Errorf("earnings endpoint status=%d", resp.StatusCode())
	}
	body := resp.String()
	ev := EarningsEvent{Source: gjson.Get(body, "source").String()}
	if ev.Source == "" {
		ev.Source = "calendar"
	}
	if raw := gjson.Get(body, "event_date").String(); raw != "" {
		if d, perr := parseEventDate(raw); perr == nil {
			ev.EventDate = &d
		}
	}
	return ev, nil
}

func (s *RESTFilings) FilingRiskSnapshot(ctx context.Context, symbol string) (FilingRisk, error) {
	resp, err := s.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).Get("/risk")
	if err != nil {
		return FilingRisk{}, err
	}
	if resp.IsError() {
		return FilingRisk{}, fmt.Errorf("filings endpoint status=%d", resp.StatusCode())
	}
	body := resp.String()
	fr := FilingRisk{
		EventRisk:  gjson.Get(body, "event_risk").Float(),
		LatestForm: gjson.Get(body, "latest_form").String(),
		Source:     gjson.Get(body, "source").String(),
		Note:       gjson.Get(body, "note").String(),
	}
	if fr.Source == "" {
		fr.Source = "filings"
	}
	if raw := gjson.Get(body, "latest_filing_date").String(); raw != "" {
		if d, perr := parseEventDate(raw); perr == nil {
			fr.LatestFilingDate = &d
		}
	}
	return fr, nil
}

func parseEventDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if d, err := time.Parse(layout, raw); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
