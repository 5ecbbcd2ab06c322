package reviewer

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"strike/internal/decision"
	"strike/internal/logger"

	"github.com/tidwall/gjson"
)

const (
	cooldownMin     = 5 * time.Second
	cooldownMax     = 10 * time.Minute
	cooldownDefault = 30 * time.Second
)

type remoteRequest struct {
	ID        string                 `json:"id"`
	Action    decision.Action        `json:"action"`
	WeakFloor float64                `json:"weak_floor"`
	Feature   decision.FeatureVector `json:"feature"`
	Score     decision.ScoreCard     `json:"score"`
}

// callRemote issues one batched remote call and resolves every pending review
// in the batch. Remote failures resolve the whole batch via heuristic; errors
// are logged, never propagated to callers.
func (c *Client) callRemote(batch []*pendingReview) {
	reqs := make([]remoteRequest, 0, len(batch))
	for _, p := range batch {
		reqs = append(reqs, remoteRequest{
			ID:        p.id,
			Action:    p.action,
			WeakFloor: p.weakFloor,
			Feature:   p.feature,
			Score:     p.score,
		})
	}

	body := map[string]any{"requests": reqs}
	if c.cfg.Model != "" {
		body["model"] = c.cfg.Model
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout())
	defer cancel()
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post("/review/batch")
	if err != nil {
		logger.Warnf("reviewer: remote call failed, falling back to heuristic: %v", err)
		c.resolveHeuristic(batch, "remote unavailable")
		return
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		c.setCooldown(cooldownFromHeaders(resp.Header(), c.nowFn()))
		c.resolveHeuristic(batch, "rate limited")
		return
	}
	if resp.IsError() {
		logger.Warnf("reviewer: remote status=%d, falling back to heuristic", resp.StatusCode())
		c.resolveHeuristic(batch, "remote error")
		return
	}

	// A success response can still report an exhausted quota; that extends
	// the cooldown independently of errors.
	if quotaExhausted(resp.Header()) {
		c.setCooldown(cooldownFromHeaders(resp.Header(), c.nowFn()))
	}

	results := map[string]gjson.Result{}
	gjson.GetBytes(resp.Body(), "results").ForEach(func(_, r gjson.Result) bool {
		if id := r.Get("id").String(); id != "" {
			results[id] = r
		}
		return true
	})

	for _, p := range batch {
		r, ok := results[p.id]
		if !ok {
			j := heuristicJudgement(p.feature, p.score, p.weakFloor)
			j.Rationale = "missing from remote response: " + j.Rationale
			p.resolve(j)
			continue
		}
		j := decision.Judgement{
			Confirmed: r.Get("confirmed").Bool(),
			Rationale: r.Get("rationale").String(),
		}
		for _, flag := range r.Get("veto_flags").Array() {
			if f := strings.TrimSpace(flag.String()); f != "" {
				j.VetoFlags = append(j.VetoFlags, f)
			}
		}
		p.resolve(j)
	}
}

func (c *Client) resolveHeuristic(batch []*pendingReview, cause string) {
	for _, p := range batch {
		j := heuristicJudgement(p.feature, p.score, p.weakFloor)
		j.Rationale = cause + ": " + j.Rationale
		p.resolve(j)
	}
}

func quotaExhausted(h http.Header) bool {
	raw := strings.TrimSpace(h.Get("X-RateLimit-Remaining-Requests"))
	if raw == "" {
		return false
	}
	n, err := strconv.ParseFloat(raw, 64)
	return err == nil && n <= 0
}

// cooldownFromHeaders derives a cooldown window from response header hints:
// Retry-After as seconds or HTTP date, then a requests-reset header; the
// result is clamped to [cooldownMin, cooldownMax].
func cooldownFromHeaders(h http.Header, now time.Time) time.Duration {
	if ra := strings.TrimSpace(h.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return clampCooldown(time.Duration(secs) * time.Second)
		}
		if at, err := http.ParseTime(ra); err == nil {
			return clampCooldown(at.Sub(now))
		}
	}
	if reset := strings.TrimSpace(h.Get("X-RateLimit-Reset-Requests")); reset != "" {
		if d, err := time.ParseDuration(reset); err == nil {
			return clampCooldown(d)
		}
		if secs, err := strconv.ParseFloat(reset, 64); err == nil {
			return clampCooldown(time.Duration(secs * float64(time.Second)))
		}
	}
	return cooldownDefault
}

func clampCooldown(d time.Duration) time.Duration {
	if d < cooldownMin {
		return cooldownMin
	}
	if d > cooldownMax {
		return cooldownMax
	}
	return d
}
