// Package reviewer batches individual "should this trade fire" questions into
// rate-limited remote calls against the judgment service, degrading to a
// deterministic heuristic whenever the remote is unconfigured, rate limited,
// or failing.
package reviewer

import (
	"context"
	"strings"
	"sync"
	"time"

	"strike/internal/config"
	"strike/internal/decision"
	"strike/internal/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// pendingReview is one queued question. It is resolved exactly once, by
// exactly one of: remote result, heuristic fallback, or remote-failure
// fallback.
type pendingReview struct {
	id        string
	feature   decision.FeatureVector
	score     decision.ScoreCard
	action    decision.Action
	weakFloor float64

	once sync.Once
	ch   chan decision.Judgement
}

func (p *pendingReview) resolve(j decision.Judgement) {
	p.once.Do(func() { p.ch <- j })
}

type Client struct {
	cfg           config.ReviewerConfig
	http          *resty.Client
	heuristicOnly bool

	mu            sync.Mutex
	queue         []*pendingReview
	inFlight      int
	cooldownUntil time.Time
	flushTimer    *time.Timer

	// pacer enforces the minimum spacing between remote attempts; a denied
	// reservation defers the flush instead of blocking it.
	pacer *rate.Limiter
	nowFn func() time.Time
}

// NewClient builds the batching client. Without an API key, or outside
// production, every review resolves via the heuristic and the queue is never
// used.
func NewClient(cfg config.ReviewerConfig, production bool) *Client {
	c := &Client{
		cfg:           cfg,
		heuristicOnly: strings.TrimSpace(cfg.APIKey) == "" || !production,
		nowFn:         time.Now,
	}
	minInterval := cfg.MinInterval()
	if minInterval <= 0 {
		minInterval = time.Second
	}
	c.pacer = rate.NewLimiter(rate.Every(minInterval), 1)
	if !c.heuristicOnly {
		c.http = resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout()).
			SetAuthToken(cfg.APIKey).
			SetHeader("Content-Type", "application/json")
	}
	return c
}

// Review implements decision.Reviewer. NO_TRADE short-circuits without
// queuing; everything else blocks until its pending review is resolved.
func (c *Client) Review(ctx context.Context, feature decision.FeatureVector, score decision.ScoreCard, action decision.Action, weakFloor float64) decision.Judgement {
	if action == decision.ActionNoTrade {
		return decision.Judgement{Confirmed: true, Rationale: "no trade proposed"}
	}
	if c.heuristicOnly {
		return heuristicJudgement(feature, score, weakFloor)
	}

	p := &pendingReview{
		id:        uuid.NewString(),
		feature:   feature,
		score:     score,
		action:    action,
		weakFloor: weakFloor,
		ch:        make(chan decision.Judgement, 1),
	}

	c.mu.Lock()
	c.queue = append(c.queue, p)
	full := len(c.queue) >= c.cfg.BatchSize
	if full {
		c.stopTimerLocked()
	} else {
		c.armTimerLocked(c.cfg.BatchWindow())
	}
	c.mu.Unlock()

	if full {
		go c.flush()
	}
	return <-p.ch
}

// armTimerLocked schedules a flush after d unless one is already scheduled.
func (c *Client) armTimerLocked(d time.Duration) {
	if c.flushTimer != nil {
		return
	}
	c.flushTimer = time.AfterFunc(d, c.flush)
}

func (c *Client) stopTimerLocked() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer = nil
	}
}

// flush drains the queue into one remote batch. It defers itself (keeping the
// queued batch intact, never re-splitting it) when the concurrency ceiling is
// reached or the inter-call spacing has not elapsed, and resolves entirely via
// heuristic while a rate-limit cooldown is active.
func (c *Client) flush() {
	c.mu.Lock()
	c.flushTimer = nil
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	now := c.nowFn()
	if now.Before(c.cooldownUntil) {
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()
		for _, p := range batch {
			j := heuristicJudgement(p.feature, p.score, p.weakFloor)
			j.Rationale = "reviewer cooling down: " + j.Rationale
			p.resolve(j)
		}
		return
	}
	if c.inFlight >= c.cfg.MaxConcurrent || !c.pacer.Allow() {
		c.armTimerLocked(c.cfg.BatchWindow())
		c.mu.Unlock()
		return
	}
	batch := c.queue
	c.queue = nil
	c.inFlight++
	c.mu.Unlock()

	c.callRemote(batch)

	c.mu.Lock()
	c.inFlight--
	if len(c.queue) > 0 {
		c.armTimerLocked(c.cfg.BatchWindow())
	}
	c.mu.Unlock()
}

func (c *Client) setCooldown(d time.Duration) {
	until := c.nowFn().Add(d)
	c.mu.Lock()
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
	c.mu.Unlock()
	logger.Warnf("reviewer: cooldown active for %s", d)
}
