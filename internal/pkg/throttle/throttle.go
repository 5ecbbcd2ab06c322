// Package throttle provides a guarded operation that is both rate limited
// (minimum wall-clock interval between runs) and single-flighted (concurrent
// callers join the in-flight run instead of starting another).
package throttle

import (
	"context"
	"sync"
	"time"
)

type call struct {
	done chan struct{}
	err  error
}

// Guard wraps one logical operation. The zero value is not usable; build with New.
type Guard struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
	cur         *call
	nowFn       func() time.Time
}

// Status is a read-only snapshot of a Guard for diagnostics.
type Status struct {
	InFlight     bool      `json:"in_flight"`
	LastRun      time.Time `json:"last_run"`
	NextEligible time.Time `json:"next_eligible"`
}

func New(minInterval time.Duration) *Guard {
	return &Guard{minInterval: minInterval, nowFn: time.Now}
}

// Run executes fn unless a run completed less than minInterval ago, in which
// case it returns (false, nil). If a run is already in flight the caller waits
// for that run and shares its result, also reporting ran=false.
func (g *Guard) Run(ctx context.Context, fn func(context.Context) error) (ran bool, err error) {
	g.mu.Lock()
	if c := g.cur; c != nil {
		g.mu.Unlock()
		select {
		case <-c.done:
			return false, c.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	now := g.nowFn()
	if g.minInterval > 0 && !g.last.IsZero() && now.Sub(g.last) < g.minInterval {
		g.mu.Unlock()
		return false, nil
	}
	c := &call{done: make(chan struct{})}
	g.cur = c
	g.mu.Unlock()

	c.err = fn(ctx)

	g.mu.Lock()
	g.last = g.nowFn()
	g.cur = nil
	g.mu.Unlock()
	close(c.done)
	return true, c.err
}

// Reset clears the last-completion timestamp so the next Run is eligible
// immediately. An in-flight run is unaffected.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.last = time.Time{}
	g.mu.Unlock()
}

func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Status{InFlight: g.cur != nil, LastRun: g.last}
	if !g.last.IsZero() {
		st.NextEligible = g.last.Add(g.minInterval)
	}
	return st
}

// SetNowFunc overrides the clock, for tests.
func (g *Guard) SetNowFunc(fn func() time.Time) {
	g.mu.Lock()
	g.nowFn = fn
	g.mu.Unlock()
}
