// Package scheduler runs the periodic gateway sweeps on fixed intervals.
package scheduler

import (
	"context"
	"time"

	"strike/internal/logger"
)

// IntervalScheduler invokes a task every Interval until the context is done.
// The call-site throttles (the gateway guards) own the real pacing; the
// scheduler only provides the heartbeat.
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
}

func NewInterval(name string, interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{Name: name, Interval: interval}
}

// Start blocks, running task on every tick. Task panics are not recovered;
// the task owns its error handling.
func (s *IntervalScheduler) Start(ctx context.Context, task func(ctx context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("scheduler %s: invalid interval=%s, not starting", s.Name, s.Interval)
		return
	}
	logger.Infof("scheduler %s: started interval=%s run_immediately=%v", s.Name, s.Interval, s.RunImmediately)

	if s.RunImmediately {
		task(ctx)
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler %s: stopped", s.Name)
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}
