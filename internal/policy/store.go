package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"strike/internal/logger"
)

// Persistence is the slice of the ledger the policy store needs.
type Persistence interface {
	SavePolicySnapshot(ctx context.Context, policyJSON []byte) error
	LoadPolicySnapshot(ctx context.Context) ([]byte, error)
}

// Store holds the current policy. Reads always return a snapshot copy;
// writes merge-and-reclamp against the current value under the lock.
type Store struct {
	mu      sync.RWMutex
	cur     Policy
	persist Persistence
}

// NewStore seeds from hard defaults, overlaid by at most one persisted
// snapshot. A broken snapshot is logged and ignored.
func NewStore(ctx context.Context, persist Persistence) *Store {
	s := &Store{cur: Defaults(), persist: persist}
	if persist == nil {
		return s
	}
	raw, err := persist.LoadPolicySnapshot(ctx)
	if err != nil {
		logger.Warnf("policy: loading snapshot failed, using defaults: %v", err)
		return s
	}
	if len(raw) == 0 {
		return s
	}
	var snap Policy
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Warnf("policy: snapshot unreadable, using defaults: %v", err)
		return s
	}
	// A hand-edited or legacy row must not carry out-of-range values into
	// the process, so the snapshot goes through the same merge as a patch.
	s.cur = merge(Defaults(), fullPatch(snap))
	return s
}

func (s *Store) Get() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyOf(s.cur)
}

// Update merges the patch into the current policy, persists, and returns the
// new value. The merged policy always takes effect in memory; a persistence
// failure is reported through the returned error and the caller must treat
// the value as authoritative only once err is nil.
func (s *Store) Update(ctx context.Context, patch Patch) (Policy, error) {
	s.mu.Lock()
	next := merge(s.cur, patch)
	s.cur = next
	out := copyOf(next)
	s.mu.Unlock()
	return out, s.save(ctx, out)
}

// Reset restores defaults and persists them.
func (s *Store) Reset(ctx context.Context) (Policy, error) {
	s.mu.Lock()
	s.cur = Defaults()
	out := copyOf(s.cur)
	s.mu.Unlock()
	return out, s.save(ctx, out)
}

func (s *Store) save(ctx context.Context, p Policy) error {
	if s.persist == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := s.persist.SavePolicySnapshot(ctx, raw); err != nil {
		return fmt.Errorf("persist policy: %w", err)
	}
	return nil
}
