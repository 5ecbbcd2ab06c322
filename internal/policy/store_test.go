package policy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

type memPersist struct {
	raw     []byte
	saveErr error
}

func (m *memPersist) SavePolicySnapshot(_ context.Context, policyJSON []byte) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.raw = policyJSON
	return nil
}

func (m *memPersist) LoadPolicySnapshot(_ context.Context) ([]byte, error) {
	return m.raw, nil
}

func TestStore_ClampOutOfRange(t *testing.T) {
	s := NewStore(context.Background(), nil)

	got, err := s.Update(context.Background(), Patch{
		ScanTopN:           f(999),
		MinCompositeScore:  f(-50),
		MinDirectionalProb: f(2),
		TakeProfitPct:      f(100),
		StopLossPct:        f(0),
	})
	require.NoError(t, err)

	assert.Equal(t, 50, got.ScanTopN)
	assert.Equal(t, 0.0, got.MinCompositeScore)
	assert.Equal(t, 0.95, got.MinDirectionalProb)
	assert.Equal(t, 3.0, got.TakeProfitPct)
	assert.Equal(t, 0.05, got.StopLossPct)
}

func TestStore_DTEInvariant(t *testing.T) {
	s := NewStore(context.Background(), nil)

	got, err := s.Update(context.Background(), Patch{DTEMin: f(50), DTEMax: f(10)})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.DTEMax, got.DTEMin)

	// Pushing only dte_min above the current max must not break the invariant.
	got, err = s.Update(context.Background(), Patch{DTEMin: f(60)})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.DTEMax, got.DTEMin)
}

func TestStore_IntFieldsRounded(t *testing.T) {
	s := NewStore(context.Background(), nil)

	got, err := s.Update(context.Background(), Patch{MaxHoldDays: f(7.6), ScanTopN: f(3.2)})
	require.NoError(t, err)
	assert.Equal(t, 8, got.MaxHoldDays)
	assert.Equal(t, 3, got.ScanTopN)
}

func TestStore_EmptyUniverseIgnored(t *testing.T) {
	s := NewStore(context.Background(), nil)
	before := s.Get().UniverseSymbols

	got, err := s.Update(context.Background(), Patch{UniverseSymbols: []string{}})
	require.NoError(t, err)
	assert.Equal(t, before, got.UniverseSymbols)

	got, err = s.Update(context.Background(), Patch{UniverseSymbols: []string{"IWM", "QQQ"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"IWM", "QQQ"}, got.UniverseSymbols)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore(context.Background(), nil)

	a := s.Get()
	a.UniverseSymbols[0] = "HACKED"
	a.TakeProfitPct = 99

	b := s.Get()
	assert.NotEqual(t, "HACKED", b.UniverseSymbols[0])
	assert.NotEqual(t, 99.0, b.TakeProfitPct)
}

func TestStore_PersistAndReload(t *testing.T) {
	p := &memPersist{}
	s := NewStore(context.Background(), p)

	_, err := s.Update(context.Background(), Patch{MaxHoldDays: f(5)})
	require.NoError(t, err)
	require.NotEmpty(t, p.raw)

	var snap Policy
	require.NoError(t, json.Unmarshal(p.raw, &snap))
	assert.Equal(t, 5, snap.MaxHoldDays)

	reloaded := NewStore(context.Background(), p)
	assert.Equal(t, 5, reloaded.Get().MaxHoldDays)
}

func TestStore_SnapshotReclamped(t *testing.T) {
	// A hand-edited row can hold values a live Update would never produce;
	// loading must clamp them like any other write.
	snap := Defaults()
	snap.TakeProfitPct = 40
	snap.StopLossPct = 0.001
	snap.DTEMin = 50
	snap.DTEMax = 10
	snap.ScreenerCode = ""
	snap.UniverseSymbols = nil
	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	s := NewStore(context.Background(), &memPersist{raw: raw})
	got := s.Get()
	assert.Equal(t, 3.0, got.TakeProfitPct)
	assert.Equal(t, 0.05, got.StopLossPct)
	assert.GreaterOrEqual(t, got.DTEMax, got.DTEMin)
	assert.Equal(t, Defaults().ScreenerCode, got.ScreenerCode)
	assert.Equal(t, Defaults().UniverseSymbols, got.UniverseSymbols)
}

func TestStore_PersistFailureKeepsMergedValue(t *testing.T) {
	p := &memPersist{saveErr: errors.New("disk full")}
	s := NewStore(context.Background(), p)

	got, err := s.Update(context.Background(), Patch{MaxHoldDays: f(3)})
	assert.Error(t, err)
	assert.Equal(t, 3, got.MaxHoldDays)
	assert.Equal(t, 3, s.Get().MaxHoldDays, "merge succeeds in memory even when persistence fails")
}

func TestStore_GuidelinesTrackPolicy(t *testing.T) {
	s := NewStore(context.Background(), nil)

	g := s.Guidelines()
	assert.Contains(t, g.Entry[1], "composite score >= 62")
	assert.Contains(t, g.Risk[0], "3.0% of equity")
	assert.Contains(t, g.Exit[0], "+30%")
	assert.Equal(t, Defaults().UniverseSymbols, g.Universe)

	_, err := s.Update(context.Background(), Patch{TakeProfitPct: f(0.5), MaxHoldDays: f(4)})
	require.NoError(t, err)

	g = s.Guidelines()
	assert.Contains(t, g.Exit[0], "+50%")
	assert.Contains(t, g.Exit[1], "4 days")
	assert.Contains(t, g.String(), "Universe: AAPL")
}

func TestStore_Reset(t *testing.T) {
	s := NewStore(context.Background(), nil)
	_, err := s.Update(context.Background(), Patch{MaxHoldDays: f(3)})
	require.NoError(t, err)

	got, err := s.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Defaults().MaxHoldDays, got.MaxHoldDays)
}
