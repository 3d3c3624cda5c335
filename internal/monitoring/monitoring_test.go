package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricelens/pricelens/internal/store"
)

type statusStore struct {
	store.Store
	counts    *store.Counts
	countsErr error
	cycles    []store.CycleRun
}

func (s *statusStore) Counts(context.Context) (*store.Counts, error) {
	return s.counts, s.countsErr
}

func (s *statusStore) RecentCycles(context.Context, int) ([]store.CycleRun, error) {
	return s.cycles, nil
}

func TestCollect(t *testing.T) {
	st := &statusStore{
		counts: &store.Counts{Products: 12, Observations: 340, Targets: 5, EnabledTargets: 4, DueTargets: 2},
		cycles: []store.CycleRun{
			{ID: "a", Total: 10, Successful: 8, Failed: 2},
			{ID: "b", Total: 10, Successful: 10},
		},
	}

	snap, err := NewCollector(st).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(12), snap.Products)
	assert.Equal(t, int64(340), snap.Observations)
	assert.Equal(t, int64(2), snap.DueTargets)
	assert.Len(t, snap.RecentCycles, 2)
	assert.InDelta(t, 0.1, snap.FailureRate, 0.001, "2 failed of 20 dispatched")
	assert.WithinDuration(t, time.Now(), snap.CollectedAt, time.Minute)
}

func TestCollect_NoCycles(t *testing.T) {
	st := &statusStore{counts: &store.Counts{}}

	snap, err := NewCollector(st).Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.FailureRate)
}

func TestCollect_StoreError(t *testing.T) {
	st := &statusStore{countsErr: errors.New("down")}

	_, err := NewCollector(st).Collect(context.Background())
	assert.Error(t, err)
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker(
		Check{Name: "store", Probe: func(context.Context) error { return nil }},
		Check{Name: "browser_pool", Probe: func(context.Context) error { return errors.New("no live instances") }},
		Check{Name: "redis", Probe: nil},
	)

	results, healthy := h.Run(context.Background())
	require.Len(t, results, 2, "nil probes are skipped")
	assert.False(t, healthy)

	assert.Equal(t, "store", results[0].Name)
	assert.True(t, results[0].Healthy)
	assert.Equal(t, "browser_pool", results[1].Name)
	assert.False(t, results[1].Healthy)
	assert.Contains(t, results[1].Error, "no live instances")
}

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker(Check{Name: "store", Probe: func(context.Context) error { return nil }})
	results, healthy := h.Run(context.Background())
	assert.True(t, healthy)
	assert.Len(t, results, 1)
}
