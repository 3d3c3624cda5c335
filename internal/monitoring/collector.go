// Package monitoring assembles status snapshots and component health checks
// for the status command and the API's status endpoint.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/store"
)

// recentCycleWindow is how many cycle runs feed the failure rate.
const recentCycleWindow = 20

// MetricsSnapshot is a point-in-time view of the system's work.
type MetricsSnapshot struct {
	Products       int64            `json:"products"`
	Observations   int64            `json:"observations"`
	Targets        int64            `json:"targets"`
	EnabledTargets int64            `json:"enabled_targets"`
	DueTargets     int64            `json:"due_targets"`
	RecentCycles   []store.CycleRun `json:"recent_cycles"`
	FailureRate    float64          `json:"failure_rate"`
	CollectedAt    time.Time        `json:"collected_at"`
}

// Collector reads metrics out of the store.
type Collector struct {
	store store.Store
}

// NewCollector builds a collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers row counts and the recent cycle outcomes. The failure
// rate is failed over dispatched across the recent cycle window.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	counts, err := c.store.Counts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect counts")
	}
	cycles, err := c.store.RecentCycles(ctx, recentCycleWindow)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect cycles")
	}

	var dispatched, failed int
	for _, run := range cycles {
		dispatched += run.Successful + run.Failed
		failed += run.Failed
	}
	snap := &MetricsSnapshot{
		Products:       counts.Products,
		Observations:   counts.Observations,
		Targets:        counts.Targets,
		EnabledTargets: counts.EnabledTargets,
		DueTargets:     counts.DueTargets,
		RecentCycles:   cycles,
		CollectedAt:    time.Now().UTC(),
	}
	if dispatched > 0 {
		snap.FailureRate = float64(failed) / float64(dispatched)
	}
	return snap, nil
}
