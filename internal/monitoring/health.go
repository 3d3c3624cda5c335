package monitoring

import (
	"context"
	"time"
)

// ComponentHealth is the check result for one component.
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Check probes one component. Implementations should respect the context
// deadline.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthChecker runs a fixed set of component probes.
type HealthChecker struct {
	checks []Check
}

// NewHealthChecker builds a checker over the given probes. Probes with a
// nil func are skipped, so optional components can be wired unconditionally.
func NewHealthChecker(checks ...Check) *HealthChecker {
	h := &HealthChecker{}
	for _, c := range checks {
		if c.Probe != nil {
			h.checks = append(h.checks, c)
		}
	}
	return h
}

// Run probes every component with a shared per-call timeout and reports all
// results plus overall health.
func (h *HealthChecker) Run(ctx context.Context) ([]ComponentHealth, bool) {
	results := make([]ComponentHealth, 0, len(h.checks))
	allHealthy := true
	for _, c := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.Probe(cctx)
		cancel()

		res := ComponentHealth{Name: c.Name, Healthy: err == nil}
		if err != nil {
			res.Error = err.Error()
			allHealthy = false
		}
		results = append(results, res)
	}
	return results, allHealthy
}
