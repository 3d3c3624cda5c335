package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunLoop runs cycles until the context is cancelled: one immediately, then
// one per configured interval. A cancellation mid-cycle lets targets
// already dispatched drain their schedule updates before returning.
func (e *Engine) RunLoop(ctx context.Context) error {
	e.log.Info("monitor loop started", zap.Duration("interval", e.opts.Interval))

	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			e.log.Error("cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			e.log.Info("monitor loop stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
