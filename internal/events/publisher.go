// Package events delivers price-change events to external consumers. The
// engine only knows the Publisher interface; wiring decides whether events
// go to the log, a kafka topic, notification channels, or all of them.
package events

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/model"
)

// Publisher receives every price change the engine detects, including
// first observations.
type Publisher interface {
	Publish(ctx context.Context, change model.PriceChange) error
}

// LogPublisher writes changes to the structured log. Always wired; it is
// the audit trail when no other sink is configured.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher builds the log sink.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: zap.L().With(zap.String("component", "events"))}
}

// Publish logs the change. Significant changes log at info, the rest at
// debug.
func (p *LogPublisher) Publish(_ context.Context, change model.PriceChange) error {
	fields := []zap.Field{
		zap.Int64("product_id", change.ProductID),
		zap.String("url", change.URL),
		zap.String("site", change.Site),
		zap.Float64("new_price", change.NewPrice),
		zap.String("currency", string(change.Currency)),
	}
	if change.FirstObservation {
		p.log.Info("first observation", fields...)
		return nil
	}
	fields = append(fields,
		zap.Float64("old_price", change.OldPrice),
		zap.Float64("absolute_change", change.Absolute),
		zap.Float64("percent_change", change.Percent),
		zap.String("direction", string(change.Direction)),
		zap.String("severity", string(change.Severity)),
	)
	if change.Significant {
		p.log.Info("significant price change", fields...)
	} else {
		p.log.Debug("price change", fields...)
	}
	return nil
}

// Fanout publishes to every sink, collecting errors instead of stopping at
// the first one.
type Fanout struct {
	sinks []Publisher
}

// NewFanout combines publishers. Nil sinks are skipped.
func NewFanout(sinks ...Publisher) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Publish delivers to all sinks and returns the errors joined.
func (f *Fanout) Publish(ctx context.Context, change model.PriceChange) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
