// Package notify delivers price-change alerts to outbound channels:
// webhook, telegram, email. The dispatcher sits behind the events.Publisher
// interface, filters for significance, and treats delivery failure as a
// logging matter, never an engine failure.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/model"
)

// Channel is one outbound delivery mechanism.
type Channel interface {
	Send(ctx context.Context, change model.PriceChange) error
	Name() string
}

// Dispatcher fans significant changes out to its channels.
type Dispatcher struct {
	channels    []Channel
	minSeverity model.ChangeSeverity
	log         *zap.Logger
}

// NewDispatcher builds a dispatcher delivering changes at or above
// minSeverity. Nil channels are skipped.
func NewDispatcher(minSeverity model.ChangeSeverity, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		minSeverity: minSeverity,
		log:         zap.L().With(zap.String("component", "notify")),
	}
	for _, c := range channels {
		if c != nil {
			d.channels = append(d.channels, c)
		}
	}
	return d
}

// Publish delivers the change to every channel when it qualifies: it must
// be significant and meet the severity floor. First observations are never
// delivered. Always returns nil; channel errors are logged.
func (d *Dispatcher) Publish(ctx context.Context, change model.PriceChange) error {
	if change.FirstObservation || !change.Significant || !change.Severity.AtLeast(d.minSeverity) {
		return nil
	}
	for _, c := range d.channels {
		if err := c.Send(ctx, change); err != nil {
			d.log.Error("notification delivery failed",
				zap.String("channel", c.Name()),
				zap.Int64("product_id", change.ProductID),
				zap.Error(err),
			)
			continue
		}
		d.log.Info("notification sent",
			zap.String("channel", c.Name()),
			zap.Int64("product_id", change.ProductID),
			zap.String("severity", string(change.Severity)),
		)
	}
	return nil
}
