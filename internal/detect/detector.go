// Package detect compares a freshly committed observation against the
// previous one and classifies the price movement.
package detect

import (
	"math"

	"github.com/pricelens/pricelens/internal/model"
)

// Thresholds controls when a movement counts as significant and how its
// severity is ranked. Percent values are whole percentages, not fractions.
type Thresholds struct {
	// MinAbsolute and MinPercent must both be met for a change to be
	// significant.
	MinAbsolute float64
	MinPercent  float64
	// DropPercent and RisePercent are the direction-specific alert
	// thresholds. At 2x the threshold the severity becomes high.
	DropPercent float64
	RisePercent float64
}

// DefaultThresholds matches the stock alerting policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinAbsolute: 1.00,
		MinPercent:  5,
		DropPercent: 10,
		RisePercent: 20,
	}
}

// Detector turns observation pairs into classified price changes.
type Detector struct {
	thresholds Thresholds
}

// New builds a detector. Zero threshold fields fall back to the defaults.
func New(t Thresholds) *Detector {
	def := DefaultThresholds()
	if t.MinAbsolute <= 0 {
		t.MinAbsolute = def.MinAbsolute
	}
	if t.MinPercent <= 0 {
		t.MinPercent = def.MinPercent
	}
	if t.DropPercent <= 0 {
		t.DropPercent = def.DropPercent
	}
	if t.RisePercent <= 0 {
		t.RisePercent = def.RisePercent
	}
	return &Detector{thresholds: t}
}

// Compare classifies the movement from prev to the snapshot's price. A nil
// prev means this is the product's first observation; such changes carry
// the new price only and are never significant.
func (d *Detector) Compare(productID int64, prev *model.Observation, snap *model.Snapshot) model.PriceChange {
	change := model.PriceChange{
		ProductID:  productID,
		URL:        snap.URL,
		Site:       snap.Site,
		Title:      snap.Title,
		NewPrice:   snap.Price,
		Currency:   snap.Currency,
		Direction:  model.ChangeDirectionNone,
		Severity:   model.SeverityNone,
		ObservedAt: snap.CapturedAt,
	}
	if prev == nil {
		change.FirstObservation = true
		return change
	}

	change.OldPrice = prev.Price
	change.Absolute = model.RoundPrice(snap.Price - prev.Price)
	change.Percent = (snap.Price - prev.Price) / prev.Price * 100

	switch {
	case change.Absolute > 0:
		change.Direction = model.ChangeDirectionUp
	case change.Absolute < 0:
		change.Direction = model.ChangeDirectionDown
	default:
		return change
	}

	change.Significant = math.Abs(change.Absolute) >= d.thresholds.MinAbsolute &&
		math.Abs(change.Percent) >= d.thresholds.MinPercent

	alertAt := d.thresholds.RisePercent
	if change.Direction == model.ChangeDirectionDown {
		alertAt = d.thresholds.DropPercent
	}
	switch pct := math.Abs(change.Percent); {
	case pct >= 2*alertAt:
		change.Severity = model.SeverityHigh
	case pct >= alertAt:
		change.Severity = model.SeverityMedium
	}
	return change
}
