// Package chart shapes observation series for plotting: named time ranges
// and downsampling that keeps the extremes visible.
package chart

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/model"
)

// Point is one plotted sample.
type Point struct {
	T     time.Time `json:"t"`
	Price float64   `json:"price"`
}

// Series is the chart payload for one product.
type Series struct {
	ProductID int64          `json:"product_id"`
	Range     string         `json:"range"`
	Currency  model.Currency `json:"currency,omitempty"`
	Points    []Point        `json:"points"`
	Min       float64        `json:"min"`
	Max       float64        `json:"max"`
}

// DefaultPointBudget bounds how many points a shaped series carries.
const DefaultPointBudget = 200

var ranges = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
	"all": 0,
}

// RangeCutoff resolves a named range to its cutoff instant. "all" yields the
// zero time.
func RangeCutoff(name string, now time.Time) (time.Time, error) {
	d, ok := ranges[name]
	if !ok {
		return time.Time{}, eris.Errorf("chart: unknown range %q", name)
	}
	if d == 0 {
		return time.Time{}, nil
	}
	return now.Add(-d), nil
}

// Shape builds a series from observations, downsampled to at most budget
// points. Observations must be in ascending capture order.
func Shape(productID int64, rangeName string, obs []model.Observation, budget int) Series {
	if budget <= 0 {
		budget = DefaultPointBudget
	}
	s := Series{ProductID: productID, Range: rangeName, Points: []Point{}}
	if len(obs) == 0 {
		return s
	}
	s.Currency = obs[0].Currency
	s.Min, s.Max = obs[0].Price, obs[0].Price
	for _, o := range obs {
		if o.Price < s.Min {
			s.Min = o.Price
		}
		if o.Price > s.Max {
			s.Max = o.Price
		}
	}
	s.Points = downsample(obs, budget)
	return s
}

// downsample buckets the series evenly and keeps each bucket's minimum and
// maximum, so spikes and dips survive the reduction. First and last samples
// are always retained.
func downsample(obs []model.Observation, budget int) []Point {
	if len(obs) <= budget {
		points := make([]Point, len(obs))
		for i, o := range obs {
			points[i] = Point{T: o.CapturedAt, Price: o.Price}
		}
		return points
	}

	// Two slots per bucket (min and max) plus the endpoints.
	buckets := budget / 2
	if buckets < 1 {
		buckets = 1
	}
	inner := obs[1 : len(obs)-1]
	per := float64(len(inner)) / float64(buckets)

	points := []Point{{T: obs[0].CapturedAt, Price: obs[0].Price}}
	for b := 0; b < buckets; b++ {
		lo := int(float64(b) * per)
		hi := int(float64(b+1) * per)
		if hi > len(inner) {
			hi = len(inner)
		}
		if lo >= hi {
			continue
		}
		minIdx, maxIdx := lo, lo
		for i := lo + 1; i < hi; i++ {
			if inner[i].Price < inner[minIdx].Price {
				minIdx = i
			}
			if inner[i].Price > inner[maxIdx].Price {
				maxIdx = i
			}
		}
		// Emit in time order.
		first, second := minIdx, maxIdx
		if first > second {
			first, second = second, first
		}
		points = append(points, Point{T: inner[first].CapturedAt, Price: inner[first].Price})
		if second != first {
			points = append(points, Point{T: inner[second].CapturedAt, Price: inner[second].Price})
		}
	}
	last := obs[len(obs)-1]
	points = append(points, Point{T: last.CapturedAt, Price: last.Price})
	return points
}

// Ranges lists the accepted range names.
func Ranges() []string {
	return []string{"24h", "7d", "30d", "90d", "1y", "all"}
}
