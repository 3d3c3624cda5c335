package chart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricelens/pricelens/internal/model"
)

func obsSeries(n int, price func(i int) float64) []model.Observation {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Observation, n)
	for i := range out {
		out[i] = model.Observation{
			ID:         int64(i + 1),
			ProductID:  1,
			Price:      price(i),
			Currency:   model.CurrencyUSD,
			CapturedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestRangeCutoff(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	cutoff, err := RangeCutoff("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), cutoff)

	cutoff, err = RangeCutoff("all", now)
	require.NoError(t, err)
	assert.True(t, cutoff.IsZero())

	_, err = RangeCutoff("14d", now)
	assert.Error(t, err)
}

func TestShape_SmallSeriesIsPassedThrough(t *testing.T) {
	obs := obsSeries(5, func(i int) float64 { return 10 + float64(i) })

	s := Shape(1, "7d", obs, 200)
	assert.Len(t, s.Points, 5)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 14.0, s.Max)
	assert.Equal(t, model.CurrencyUSD, s.Currency)
	assert.Equal(t, "7d", s.Range)
}

func TestShape_EmptySeries(t *testing.T) {
	s := Shape(1, "all", nil, 200)
	assert.NotNil(t, s.Points)
	assert.Empty(t, s.Points)
	assert.Zero(t, s.Min)
}

func TestDownsample_RespectsBudgetAndKeepsExtremes(t *testing.T) {
	// Flat series with one spike and one dip buried mid-series.
	obs := obsSeries(1000, func(i int) float64 {
		switch i {
		case 400:
			return 99.0
		case 600:
			return 1.0
		default:
			return 50.0
		}
	})

	s := Shape(1, "all", obs, 100)
	assert.LessOrEqual(t, len(s.Points), 102, "budget plus retained endpoints")
	assert.Greater(t, len(s.Points), 2)

	var sawSpike, sawDip bool
	for _, p := range s.Points {
		if p.Price == 99.0 {
			sawSpike = true
		}
		if p.Price == 1.0 {
			sawDip = true
		}
	}
	assert.True(t, sawSpike, "bucket maximum survives downsampling")
	assert.True(t, sawDip, "bucket minimum survives downsampling")

	assert.Equal(t, obs[0].CapturedAt, s.Points[0].T)
	assert.Equal(t, obs[len(obs)-1].CapturedAt, s.Points[len(s.Points)-1].T)

	for i := 1; i < len(s.Points); i++ {
		assert.False(t, s.Points[i].T.Before(s.Points[i-1].T), "points stay in time order")
	}
}

func TestShape_MinMaxOverWholeSeries(t *testing.T) {
	obs := obsSeries(300, func(i int) float64 { return float64(100 + i%7) })
	s := Shape(1, "30d", obs, 50)
	assert.Equal(t, 100.0, s.Min)
	assert.Equal(t, 106.0, s.Max)
}
