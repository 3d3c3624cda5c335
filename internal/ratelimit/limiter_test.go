package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricelens/pricelens/internal/sites"
)

func testRegistry(t *testing.T, minMs, maxMs int) *sites.Registry {
	t.Helper()
	reg, err := sites.NewRegistry([]sites.Site{
		{
			Name:           "FastSite",
			DomainPatterns: []string{"fast.example"},
			RateLimit:      sites.RateLimit{MinMs: minMs, MaxMs: maxMs},
		},
		{
			Name:           "OtherSite",
			DomainPatterns: []string{"other.example"},
			RateLimit:      sites.RateLimit{MinMs: minMs, MaxMs: maxMs},
		},
		{
			Name:      "generic",
			RateLimit: sites.RateLimit{MinMs: minMs, MaxMs: maxMs},
		},
	})
	require.NoError(t, err)
	return reg
}

// Spacing law: two waits for the same site resolve at least min_delay apart.
func TestWait_EnforcesMinimumSpacing(t *testing.T) {
	l := New(testRegistry(t, 30, 60), Config{})
	ctx := context.Background()

	_, err := l.Wait(ctx, "https://fast.example/p/1")
	require.NoError(t, err)
	t1 := time.Now()

	_, err = l.Wait(ctx, "https://fast.example/p/2")
	require.NoError(t, err)
	t2 := time.Now()

	// Allow a hair of measurement slack around the 30ms floor.
	assert.GreaterOrEqual(t, t2.Sub(t1), 25*time.Millisecond)
}

func TestWait_FirstCallIsImmediate(t *testing.T) {
	l := New(testRegistry(t, 500, 1000), Config{})

	delay, err := l.Wait(context.Background(), "https://fast.example/p/1")
	require.NoError(t, err)
	assert.Zero(t, delay)
}

func TestWait_SitesDoNotSerializeWithEachOther(t *testing.T) {
	l := New(testRegistry(t, 500, 1000), Config{})
	ctx := context.Background()

	_, err := l.Wait(ctx, "https://fast.example/p/1")
	require.NoError(t, err)

	// A different site still has an empty budget.
	start := time.Now()
	delay, err := l.Wait(ctx, "https://other.example/p/1")
	require.NoError(t, err)
	assert.Zero(t, delay)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWait_UnknownHostUsesGeneric(t *testing.T) {
	l := New(testRegistry(t, 10, 20), Config{})
	ctx := context.Background()

	_, err := l.Wait(ctx, "https://unknown.example/x")
	require.NoError(t, err)
	_, err = l.Wait(ctx, "https://also-unknown.example/y")
	require.NoError(t, err)

	// Both matched the generic entry, so the second call reserved behind
	// the first.
	delay, err := l.Wait(ctx, "https://unknown.example/z")
	require.NoError(t, err)
	assert.Greater(t, delay, time.Duration(0))
}

func TestWait_CancelledContext(t *testing.T) {
	l := New(testRegistry(t, 5000, 5000), Config{})
	ctx := context.Background()

	_, err := l.Wait(ctx, "https://fast.example/p/1")
	require.NoError(t, err)

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = l.Wait(cancelled, "https://fast.example/p/2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second, "cancellation must abort the wait quickly")
}

func TestReportError_EscalatesWithinWindow(t *testing.T) {
	l := New(testRegistry(t, 10, 20), Config{FailureThreshold: 3})
	url := "https://fast.example/p/1"

	for i := 0; i < 3; i++ {
		l.ReportError(url, errors.New("timeout"))
	}
	assert.Equal(t, 1, l.Level(url))

	// Escalation is per site.
	assert.Zero(t, l.Level("https://other.example/p/1"))

	for i := 0; i < 3; i++ {
		l.ReportError(url, errors.New("timeout"))
	}
	assert.Equal(t, 2, l.Level(url))
}

func TestReportError_CapsAtMaxLevel(t *testing.T) {
	l := New(testRegistry(t, 10, 20), Config{FailureThreshold: 1, MaxLevel: 2})
	url := "https://fast.example/p/1"

	for i := 0; i < 10; i++ {
		l.ReportError(url, errors.New("timeout"))
	}
	assert.Equal(t, 2, l.Level(url))
}

func TestReportSuccess_TwoInARowReset(t *testing.T) {
	l := New(testRegistry(t, 10, 20), Config{FailureThreshold: 1})
	url := "https://fast.example/p/1"

	l.ReportError(url, errors.New("timeout"))
	require.Equal(t, 1, l.Level(url))

	l.ReportSuccess(url)
	assert.Equal(t, 1, l.Level(url), "a single success does not reset")

	l.ReportSuccess(url)
	assert.Zero(t, l.Level(url), "two consecutive successes reset escalation")
}

func TestReportSuccess_StreakBrokenByError(t *testing.T) {
	l := New(testRegistry(t, 10, 20), Config{FailureThreshold: 2})
	url := "https://fast.example/p/1"

	l.ReportError(url, errors.New("timeout"))
	l.ReportSuccess(url)
	l.ReportError(url, errors.New("timeout"))
	l.ReportSuccess(url)
	l.ReportError(url, errors.New("timeout"))

	// The error between successes kept the streak at one, never two.
	assert.Equal(t, 1, l.Level(url))
}

func TestEffectiveWindow_DoublesPerLevel(t *testing.T) {
	st := &siteState{level: 2}
	minD, maxD := st.effectiveWindow(sites.RateLimit{MinMs: 100, MaxMs: 200}, 3)
	assert.Equal(t, 400*time.Millisecond, minD)
	assert.Equal(t, 800*time.Millisecond, maxD)
}
