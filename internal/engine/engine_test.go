package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricelens/pricelens/internal/detect"
	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/ratelimit"
	"github.com/pricelens/pricelens/internal/resilience"
	"github.com/pricelens/pricelens/internal/scrape"
	"github.com/pricelens/pricelens/internal/sites"
	"github.com/pricelens/pricelens/internal/store"
)

type completeCall struct {
	targetID int64
	success  bool
}

// fakeStore scripts the five store methods the engine touches. Everything
// else panics via the embedded nil interface.
type fakeStore struct {
	store.Store

	mu        sync.Mutex
	targets   []model.TrackedTarget
	previous  map[int64]*model.Observation
	seen      map[string]float64 // url -> last upserted price, drives dedup
	nextID    int64
	upserts   []model.Snapshot
	inserted  int
	completes []completeCall
	cycles    []store.CycleRun
}

func newFakeStore(targets ...model.TrackedTarget) *fakeStore {
	return &fakeStore{
		targets:  targets,
		previous: map[int64]*model.Observation{},
		seen:     map[string]float64{},
	}
}

func (f *fakeStore) DueTargets(_ context.Context, limit int) ([]model.TrackedTarget, error) {
	if limit < len(f.targets) {
		return f.targets[:limit], nil
	}
	return f.targets, nil
}

func (f *fakeStore) UpsertObservation(_ context.Context, snap model.Snapshot) (*store.UpsertResult, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, snap)

	last, dedup := f.seen[snap.URL]
	dedup = dedup && last == snap.Price
	f.seen[snap.URL] = snap.Price

	f.nextID++
	res := &store.UpsertResult{ProductID: f.nextID, Inserted: !dedup}
	if res.Inserted {
		f.inserted++
		res.ObservationID = f.nextID
	}
	return res, nil
}

func (f *fakeStore) PreviousObservation(_ context.Context, productID int64) (*model.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previous[productID], nil
}

func (f *fakeStore) Complete(_ context.Context, targetID int64, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, completeCall{targetID: targetID, success: success})
	return nil
}

func (f *fakeStore) RecordCycle(_ context.Context, run store.CycleRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, run)
	return nil
}

// scriptedScraper returns canned results per call, cycling on the last one.
type scriptedScraper struct {
	mu      sync.Mutex
	results []func(url string) (*model.Snapshot, error)
	calls   int
}

func (s *scriptedScraper) Fetch(_ context.Context, url string) (*model.Snapshot, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	fn := s.results[idx]
	s.mu.Unlock()
	return fn(url)
}

func (s *scriptedScraper) Name() string { return "scripted" }

func okSnapshot(price float64) func(url string) (*model.Snapshot, error) {
	return func(url string) (*model.Snapshot, error) {
		return &model.Snapshot{
			URL:        url,
			Site:       "generic",
			Title:      "A",
			Price:      price,
			Currency:   model.CurrencyUSD,
			CapturedAt: time.Now().UTC(),
		}, nil
	}
}

func fetchFailure() func(url string) (*model.Snapshot, error) {
	return func(url string) (*model.Snapshot, error) {
		return nil, &scrape.FetchError{URL: url, Err: context.DeadlineExceeded}
	}
}

type capturePublisher struct {
	mu      sync.Mutex
	changes []model.PriceChange
	err     error
}

func (c *capturePublisher) Publish(_ context.Context, change model.PriceChange) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, change)
	return c.err
}

func fastLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	reg, err := sites.NewRegistry([]sites.Site{
		{Name: sites.GenericName, RateLimit: sites.RateLimit{MinMs: 0, MaxMs: 0}},
	})
	require.NoError(t, err)
	return ratelimit.New(reg, ratelimit.Config{})
}

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func target(id int64, url string) model.TrackedTarget {
	return model.TrackedTarget{
		ID:                   id,
		URL:                  url,
		Site:                 "generic",
		TrackingMode:         model.TrackingModeURL,
		Enabled:              true,
		CheckIntervalMinutes: 60,
	}
}

func TestRunCycle_FirstObservation(t *testing.T) {
	fs := newFakeStore(target(1, "https://example.com/a"))
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){okSnapshot(10.00)}}
	pub := &capturePublisher{}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), pub, Options{Retry: fastRetry(1)})
	stats, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleStats{Total: 1, Successful: 1}, stats)
	require.Len(t, fs.upserts, 1)
	assert.Equal(t, 10.00, fs.upserts[0].Price)
	require.Equal(t, []completeCall{{targetID: 1, success: true}}, fs.completes)

	require.Len(t, pub.changes, 1)
	assert.True(t, pub.changes[0].FirstObservation)
	assert.False(t, pub.changes[0].Significant)

	require.Len(t, fs.cycles, 1)
	assert.Equal(t, 1, fs.cycles[0].Total)
	assert.False(t, fs.cycles[0].Aborted)
	assert.NotEmpty(t, fs.cycles[0].ID)
}

func TestRunCycle_DedupSkipsDetection(t *testing.T) {
	fs := newFakeStore(target(1, "https://example.com/a"))
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){okSnapshot(10.00)}}
	pub := &capturePublisher{}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), pub, Options{Retry: fastRetry(1)})

	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, fs.upserts, 2, "every accepted snapshot touches the product row")
	assert.Equal(t, 1, fs.inserted, "identical price within the window yields one observation")
	assert.Len(t, pub.changes, 1, "detection runs only when a row was inserted")
}

func TestRunCycle_SignificantDropPublished(t *testing.T) {
	fs := newFakeStore(target(1, "https://example.com/a"))
	fs.previous[1] = &model.Observation{ID: 9, ProductID: 1, Price: 50.00}
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){okSnapshot(42.00)}}
	pub := &capturePublisher{}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), pub, Options{Retry: fastRetry(1)})
	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.changes, 1)
	change := pub.changes[0]
	assert.InDelta(t, -8.00, change.Absolute, 0.001)
	assert.InDelta(t, -16.0, change.Percent, 0.001)
	assert.Equal(t, model.ChangeDirectionDown, change.Direction)
	assert.True(t, change.Significant)
	assert.Equal(t, model.SeverityMedium, change.Severity)
}

func TestRunCycle_CircuitBreakerAbandonsRemainder(t *testing.T) {
	targets := make([]model.TrackedTarget, 10)
	for i := range targets {
		targets[i] = target(int64(i+1), "https://example.com/p")
	}
	fs := newFakeStore(targets...)
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){fetchFailure()}}
	pub := &capturePublisher{}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), pub, Options{
		MaxConsecutiveFailures: 5,
		Retry:                  fastRetry(1),
	})
	stats, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleStats{Total: 10, Successful: 0, Failed: 5, Aborted: true}, stats)
	assert.Len(t, fs.completes, 5, "abandoned targets keep their schedules untouched")
	for _, c := range fs.completes {
		assert.False(t, c.success)
	}
	require.Len(t, fs.cycles, 1)
	assert.True(t, fs.cycles[0].Aborted)
}

func TestRunCycle_RetryRecovery(t *testing.T) {
	fs := newFakeStore(target(1, "https://example.com/a"))
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){
		fetchFailure(),
		fetchFailure(),
		okSnapshot(10.00),
	}}
	pub := &capturePublisher{}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), pub, Options{Retry: fastRetry(4)})
	stats, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleStats{Total: 1, Successful: 1}, stats)
	assert.Equal(t, 3, scraper.calls)
	assert.Equal(t, 1, fs.inserted)
	require.Equal(t, []completeCall{{targetID: 1, success: true}}, fs.completes)
}

func TestRunCycle_ExtractionFailureIsNotRetried(t *testing.T) {
	fs := newFakeStore(target(1, "https://example.com/a"))
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){
		func(url string) (*model.Snapshot, error) {
			return nil, &scrape.ExtractError{URL: url, Field: "price", Reason: "no selector matched"}
		},
	}}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), nil, Options{Retry: fastRetry(4)})
	stats, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleStats{Total: 1, Failed: 1}, stats)
	assert.Equal(t, 1, scraper.calls, "terminal failures burn no further attempts")
	require.Equal(t, []completeCall{{targetID: 1, success: false}}, fs.completes)
}

func TestRunCycle_ValidationRejectionStillAdvancesSchedule(t *testing.T) {
	fs := newFakeStore(target(1, "https://example.com/a"))
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){okSnapshot(-1)}}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), nil, Options{Retry: fastRetry(1)})
	stats, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleStats{Total: 1, Failed: 1}, stats)
	assert.Equal(t, 0, fs.inserted, "nothing is written for a rejected snapshot")
	require.Equal(t, []completeCall{{targetID: 1, success: false}}, fs.completes)
}

func TestRunCycle_PublisherFailureDoesNotFailTarget(t *testing.T) {
	fs := newFakeStore(target(1, "https://example.com/a"))
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){okSnapshot(10.00)}}
	pub := &capturePublisher{err: context.DeadlineExceeded}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), pub, Options{Retry: fastRetry(1)})
	stats, err := e.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleStats{Total: 1, Successful: 1}, stats)
}

func TestRunCycle_EmptyBatch(t *testing.T) {
	fs := newFakeStore()
	e := New(fs, &scriptedScraper{results: []func(string) (*model.Snapshot, error){okSnapshot(1)}},
		fastLimiter(t), detect.New(detect.Thresholds{}), nil, Options{Retry: fastRetry(1)})

	stats, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{}, stats)
	assert.Empty(t, fs.cycles, "empty cycles are not recorded")
}

func TestRunCycle_CancelledContextAborts(t *testing.T) {
	targets := []model.TrackedTarget{target(1, "https://example.com/a"), target(2, "https://example.com/b")}
	fs := newFakeStore(targets...)
	scraper := &scriptedScraper{results: []func(string) (*model.Snapshot, error){okSnapshot(10.00)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), nil, Options{Retry: fastRetry(1)})
	stats, err := e.RunCycle(ctx)
	require.Error(t, err)
	assert.True(t, stats.Aborted)
}

// cancellingScraper cancels the cycle on its first fetch, simulating an
// operator interrupt arriving while a target is mid-flight.
type cancellingScraper struct {
	cancel context.CancelFunc
}

func (s *cancellingScraper) Fetch(ctx context.Context, url string) (*model.Snapshot, error) {
	s.cancel()
	return nil, &scrape.FetchError{URL: url, Err: ctx.Err()}
}

func (s *cancellingScraper) Name() string { return "cancelling" }

func TestRunCycle_ShutdownMidFetchLeavesScheduleUntouched(t *testing.T) {
	fs := newFakeStore(target(1, "https://example.com/a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scraper := &cancellingScraper{cancel: cancel}

	e := New(fs, scraper, fastLimiter(t), detect.New(detect.Thresholds{}), nil, Options{Retry: fastRetry(3)})
	stats, err := e.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, stats.Total)
	assert.Zero(t, stats.Successful)
	assert.Zero(t, stats.Failed, "interrupted target is not a failure")
	assert.Empty(t, fs.completes, "interrupted target keeps its schedule")
}
