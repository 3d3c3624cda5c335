// Package engine owns the monitoring cycle: pull due targets, pace and
// fetch them, persist observations, classify changes, and advance each
// target's schedule exactly once.
package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pricelens/pricelens/internal/browser"
	"github.com/pricelens/pricelens/internal/detect"
	"github.com/pricelens/pricelens/internal/events"
	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/ratelimit"
	"github.com/pricelens/pricelens/internal/resilience"
	"github.com/pricelens/pricelens/internal/scrape"
	"github.com/pricelens/pricelens/internal/store"
)

// Options tunes a cycle. Zero fields fall back to defaults.
type Options struct {
	// BatchLimit bounds how many due targets one cycle materializes.
	BatchLimit int
	// MaxConsecutiveFailures trips the cycle breaker. Once that many
	// targets fail in a row the remainder of the batch is abandoned.
	MaxConsecutiveFailures int
	// Workers bounds parallel target processing. Keep at or below the
	// browser pool size; the default is sequential.
	Workers int
	// MinPace and MaxPace bound the uniform delay inserted between target
	// dispatches, independent of per-site rate limiting.
	MinPace time.Duration
	MaxPace time.Duration
	// Retry drives fetch attempts per target.
	Retry resilience.RetryConfig
	// Interval is the pause between cycles in RunLoop.
	Interval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchLimit <= 0 {
		o.BatchLimit = 20
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = 5
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxPace < o.MinPace {
		o.MaxPace = o.MinPace
	}
	if o.Interval <= 0 {
		o.Interval = 15 * time.Minute
	}
	return o
}

// CycleStats summarizes one cycle. Total counts the materialized batch;
// when the breaker aborts, Successful+Failed falls short of Total.
type CycleStats struct {
	Total      int  `json:"total"`
	Successful int  `json:"successful"`
	Failed     int  `json:"failed"`
	Aborted    bool `json:"aborted"`
}

// Engine wires the store, scraper, rate limiter, detector and event
// publisher into the cycle state machine.
type Engine struct {
	store     store.Store
	scraper   scrape.Scraper
	limiter   *ratelimit.Limiter
	detector  *detect.Detector
	publisher events.Publisher
	opts      Options
	log       *zap.Logger
}

// New builds an engine. publisher may be nil when no consumer is wired.
func New(st store.Store, scraper scrape.Scraper, limiter *ratelimit.Limiter, detector *detect.Detector, publisher events.Publisher, opts Options) *Engine {
	return &Engine{
		store:     st,
		scraper:   scraper,
		limiter:   limiter,
		detector:  detector,
		publisher: publisher,
		opts:      opts.withDefaults(),
		log:       zap.L().With(zap.String("component", "engine")),
	}
}

// RunCycle materializes one batch of due targets and processes it. Targets
// becoming due mid-cycle wait for the next one.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	startedAt := time.Now().UTC()

	targets, err := e.store.DueTargets(ctx, e.opts.BatchLimit)
	if err != nil {
		return CycleStats{}, eris.Wrap(err, "engine: load due targets")
	}
	stats := CycleStats{Total: len(targets)}
	if len(targets) == 0 {
		e.log.Debug("no due targets")
		return stats, nil
	}
	e.log.Info("cycle started",
		zap.Int("due_targets", len(targets)),
		zap.Int("workers", e.opts.Workers),
	)

	var (
		mu      sync.Mutex
		breaker = newBreaker(e.opts.MaxConsecutiveFailures)
	)
	g := &errgroup.Group{}
	g.SetLimit(e.opts.Workers)

	for i, t := range targets {
		if ctx.Err() != nil {
			stats.Aborted = true
			break
		}
		if breaker.tripped() {
			e.log.Warn("circuit breaker tripped, abandoning cycle",
				zap.Int("consecutive_failures", e.opts.MaxConsecutiveFailures),
				zap.Int("remaining", len(targets)-i),
			)
			stats.Aborted = true
			break
		}
		if i > 0 {
			if err := e.pace(ctx); err != nil {
				stats.Aborted = true
				break
			}
		}

		t := t
		g.Go(func() error {
			// Re-check once the worker slot is ours; targets queued behind
			// the tripping failure are skipped with schedules untouched.
			if breaker.tripped() {
				mu.Lock()
				stats.Aborted = true
				mu.Unlock()
				return nil
			}
			outcome := e.processTarget(ctx, t)
			mu.Lock()
			switch outcome {
			case targetSucceeded:
				stats.Successful++
			case targetFailed:
				stats.Failed++
			}
			mu.Unlock()
			if outcome != targetInterrupted {
				breaker.record(outcome == targetSucceeded)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.recordCycle(ctx, startedAt, stats)
	e.log.Info("cycle finished",
		zap.Int("total", stats.Total),
		zap.Int("successful", stats.Successful),
		zap.Int("failed", stats.Failed),
		zap.Bool("aborted", stats.Aborted),
	)
	return stats, ctx.Err()
}

// targetOutcome is the result of one dispatched target.
type targetOutcome int

const (
	targetSucceeded targetOutcome = iota
	targetFailed
	targetInterrupted
)

// processTarget walks one target through fetch, persist, detect and
// schedule advancement. The schedule advances exactly once per completed
// target; an interrupted target keeps its schedule and is retried next
// cycle.
func (e *Engine) processTarget(ctx context.Context, t model.TrackedTarget) targetOutcome {
	log := e.log.With(zap.Int64("target_id", t.ID), zap.String("url", t.URL))

	retryCfg := e.opts.Retry
	retryCfg.ShouldRetry = resilience.IsRetryable
	retryCfg.OnRetry = resilience.RetryLogger("engine", "fetch")

	snap, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.Snapshot, error) {
		return e.fetchOnce(ctx, t.URL)
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("shutdown mid-fetch, schedule untouched", zap.Error(err))
			return targetInterrupted
		}
		log.Warn("target check failed", zap.Error(err))
		e.complete(ctx, t.ID, false)
		return targetFailed
	}

	result, err := resilience.DoVal(ctx, e.storeRetry(), func(ctx context.Context) (*store.UpsertResult, error) {
		return e.store.UpsertObservation(ctx, *snap)
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Debug("shutdown mid-store, schedule untouched", zap.Error(err))
			return targetInterrupted
		}
		log.Warn("observation rejected", zap.Error(err))
		e.complete(ctx, t.ID, false)
		return targetFailed
	}

	if result.Inserted {
		e.detectChange(ctx, result.ProductID, snap, log)
	} else {
		log.Debug("observation absorbed by dedup window",
			zap.Int64("product_id", result.ProductID),
			zap.Float64("price", snap.Price),
		)
	}

	e.complete(ctx, t.ID, true)
	log.Info("target checked",
		zap.Int64("product_id", result.ProductID),
		zap.Float64("price", snap.Price),
		zap.Bool("observation_inserted", result.Inserted),
	)
	return targetSucceeded
}

// fetchOnce is one rate-limited fetch attempt. Site failures feed the
// limiter's escalation; extraction failures and pool contention do not,
// since the site answered fine or was never asked.
func (e *Engine) fetchOnce(ctx context.Context, url string) (*model.Snapshot, error) {
	if _, err := e.limiter.Wait(ctx, url); err != nil {
		return nil, err
	}
	snap, err := e.scraper.Fetch(ctx, url)
	if err != nil {
		var extractErr *scrape.ExtractError
		var acquireErr *browser.AcquireTimeoutError
		switch {
		case errors.As(err, &extractErr):
			e.limiter.ReportSuccess(url)
		case errors.As(err, &acquireErr):
		default:
			e.limiter.ReportError(url, err)
		}
		return nil, err
	}
	e.limiter.ReportSuccess(url)
	return snap, nil
}

// detectChange compares against the previous observation and publishes the
// classified change. Failures here never fail the target; the observation
// is already committed.
func (e *Engine) detectChange(ctx context.Context, productID int64, snap *model.Snapshot, log *zap.Logger) {
	prev, err := e.store.PreviousObservation(ctx, productID)
	if err != nil {
		log.Warn("previous observation lookup failed", zap.Error(err))
		return
	}
	change := e.detector.Compare(productID, prev, snap)
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, change); err != nil {
		log.Warn("change event publish failed", zap.Error(err))
	}
}

// complete advances the target's schedule. Runs detached from cycle
// cancellation so a draining shutdown still records outcomes for targets
// already dispatched.
func (e *Engine) complete(ctx context.Context, targetID int64, success bool) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := resilience.Do(cctx, e.storeRetry(), func(ctx context.Context) error {
		return e.store.Complete(ctx, targetID, success)
	})
	if err != nil {
		e.log.Error("failed to advance target schedule",
			zap.Int64("target_id", targetID),
			zap.Bool("success", success),
			zap.Error(err),
		)
	}
}

func (e *Engine) storeRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		ShouldRetry:    resilience.IsRetryable,
	}
}

// pace inserts the uniform inter-target delay.
func (e *Engine) pace(ctx context.Context) error {
	if e.opts.MaxPace <= 0 {
		return nil
	}
	d := e.opts.MinPace
	if spread := e.opts.MaxPace - e.opts.MinPace; spread > 0 {
		d += rand.N(spread)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// recordCycle persists the cycle-run row. Empty cycles are not recorded.
func (e *Engine) recordCycle(ctx context.Context, startedAt time.Time, stats CycleStats) {
	if stats.Total == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	run := store.CycleRun{
		ID:         uuid.NewString(),
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Total:      stats.Total,
		Successful: stats.Successful,
		Failed:     stats.Failed,
		Aborted:    stats.Aborted,
	}
	if err := e.store.RecordCycle(cctx, run); err != nil {
		e.log.Error("failed to record cycle run", zap.String("cycle_id", run.ID), zap.Error(err))
	}
}

// breaker counts consecutive failures within one cycle.
type breaker struct {
	mu        sync.Mutex
	threshold int
	streak    int
}

func newBreaker(threshold int) *breaker {
	return &breaker{threshold: threshold}
}

func (b *breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.streak = 0
		return
	}
	b.streak++
}

func (b *breaker) tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak >= b.threshold
}
