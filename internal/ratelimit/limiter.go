// Package ratelimit paces outbound requests per site: a randomized minimum
// spacing between requests to the same site, escalated while the site keeps
// failing, plus an optional process-wide ceiling.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pricelens/pricelens/internal/sites"
)

// Config tunes failure escalation. Zero values take the defaults.
type Config struct {
	// FailureWindow is the rolling window over which errors are counted.
	// Default: 10m.
	FailureWindow time.Duration

	// FailureThreshold is the error count within the window that escalates
	// the site's spacing one level. Default: 3.
	FailureThreshold int

	// MaxLevel caps escalation; each level doubles the spacing window.
	// Default: 3 (8x).
	MaxLevel int

	// GlobalRPS adds a process-wide requests-per-second ceiling across all
	// sites. 0 disables it.
	GlobalRPS int
}

func (c Config) withDefaults() Config {
	if c.FailureWindow <= 0 {
		c.FailureWindow = 10 * time.Minute
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.MaxLevel <= 0 {
		c.MaxLevel = 3
	}
	return c
}

// Limiter enforces per-site inter-request spacing. Safe for concurrent use;
// for a given site, the order in which Wait acquires the site lock is the
// order in which callers proceed.
type Limiter struct {
	registry *sites.Registry
	cfg      Config
	global   *rate.Limiter

	mu     sync.Mutex
	states map[string]*siteState

	now func() time.Time
}

type siteState struct {
	mu            sync.Mutex
	nextAllowedAt time.Time
	failures      []time.Time
	level         int
	successStreak int
}

// New builds a limiter over the site registry.
func New(registry *sites.Registry, cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	l := &Limiter{
		registry: registry,
		cfg:      cfg,
		states:   make(map[string]*siteState),
		now:      time.Now,
	}
	if cfg.GlobalRPS > 0 {
		l.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalRPS)
	}
	return l
}

func (l *Limiter) state(name string) *siteState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[name]
	if !ok {
		st = &siteState{}
		l.states[name] = st
	}
	return st
}

// Wait blocks until the site's spacing budget allows another request, then
// reserves the next slot. It returns the delay actually applied. Reservation
// happens under the site lock, so concurrent callers for one site proceed in
// lock-acquisition order; different sites never serialize with each other.
func (l *Limiter) Wait(ctx context.Context, rawURL string) (time.Duration, error) {
	site := l.registry.Match(rawURL)
	st := l.state(site.Name)

	st.mu.Lock()
	now := l.now()
	slot := now
	if st.nextAllowedAt.After(now) {
		slot = st.nextAllowedAt
	}
	minD, maxD := st.effectiveWindow(site.RateLimit, l.cfg.MaxLevel)
	st.nextAllowedAt = slot.Add(uniform(minD, maxD))
	st.mu.Unlock()

	if delay := slot.Sub(now); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, eris.Wrap(ctx.Err(), "ratelimit: wait cancelled")
		case <-timer.C:
		}
		if l.global != nil {
			if err := l.global.Wait(ctx); err != nil {
				return 0, eris.Wrap(err, "ratelimit: global ceiling")
			}
		}
		return delay, nil
	}

	if l.global != nil {
		if err := l.global.Wait(ctx); err != nil {
			return 0, eris.Wrap(err, "ratelimit: global ceiling")
		}
	}
	return 0, nil
}

// ReportSuccess records a successful request. Two consecutive successes
// reset any escalation for the site.
func (l *Limiter) ReportSuccess(rawURL string) {
	site := l.registry.Match(rawURL)
	st := l.state(site.Name)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.successStreak++
	if st.successStreak >= 2 && st.level > 0 {
		zap.L().Info("rate limit escalation reset",
			zap.String("site", site.Name),
			zap.Int("level", st.level),
		)
		st.level = 0
		st.failures = nil
	}
}

// ReportError records a failed request. Enough failures inside the rolling
// window escalate the site's effective spacing one level.
func (l *Limiter) ReportError(rawURL string, err error) {
	site := l.registry.Match(rawURL)
	st := l.state(site.Name)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.successStreak = 0

	now := l.now()
	cutoff := now.Add(-l.cfg.FailureWindow)
	kept := st.failures[:0]
	for _, f := range st.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	st.failures = append(kept, now)

	if len(st.failures) >= l.cfg.FailureThreshold && st.level < l.cfg.MaxLevel {
		st.level++
		st.failures = st.failures[:0]
		zap.L().Warn("rate limit escalated",
			zap.String("site", site.Name),
			zap.Int("level", st.level),
			zap.Error(err),
		)
	}
}

// Level reports the current escalation level for the site owning the URL.
func (l *Limiter) Level(rawURL string) int {
	site := l.registry.Match(rawURL)
	st := l.state(site.Name)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.level
}

// effectiveWindow doubles the registry's spacing window once per escalation
// level. Caller holds st.mu.
func (st *siteState) effectiveWindow(rl sites.RateLimit, maxLevel int) (time.Duration, time.Duration) {
	minD := time.Duration(rl.MinMs) * time.Millisecond
	maxD := time.Duration(rl.MaxMs) * time.Millisecond
	if maxD < minD {
		maxD = minD
	}
	level := st.level
	if level > maxLevel {
		level = maxLevel
	}
	factor := time.Duration(1) << level
	return minD * factor, maxD * factor
}

// uniform picks a random duration in [min, max].
func uniform(minD, maxD time.Duration) time.Duration {
	if maxD <= minD {
		return minD
	}
	return minD + time.Duration(rand.Int64N(int64(maxD-minD)+1))
}
