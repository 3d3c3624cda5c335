package browser

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrPoolClosing is returned to waiters when the pool shuts down underneath
// them. Not retryable.
var ErrPoolClosing = eris.New("browser: pool closing")

// ErrNotStarted is returned by Acquire before Start has run.
var ErrNotStarted = eris.New("browser: pool not started")

// AcquireTimeoutError means every instance stayed busy for the whole acquire
// timeout. The target is a candidate for retry on a later attempt.
type AcquireTimeoutError struct {
	Timeout time.Duration
}

func (e *AcquireTimeoutError) Error() string {
	return "browser: acquire timed out after " + e.Timeout.String()
}

// Retryable marks pool contention as transient.
func (e *AcquireTimeoutError) Retryable() bool { return true }

// Options configures a Pool.
type Options struct {
	// Size is the number of browser instances. Launched up front by Start.
	Size int
	// AcquireTimeout bounds how long Acquire waits for a free instance.
	AcquireTimeout time.Duration
	// Headless toggles headless mode on the real launcher.
	Headless bool
	// Launch overrides the real Chrome launcher. Tests inject fakes here.
	Launch LaunchFunc
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	Size      int
	Available int
	InUse     int
	Waiters   int
	PeakInUse int
	Launched  int
	Replaced  int
}

// Pool owns a fixed set of browser instances and hands them out one holder
// at a time. Contended acquires queue FIFO.
type Pool struct {
	opts   Options
	launch LaunchFunc
	log    *zap.Logger

	mu        sync.Mutex
	baseCtx   context.Context
	available []*Browser
	inUse     map[*Browser]struct{}
	waiters   []chan *Browser
	started   bool
	closed    bool
	nextID    int
	peakInUse int
	launched  int
	replaced  int
}

// NewPool builds an unstarted pool. Call Start before Acquire.
func NewPool(opts Options) *Pool {
	if opts.Size <= 0 {
		opts.Size = 3
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}
	launch := opts.Launch
	if launch == nil {
		launch = chromeLauncher(opts.Headless)
	}
	return &Pool{
		opts:   opts,
		launch: launch,
		log:    zap.L().With(zap.String("component", "browser_pool")),
		inUse:  make(map[*Browser]struct{}),
	}
}

// Start launches all instances. ctx must outlive the pool; it parents every
// browser process. Start fails, and closes anything it already launched, if
// any single launch fails.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return eris.New("browser: pool already started")
	}
	p.baseCtx = ctx
	p.mu.Unlock()

	launched := make([]*Browser, 0, p.opts.Size)
	for i := 0; i < p.opts.Size; i++ {
		b, err := p.launchOne(ctx)
		if err != nil {
			for _, lb := range launched {
				lb.close()
			}
			return eris.Wrap(err, "browser: pool start")
		}
		launched = append(launched, b)
	}

	p.mu.Lock()
	p.available = launched
	p.started = true
	p.mu.Unlock()
	p.log.Info("browser pool started", zap.Int("size", p.opts.Size))
	return nil
}

func (p *Pool) launchOne(ctx context.Context) (*Browser, error) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.launched++
	p.mu.Unlock()
	return p.launch(ctx, id)
}

// Acquire returns a live instance, waiting up to the configured acquire
// timeout behind any earlier waiters. The caller must Release the instance
// exactly once, even when the fetch it performs fails.
func (p *Pool) Acquire(ctx context.Context) (*Browser, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrNotStarted
	}
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosing
	}

	// Skip over dead instances; each discard triggers an async replacement.
	for len(p.available) > 0 {
		b := p.available[0]
		p.available = p.available[1:]
		if !b.Alive() {
			p.discardLocked(b)
			continue
		}
		p.checkoutLocked(b)
		p.mu.Unlock()
		return b, nil
	}

	ch := make(chan *Browser, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	timer := time.NewTimer(p.opts.AcquireTimeout)
	defer timer.Stop()

	select {
	case b, ok := <-ch:
		if !ok {
			return nil, ErrPoolClosing
		}
		return b, nil
	case <-timer.C:
		return nil, p.abandonWait(ch, &AcquireTimeoutError{Timeout: p.opts.AcquireTimeout})
	case <-ctx.Done():
		return nil, p.abandonWait(ch, eris.Wrap(ctx.Err(), "browser: acquire"))
	}
}

// abandonWait removes ch from the waiter queue. If a Release handed us an
// instance in the meantime, put it back for the next waiter.
func (p *Pool) abandonWait(ch chan *Browser, cause error) error {
	p.mu.Lock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return cause
		}
	}
	p.mu.Unlock()

	select {
	case b, ok := <-ch:
		if ok {
			p.Release(b)
		}
	default:
	}
	return cause
}

// Release returns an instance to the pool. A dead instance is discarded and
// replaced in the background rather than handed to the next waiter.
func (p *Pool) Release(b *Browser) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inUse, b)

	if p.closed {
		b.close()
		return
	}
	if !b.Alive() {
		p.discardLocked(b)
		return
	}
	p.handBackLocked(b)
}

// handBackLocked gives b to the eldest waiter, or parks it as available.
func (p *Pool) handBackLocked(b *Browser) {
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.checkoutLocked(b)
		ch <- b
		return
	}
	p.available = append(p.available, b)
}

func (p *Pool) checkoutLocked(b *Browser) {
	p.inUse[b] = struct{}{}
	if len(p.inUse) > p.peakInUse {
		p.peakInUse = len(p.inUse)
	}
}

// discardLocked closes a dead instance and launches its replacement off the
// pool lock.
func (p *Pool) discardLocked(b *Browser) {
	p.log.Warn("discarding dead browser instance", zap.Int("instance_id", b.ID()))
	b.close()
	p.replaced++
	ctx := p.baseCtx
	go func() {
		nb, err := p.launchOne(ctx)
		if err != nil {
			p.log.Error("failed to launch replacement browser", zap.Error(err))
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			nb.close()
			return
		}
		p.handBackLocked(nb)
	}()
}

// Close shuts the pool down. Pending waiters fail with ErrPoolClosing and
// every instance, idle or checked out, is closed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	available := p.available
	p.available = nil
	inUse := make([]*Browser, 0, len(p.inUse))
	for b := range p.inUse {
		inUse = append(inUse, b)
	}
	p.inUse = make(map[*Browser]struct{})
	p.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	for _, b := range available {
		b.close()
	}
	for _, b := range inUse {
		b.close()
	}
	p.log.Info("browser pool closed")
}

// Stats reports current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:      p.opts.Size,
		Available: len(p.available),
		InUse:     len(p.inUse),
		Waiters:   len(p.waiters),
		PeakInUse: p.peakInUse,
		Launched:  p.launched,
		Replaced:  p.replaced,
	}
}

// maxHealthyWaiters is the waiter backlog beyond which the pool reports
// unhealthy.
const maxHealthyWaiters = 5

// Health returns nil when the pool can serve fetches, or an error naming
// what is wrong.
func (p *Pool) Health() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return eris.New("browser: pool not initialized")
	}
	if p.closed {
		return ErrPoolClosing
	}
	if len(p.available) == 0 && len(p.inUse) == 0 {
		return eris.New("browser: no live instances")
	}
	if len(p.waiters) > maxHealthyWaiters {
		return eris.Errorf("browser: %d fetches waiting for an instance", len(p.waiters))
	}
	return nil
}
