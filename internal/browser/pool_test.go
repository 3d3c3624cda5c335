package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLauncher builds instances backed by plain cancellable contexts, so
// tests can kill an instance by cancelling it.
type fakeLauncher struct {
	mu       sync.Mutex
	launched []*Browser
	failNext bool
}

func (f *fakeLauncher) launch(ctx context.Context, id int) (*Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("no chrome here")
	}
	bctx, cancel := context.WithCancel(ctx)
	b := &Browser{id: id, ctx: bctx, cancel: cancel}
	f.launched = append(f.launched, b)
	return b, nil
}

func newTestPool(t *testing.T, size int, timeout time.Duration) (*Pool, *fakeLauncher) {
	t.Helper()
	fl := &fakeLauncher{}
	p := NewPool(Options{Size: size, AcquireTimeout: timeout, Launch: fl.launch})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Close)
	return p, fl
}

func TestPoolStart_LaunchesAllInstances(t *testing.T) {
	p, fl := newTestPool(t, 3, time.Second)

	st := p.Stats()
	assert.Equal(t, 3, st.Size)
	assert.Equal(t, 3, st.Available)
	assert.Equal(t, 0, st.InUse)
	assert.Len(t, fl.launched, 3)
}

func TestPoolStart_FailsWhenLaunchFails(t *testing.T) {
	fl := &fakeLauncher{failNext: true}
	p := NewPool(Options{Size: 2, Launch: fl.launch})

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Error(t, p.Health())
}

func TestAcquireRelease_RoundTrip(t *testing.T) {
	p, _ := newTestPool(t, 2, time.Second)

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, b.Alive())

	st := p.Stats()
	assert.Equal(t, 1, st.InUse)
	assert.Equal(t, 1, st.Available)

	p.Release(b)
	st = p.Stats()
	assert.Equal(t, 0, st.InUse)
	assert.Equal(t, 2, st.Available)
	assert.Equal(t, 1, st.PeakInUse)
}

func TestAcquire_TimesOutWhenExhausted(t *testing.T) {
	p, _ := newTestPool(t, 1, 50*time.Millisecond)

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(b)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)

	var timeoutErr *AcquireTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Retryable())
	assert.Equal(t, 0, p.Stats().Waiters)
}

func TestAcquire_HandsOffToEldestWaiterFIFO(t *testing.T) {
	p, _ := newTestPool(t, 1, 2*time.Second)

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)

	type result struct {
		order int
		b     *Browser
		err   error
	}
	results := make(chan result, 2)

	start := make(chan struct{}, 2)
	for i := 1; i <= 2; i++ {
		i := i
		go func() {
			start <- struct{}{}
			got, aerr := p.Acquire(context.Background())
			results <- result{order: i, b: got, err: aerr}
		}()
		<-start
		// Give the goroutine time to enqueue before starting the next, so
		// waiter order is deterministic.
		require.Eventually(t, func() bool {
			return p.Stats().Waiters == i
		}, time.Second, 5*time.Millisecond)
	}

	p.Release(b)
	first := <-results
	require.NoError(t, first.err)
	assert.Equal(t, 1, first.order)

	p.Release(first.b)
	second := <-results
	require.NoError(t, second.err)
	assert.Equal(t, 2, second.order)
	p.Release(second.b)
}

func TestRelease_DeadInstanceIsReplaced(t *testing.T) {
	p, fl := newTestPool(t, 1, time.Second)

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)

	b.cancel() // kill the underlying browser
	require.False(t, b.Alive())
	p.Release(b)

	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.Available == 1 && st.Replaced == 1
	}, time.Second, 5*time.Millisecond)

	nb, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, nb.Alive())
	assert.NotEqual(t, b.ID(), nb.ID())
	assert.Len(t, fl.launched, 2)
	p.Release(nb)
}

func TestAcquire_SkipsDeadIdleInstance(t *testing.T) {
	p, _ := newTestPool(t, 2, time.Second)

	// Kill one idle instance in place.
	p.mu.Lock()
	dead := p.available[0]
	p.mu.Unlock()
	dead.cancel()

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, b.Alive())
	assert.NotEqual(t, dead.ID(), b.ID())
	p.Release(b)

	require.Eventually(t, func() bool {
		return p.Stats().Replaced == 1 && p.Stats().Available == 2
	}, time.Second, 5*time.Millisecond)
}

func TestClose_RejectsWaiters(t *testing.T) {
	p, _ := newTestPool(t, 1, 5*time.Second)

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_ = b

	errCh := make(chan error, 1)
	go func() {
		_, aerr := p.Acquire(context.Background())
		errCh <- aerr
	}()
	require.Eventually(t, func() bool {
		return p.Stats().Waiters == 1
	}, time.Second, 5*time.Millisecond)

	p.Close()

	err = <-errCh
	assert.ErrorIs(t, err, ErrPoolClosing)

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosing)
}

func TestAcquire_BeforeStart(t *testing.T) {
	fl := &fakeLauncher{}
	p := NewPool(Options{Size: 1, Launch: fl.launch})

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	p, _ := newTestPool(t, 1, 5*time.Second)

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release(b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHealth(t *testing.T) {
	fl := &fakeLauncher{}
	p := NewPool(Options{Size: 1, AcquireTimeout: 10 * time.Second, Launch: fl.launch})

	assert.Error(t, p.Health(), "unstarted pool is unhealthy")

	require.NoError(t, p.Start(context.Background()))
	assert.NoError(t, p.Health())

	// Backlog above the threshold flips health.
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	done := make(chan struct{})
	for i := 0; i < maxHealthyWaiters+1; i++ {
		go func() {
			got, aerr := p.Acquire(context.Background())
			if aerr == nil {
				p.Release(got)
			}
			done <- struct{}{}
		}()
	}
	require.Eventually(t, func() bool {
		return p.Stats().Waiters == maxHealthyWaiters+1
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, p.Health())

	p.Release(b)
	for i := 0; i < maxHealthyWaiters+1; i++ {
		<-done
	}
	assert.NoError(t, p.Health())
	p.Close()
	assert.Error(t, p.Health())
}
