// Package browser maintains a fixed-size pool of headless Chrome instances.
// Instances are launched once, handed out FIFO, and replaced asynchronously
// when they die.
package browser

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// Browser is one live headless browser instance. Its context is the parent
// for per-fetch tab contexts.
type Browser struct {
	id          int
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// ID identifies the instance within the pool, for logging.
func (b *Browser) ID() int { return b.id }

// Context returns the browser-level chromedp context. Derive a fresh tab
// context from it per fetch; never run navigations directly on it.
func (b *Browser) Context() context.Context { return b.ctx }

// Alive reports whether the underlying browser process is still usable.
func (b *Browser) Alive() bool { return b.ctx.Err() == nil }

func (b *Browser) close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}

// LaunchFunc starts one browser instance. Injectable so pool behavior is
// testable without Chrome.
type LaunchFunc func(ctx context.Context, id int) (*Browser, error)

// chromeLauncher launches a real headless Chrome via chromedp.
func chromeLauncher(headless bool) LaunchFunc {
	return func(ctx context.Context, id int) (*Browser, error) {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.NoFirstRun,
			chromedp.NoDefaultBrowserCheck,
		)
		allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
		browserCtx, cancel := chromedp.NewContext(allocCtx)

		// Run with no actions forces the browser process to start now, so a
		// broken Chrome install fails at pool initialization instead of on
		// the first fetch.
		startCtx, startCancel := context.WithTimeout(browserCtx, 30*time.Second)
		defer startCancel()
		if err := chromedp.Run(startCtx); err != nil {
			cancel()
			allocCancel()
			return nil, eris.Wrapf(err, "browser: launch instance %d", id)
		}

		return &Browser{id: id, ctx: browserCtx, cancel: cancel, allocCancel: allocCancel}, nil
	}
}
