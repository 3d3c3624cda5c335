package scrape

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/browser"
	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/sites"
)

// ChromeOptions tunes the headless scraper's time budgets.
type ChromeOptions struct {
	// NavigationTimeout bounds the page load. Default 30s.
	NavigationTimeout time.Duration
	// ReadyTimeout bounds the page-ready selector race. Default 15s. A
	// timeout here is accepted as loaded enough, not an error.
	ReadyTimeout time.Duration
}

// Chrome fetches pages through a pooled headless browser, so JS-rendered
// prices are visible to extraction.
type Chrome struct {
	pool     *browser.Pool
	registry *sites.Registry
	opts     ChromeOptions
	log      *zap.Logger
}

// NewChrome builds the headless scraper on an already started pool.
func NewChrome(pool *browser.Pool, registry *sites.Registry, opts ChromeOptions) *Chrome {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 15 * time.Second
	}
	return &Chrome{
		pool:     pool,
		registry: registry,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "chrome_scraper")),
	}
}

// Name identifies the engine in snapshots and logs.
func (c *Chrome) Name() string { return "chrome" }

// Fetch loads the page in a fresh tab with a rotated user agent, waits for
// it to look ready, and runs selector extraction over the rendered DOM. The
// pooled browser is released on every path.
func (c *Chrome) Fetch(ctx context.Context, pageURL string) (*model.Snapshot, error) {
	site := c.registry.Match(pageURL)

	b, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(b)

	// A fresh tab per fetch keeps cookies and state from leaking between
	// targets.
	tabCtx, cancelTab := chromedp.NewContext(b.Context())
	defer cancelTab()
	navCtx, cancelNav := context.WithTimeout(tabCtx, c.opts.NavigationTimeout)
	defer cancelNav()

	ua := sites.NextUserAgent()
	err = chromedp.Run(navCtx,
		emulation.SetUserAgentOverride(ua),
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(pageURL),
	)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}

	c.awaitReady(navCtx, pageURL, site.PageReady)

	var html string
	if err := chromedp.Run(navCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	if strings.TrimSpace(html) == "" {
		return nil, &FetchError{URL: pageURL, Err: errEmptyBody}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	return extract(doc, site, pageURL, c.Name())
}

// awaitReady polls until any page-ready selector matches. Hitting the
// watchdog timeout is fine; the page is taken as loaded enough.
func (c *Chrome) awaitReady(ctx context.Context, pageURL string, selectors []string) {
	if len(selectors) == 0 {
		return
	}
	expr := "document.querySelector(" + strconv.Quote(strings.Join(selectors, ", ")) + ") !== null"
	err := chromedp.Run(ctx,
		chromedp.Poll(expr, nil, chromedp.WithPollingTimeout(c.opts.ReadyTimeout)),
	)
	if err != nil {
		c.log.Debug("page-ready selectors never matched, proceeding",
			zap.String("url", pageURL),
			zap.Error(err),
		)
	}
}
