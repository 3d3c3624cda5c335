package scrape

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/sites"
)

var errEmptyBody = eris.New("scrape: empty page body")

// maxBodyBytes caps how much HTML the static scraper will read.
const maxBodyBytes = 8 << 20

// Static fetches pages with plain HTTP and runs the same registry-driven
// extraction. Enough for sites that render prices server-side, without
// spending a browser on them.
type Static struct {
	client   *http.Client
	registry *sites.Registry
}

// NewStatic builds the HTTP scraper. A nil client gets a 30s-timeout default.
func NewStatic(client *http.Client, registry *sites.Registry) *Static {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Static{client: client, registry: registry}
}

// Name identifies the engine in snapshots and logs.
func (s *Static) Name() string { return "static" }

// Fetch downloads the page and extracts a snapshot from the raw HTML.
func (s *Static) Fetch(ctx context.Context, pageURL string) (*model.Snapshot, error) {
	site := s.registry.Match(pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	req.Header.Set("User-Agent", sites.NextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &FetchError{URL: pageURL, Err: eris.Errorf("scrape: status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &FetchError{URL: pageURL, Err: errEmptyBody}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: pageURL, Err: err}
	}
	return extract(doc, site, pageURL, s.Name())
}
