package scrape

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pricelens/pricelens/internal/model"
)

// Chain tries scrapers in order, returning the first successful snapshot.
// A terminal extraction failure stops the chain; a later engine would see
// the same page.
type Chain struct {
	scrapers []Scraper
}

// NewChain builds a chain over the given scrapers, tried in order.
func NewChain(scrapers ...Scraper) *Chain {
	return &Chain{scrapers: scrapers}
}

// Name identifies the engine in snapshots and logs.
func (c *Chain) Name() string { return "chain" }

// Fetch runs each scraper until one succeeds. Fetch-level failures fall
// through to the next engine; extraction and validation failures do not.
func (c *Chain) Fetch(ctx context.Context, pageURL string) (*model.Snapshot, error) {
	if len(c.scrapers) == 0 {
		return nil, eris.New("scrape: chain has no scrapers")
	}

	var lastErr error
	for _, s := range c.scrapers {
		snap, err := s.Fetch(ctx, pageURL)
		if err == nil {
			return snap, nil
		}
		var extractErr *ExtractError
		var validationErr *model.ValidationError
		if errors.As(err, &extractErr) || errors.As(err, &validationErr) {
			return nil, err
		}
		zap.L().Debug("scraper failed, trying next",
			zap.String("scraper", s.Name()),
			zap.String("url", pageURL),
			zap.Error(err),
		)
		lastErr = err
	}
	return nil, lastErr
}
