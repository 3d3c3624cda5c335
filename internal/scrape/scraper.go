// Package scrape fetches product pages and extracts price observations from
// them using the per-site selector registry.
package scrape

import (
	"context"
	"fmt"

	"github.com/pricelens/pricelens/internal/model"
)

// Scraper fetches a single product URL and returns the extracted snapshot.
type Scraper interface {
	Fetch(ctx context.Context, url string) (*model.Snapshot, error)
	Name() string
}

// FetchError means the page could not be loaded: navigation timeout,
// disconnect, empty body. Worth retrying.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable marks load failures as transient.
func (e *FetchError) Retryable() bool { return true }

// ExtractError means the page loaded but a required field could not be
// extracted. Terminal for this cycle; the page will not get better on retry.
type ExtractError struct {
	URL    string
	Field  string
	Reason string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s from %s: %s", e.Field, e.URL, e.Reason)
}

// Retryable marks extraction failures as terminal.
func (e *ExtractError) Retryable() bool { return false }
