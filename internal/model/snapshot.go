package model

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Snapshot is the extracted observation of one product page: what the
// fetcher saw at a point in time, before it is persisted.
type Snapshot struct {
	URL          string    `json:"url"`
	Site         string    `json:"site"`
	Title        string    `json:"title"`
	Price        float64   `json:"price"`
	PriceRaw     string    `json:"price_raw,omitempty"`
	Currency     Currency  `json:"currency"`
	Availability string    `json:"availability,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Engine       string    `json:"engine,omitempty"`
	CapturedAt   time.Time `json:"captured_at"`
}

// ValidationError reports an input the store rejected before writing any row.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Retryable marks validation failures as terminal.
func (e *ValidationError) Retryable() bool { return false }

// Validate applies the store's input rules: http(s) URL, non-empty site,
// bounded title, finite price within range, known currency.
func (s *Snapshot) Validate() error {
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	if strings.TrimSpace(s.Site) == "" {
		return &ValidationError{Field: "site", Reason: "must not be empty"}
	}
	title := strings.TrimSpace(s.Title)
	if title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("longer than %d characters", MaxTitleLen)}
	}
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) {
		return &ValidationError{Field: "price", Reason: "must be finite"}
	}
	if p := RoundPrice(s.Price); p < MinPrice || p > MaxPrice {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("must be within [%.2f, %.2f]", MinPrice, MaxPrice)}
	}
	if !s.Currency.Valid() {
		return &ValidationError{Field: "currency", Reason: fmt.Sprintf("unsupported tag %q", string(s.Currency))}
	}
	return nil
}
