package model

import (
	"math"
	"strings"
	"time"
)

// Currency identifies the currency of an observed price.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyCAD Currency = "CAD"
	CurrencyAUD Currency = "AUD"
)

// Price bounds for a single observation, two-decimal semantics.
const (
	MinPrice = 0.01
	MaxPrice = 99_999_999.99
)

// MaxTitleLen bounds product titles in the store.
const MaxTitleLen = 1000

// Product is a product page identified by its canonical URL. Price is
// denormalized from the most recent observation; the full series lives in
// price_history.
type Product struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	Site       string    `json:"site"`
	Title      string    `json:"title"`
	Price      float64   `json:"price"`
	Currency   Currency  `json:"currency,omitempty"` // filled from the latest observation on reads
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Observation is one immutable row in a product's price series.
type Observation struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	Price      float64   `json:"price"`
	Currency   Currency  `json:"currency"`
	CapturedAt time.Time `json:"captured_at"`
}

// Valid reports whether the currency is one of the supported tags.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP, CurrencyCAD, CurrencyAUD:
		return true
	}
	return false
}

// NormalizeCurrency trims and upper-cases a raw currency tag. An empty tag
// defaults to USD; validity is checked separately.
func NormalizeCurrency(raw string) Currency {
	c := strings.ToUpper(strings.TrimSpace(raw))
	if c == "" {
		return CurrencyUSD
	}
	return Currency(c)
}

// RoundPrice rounds a price to two decimal places.
func RoundPrice(p float64) float64 {
	return math.Round(p*100) / 100
}
