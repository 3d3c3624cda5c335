package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// TrackingMode selects how a target locates its product on the site.
type TrackingMode string

const (
	TrackingModeURL    TrackingMode = "url"
	TrackingModeSearch TrackingMode = "search"
)

// Check interval bounds in minutes (one minute to one week).
const (
	MinCheckInterval = 1
	MaxCheckInterval = 10080
)

// TrackedTarget is one operator-supplied instruction to observe a product
// page periodically. The engine writes only last_checked_at, next_check_at
// and failure_counter; everything else belongs to the CLI and API.
type TrackedTarget struct {
	ID                   int64        `json:"id"`
	URL                  string       `json:"url"`
	Site                 string       `json:"site"`
	TrackingMode         TrackingMode `json:"tracking_mode"`
	ProductName          string       `json:"product_name,omitempty"`
	Keywords             string       `json:"keywords,omitempty"`
	Enabled              bool         `json:"enabled"`
	CheckIntervalMinutes int          `json:"check_interval_minutes"`
	LastCheckedAt        *time.Time   `json:"last_checked_at,omitempty"`
	NextCheckAt          *time.Time   `json:"next_check_at,omitempty"`
	FailureCounter       int          `json:"failure_counter"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Interval returns the desired check interval as a duration.
func (t *TrackedTarget) Interval() time.Duration {
	return time.Duration(t.CheckIntervalMinutes) * time.Minute
}

// Due reports whether the target should be dispatched at the given instant.
// A nil next_check_at means due immediately. Search-mode rows are never due.
func (t *TrackedTarget) Due(now time.Time) bool {
	if !t.Enabled || t.TrackingMode != TrackingModeURL {
		return false
	}
	return t.NextCheckAt == nil || !t.NextCheckAt.After(now)
}

// Validate checks the operator-supplied fields before a row is created or
// updated.
func (t *TrackedTarget) Validate() error {
	if t.TrackingMode != TrackingModeURL && t.TrackingMode != TrackingModeSearch {
		return &ValidationError{Field: "tracking_mode", Reason: fmt.Sprintf("unknown mode %q", string(t.TrackingMode))}
	}
	if t.TrackingMode == TrackingModeURL {
		u, err := url.Parse(strings.TrimSpace(t.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
		}
	} else if strings.TrimSpace(t.ProductName) == "" {
		return &ValidationError{Field: "product_name", Reason: "required for search mode"}
	}
	if t.CheckIntervalMinutes < MinCheckInterval || t.CheckIntervalMinutes > MaxCheckInterval {
		return &ValidationError{
			Field:  "check_interval_minutes",
			Reason: fmt.Sprintf("must be within [%d, %d]", MinCheckInterval, MaxCheckInterval),
		}
	}
	return nil
}
