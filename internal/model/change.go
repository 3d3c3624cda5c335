package model

import "time"

// ChangeDirection indicates which way a price moved.
type ChangeDirection string

const (
	ChangeDirectionUp   ChangeDirection = "up"
	ChangeDirectionDown ChangeDirection = "down"
	ChangeDirectionNone ChangeDirection = "none"
)

// ChangeSeverity ranks how far past the alert thresholds a change landed.
type ChangeSeverity string

const (
	SeverityNone   ChangeSeverity = "none"
	SeverityMedium ChangeSeverity = "medium"
	SeverityHigh   ChangeSeverity = "high"
)

var severityRank = map[ChangeSeverity]int{
	SeverityNone:   0,
	SeverityMedium: 1,
	SeverityHigh:   2,
}

// AtLeast reports whether the severity meets or exceeds min. Unknown
// severities rank below none.
func (s ChangeSeverity) AtLeast(min ChangeSeverity) bool {
	return severityRank[s] >= severityRank[min]
}

// PriceChange is emitted after an observation commit when the new price is
// compared against the previous one. FirstObservation changes carry the new
// price only and are never significant.
type PriceChange struct {
	ProductID        int64           `json:"product_id"`
	URL              string          `json:"url"`
	Site             string          `json:"site"`
	Title            string          `json:"title"`
	OldPrice         float64         `json:"old_price"`
	NewPrice         float64         `json:"new_price"`
	Currency         Currency        `json:"currency"`
	Absolute         float64         `json:"absolute_change"`
	Percent          float64         `json:"percent_change"`
	Direction        ChangeDirection `json:"direction"`
	Significant      bool            `json:"significant"`
	Severity         ChangeSeverity  `json:"severity"`
	FirstObservation bool            `json:"first_observation"`
	ObservedAt       time.Time       `json:"observed_at"`
}
