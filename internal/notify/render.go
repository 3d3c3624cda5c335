package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/pricelens/pricelens/internal/model"
)

var amounts = message.NewPrinter(language.English)

// renderSubject is the one-line form used for email subjects and telegram
// previews.
func renderSubject(change model.PriceChange) string {
	verb := "rose"
	if change.Direction == model.ChangeDirectionDown {
		verb = "dropped"
	}
	return amounts.Sprintf("Price %s %.1f%%: %s", verb, abs(change.Percent), change.Title)
}

// renderBody is the full human-readable message. Amounts get thousands
// grouping via the message printer.
func renderBody(change model.PriceChange) string {
	verb := "rose"
	if change.Direction == model.ChangeDirectionDown {
		verb = "dropped"
	}
	return amounts.Sprintf(
		"%s\n\nPrice %s from %.2f to %.2f %s (%+.2f, %+.1f%%)\nSeverity: %s\n%s\n",
		change.Title, verb,
		change.OldPrice, change.NewPrice, string(change.Currency),
		change.Absolute, change.Percent,
		string(change.Severity), change.URL,
	)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
