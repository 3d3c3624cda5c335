package scrape

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/model"
)

// ParsePrice turns a raw price string as scraped from a page into a float
// with two-place semantics. It tolerates currency symbols, whitespace, and
// both decimal conventions: "1,234.56" and "1.234,56" parse to the same
// value. The result must land in the store's accepted price range.
func ParsePrice(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)
	if cleaned == "" {
		return 0, eris.Errorf("scrape: no digits in price %q", raw)
	}

	cleaned = normalizeSeparators(cleaned)

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "scrape: parse price %q", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, eris.Errorf("scrape: price %q is not finite", raw)
	}
	v = model.RoundPrice(v)
	if v < model.MinPrice || v > model.MaxPrice {
		return 0, eris.Errorf("scrape: price %q out of range", raw)
	}
	return v, nil
}

// normalizeSeparators rewrites a digits-and-separators string into plain
// "1234.56" form. When both separators appear, the one further right is the
// decimal point. A lone separator is decimal only when followed by at most
// two digits, otherwise it is grouping.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 && lastDot >= 1 {
			// "1.234" or "1.234.567" reads as grouping, not $1.234.
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}
