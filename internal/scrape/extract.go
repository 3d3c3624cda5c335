package scrape

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pricelens/pricelens/internal/model"
	"github.com/pricelens/pricelens/internal/sites"
)

// extract walks the site's ordered selector lists over a parsed document and
// builds a validated snapshot. Title and price are required; availability
// and image are best effort.
func extract(doc *goquery.Document, site sites.Site, pageURL, engine string) (*model.Snapshot, error) {
	title := firstText(doc, site.Selectors.Title)
	if title == "" {
		return nil, &ExtractError{URL: pageURL, Field: "title", Reason: "no selector matched"}
	}

	priceRaw := firstText(doc, site.Selectors.Price)
	if priceRaw == "" {
		return nil, &ExtractError{URL: pageURL, Field: "price", Reason: "no selector matched"}
	}
	price, err := ParsePrice(priceRaw)
	if err != nil {
		return nil, &ExtractError{URL: pageURL, Field: "price", Reason: err.Error()}
	}

	snap := &model.Snapshot{
		URL:          pageURL,
		Site:         site.Name,
		Title:        title,
		Price:        price,
		PriceRaw:     priceRaw,
		Currency:     model.NormalizeCurrency(site.Currency),
		Availability: firstText(doc, site.Selectors.Availability),
		ImageURL:     firstAttr(doc, site.Selectors.Image, "content", "src", "href"),
		Engine:       engine,
		CapturedAt:   time.Now().UTC(),
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// firstText returns the trimmed text of the first selector in order that
// yields non-whitespace content.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if text := strings.TrimSpace(s.Text()); text != "" {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// firstAttr returns the first non-empty attribute value, trying attrs in
// order for each selector. Meta tags carry URLs in "content", images in
// "src".
func firstAttr(doc *goquery.Document, selectors []string, attrs ...string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			for _, attr := range attrs {
				if v, ok := s.Attr(attr); ok {
					if v = strings.TrimSpace(v); v != "" {
						found = v
						return false
					}
				}
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}
