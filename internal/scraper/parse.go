package scraper

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"fraud-crawler/internal/models"
)

// ParseResults reads the candidates from a results page in DOM order.
// Sponsored entries are left out; entries without a usable id or price are
// counted in skipped.
func ParseResults(html, pageURL string, loc Locators) (candidates []models.Candidate, skipped int, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse results page: %w", err)
	}

	doc.Find(loc.Item).Each(func(_ int, item *goquery.Selection) {
		if loc.SponsoredClass != "" {
			if class, _ := item.Attr("class"); strings.Contains(class, loc.SponsoredClass) {
				return
			}
		}

		c, perr := parseCandidate(item, pageURL, loc)
		if perr != nil {
			skipped++
			return
		}
		candidates = append(candidates, c)
	})

	return candidates, skipped, nil
}

func parseCandidate(item *goquery.Selection, pageURL string, loc Locators) (models.Candidate, error) {
	title := strings.TrimSpace(item.Find(loc.Title).First().Text())
	if title == "" {
		// Banners and separators share the item marker
		return models.Candidate{}, fmt.Errorf("%w: no title", ErrMalformedListing)
	}

	href, _ := item.Find(loc.Link).First().Attr("href")
	listingURL := resolveURL(pageURL, href)

	rawPrice, _ := item.Find(loc.Price).First().Attr("content")
	price, err := parseDigits(rawPrice)
	if err != nil {
		return models.Candidate{}, err
	}

	rawID, _ := item.Attr(loc.IDAttr)
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		var ok bool
		if listingURL == "" {
			return models.Candidate{}, fmt.Errorf("%w: no id and no url", ErrMalformedListing)
		}
		if id, ok = listingIDFromURL(listingURL); !ok {
			return models.Candidate{}, fmt.Errorf("%w: cannot derive id from %s", ErrMalformedListing, listingURL)
		}
	}

	attrs := map[string]string{"raw_price": rawPrice}
	if rawID != "" {
		attrs["raw_id"] = rawID
	}

	return models.Candidate{
		ID:          id,
		Title:       title,
		Description: strings.TrimSpace(item.Find(loc.Description).First().Text()),
		URL:         listingURL,
		Price:       price,
		Attributes:  attrs,
	}, nil
}

// parseDigits keeps the digits of a displayed number ("15 000" -> 15000)
func parseDigits(raw string) (int64, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return 0, fmt.Errorf("%w: no digits in %q", ErrMalformedListing, raw)
	}
	price, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: number %q: %v", ErrMalformedListing, raw, err)
	}
	return price, nil
}

// leadingNumber cuts "1 234 просмотра (+5 сегодня)" down to "1 234"
func leadingNumber(s string) string {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && !unicode.IsSpace(r)
	})
	if end >= 0 {
		s = s[:end]
	}
	return s
}

// Detail holds the optional fields read from a listing's own page
type Detail struct {
	Geo         string
	HasGeo      bool
	Views       int64 // -1 when absent
	PublishedAt string
	Seller      string
}

// ParseDetail reads a listing detail page. Every field is optional.
func ParseDetail(html string, loc Locators) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Detail{}, fmt.Errorf("failed to parse detail page: %w", err)
	}

	d := Detail{Views: -1}

	if geo := doc.Find(loc.Geo).First(); geo.Length() > 0 {
		d.Geo = strings.TrimSpace(geo.Text())
		d.HasGeo = d.Geo != ""
	}

	if views := doc.Find(loc.TotalViews).First(); views.Length() > 0 {
		if n, err := parseDigits(leadingNumber(views.Text())); err == nil {
			d.Views = n
		}
	}

	if date := doc.Find(loc.PublishedAt).First(); date.Length() > 0 {
		d.PublishedAt = strings.TrimSpace(strings.ReplaceAll(date.Text(), "· ", ""))
	}

	if seller := doc.Find(loc.Seller).First(); seller.Length() > 0 {
		d.Seller = strings.TrimSpace(seller.Text())
	}

	return d, nil
}

// hasElement reports whether html contains at least one match for selector
func hasElement(html, selector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}
