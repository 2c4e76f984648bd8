package scraper

import (
	"strings"

	"fraud-crawler/internal/models"
)

// PriceInRange checks the inclusive [min, max] price window
func PriceInRange(price, min, max int64) bool {
	return price >= min && price <= max
}

// KeywordsAllow applies the keyword policy to lower-cased content. An empty
// allow-list accepts everything not denied; an empty deny-list denies nothing.
func KeywordsAllow(content string, allow, deny []string) bool {
	content = strings.ToLower(content)
	allow = normalizeTerms(allow)
	deny = normalizeTerms(deny)

	for _, term := range deny {
		if strings.Contains(content, term) {
			return false
		}
	}
	if len(allow) == 0 {
		return true
	}
	for _, term := range allow {
		if strings.Contains(content, term) {
			return true
		}
	}
	return false
}

func normalizeTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// MatchesAddress reports whether the detail page geo text contains the
// client address, ignoring case.
func MatchesAddress(geo, address string) bool {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return false
	}
	return strings.Contains(strings.ToLower(geo), address)
}

// passesPageFilters applies the price window and keyword policy of target
func passesPageFilters(c models.Candidate, target models.SearchTarget) bool {
	if !PriceInRange(c.Price, target.MinPrice, target.MaxPrice) {
		return false
	}
	return KeywordsAllow(c.Content(), target.Keywords, target.Blacklist)
}

// passesDetailFilters applies the geo filter and view ceiling. Listings whose
// detail page did not expose the field pass that check.
func passesDetailFilters(e models.Enriched, target models.SearchTarget) bool {
	if geo := strings.TrimSpace(target.Geo); geo != "" && e.Geo != "" {
		if !strings.Contains(strings.ToLower(e.Geo), strings.ToLower(geo)) {
			return false
		}
	}
	if target.MaxViews > 0 && e.HasViews() && e.Views >= target.MaxViews {
		return false
	}
	return true
}
