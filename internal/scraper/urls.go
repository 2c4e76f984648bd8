package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// NextPageURL increments the "p" query parameter, treating a missing one as
// page 1. All other parameters are kept.
func NextPageURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid page url %q: %w", raw, err)
	}

	q := u.Query()
	current := 1
	if p := q.Get("p"); p != "" {
		current, err = strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("invalid page number %q in %s", p, raw)
		}
	}
	q.Set("p", strconv.Itoa(current+1))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// AddressURL scopes a search URL to one address with a zero search radius
func AddressURL(raw, address string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid search url %q: %w", raw, err)
	}

	q := u.Query()
	q.Set("address", address)
	q.Set("radius", "0")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

var (
	unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	fileSeparators  = regexp.MustCompile(`[-\s]+`)
	listingIDSuffix = regexp.MustCompile(`_(\d+)$`)
)

// sanitizeFileName keeps letters, digits and underscores, collapsing runs of
// spaces and dashes into one underscore.
func sanitizeFileName(s string) string {
	s = unsafeFileChars.ReplaceAllString(s, "")
	s = fileSeparators.ReplaceAllString(s, "_")
	return strings.Trim(s, "-_")
}

// AddressResultName is the result file name for one address sweep
func AddressResultName(reportID int64, address string) string {
	return fmt.Sprintf("report_%d_address_%s.csv", reportID, sanitizeFileName(address))
}

// GlobalResultName is the result file name for an unscoped sweep
func GlobalResultName(keywords []string) string {
	var parts []string
	for _, k := range keywords {
		if k = sanitizeFileName(strings.ToLower(strings.TrimSpace(k))); k != "" {
			parts = append(parts, k)
		}
	}
	if len(parts) == 0 {
		return "all.csv"
	}
	return strings.Join(parts, "-") + ".csv"
}

// listingIDFromURL derives a listing id from the trailing "_<digits>" of the URL path
func listingIDFromURL(raw string) (int64, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return 0, false
	}
	m := listingIDSuffix.FindStringSubmatch(strings.TrimRight(u.Path, "/"))
	if len(m) < 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// shortURL is the marketplace's id-only link for a listing
func shortURL(listingURL string, id int64) string {
	u, err := url.Parse(listingURL)
	if err != nil || u.Host == "" {
		return strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("%s://%s/%d", u.Scheme, u.Host, id)
}

// resolveURL makes href absolute against the page it was found on
func resolveURL(base, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref.String()
	}
	return b.ResolveReference(ref).String()
}
