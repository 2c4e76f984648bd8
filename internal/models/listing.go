package models

import (
	"fmt"
	"strings"
	"time"
)

// SearchTarget is one configured search URL together with the filters applied
// to every listing found through it. It is read-only for the duration of a sweep.
type SearchTarget struct {
	URL       string
	MinPrice  int64
	MaxPrice  int64
	Keywords  []string // allow-list
	Blacklist []string // deny-list
	Geo       string   // optional substring filter on the detail page address
	MaxViews  int64    // 0 disables the view ceiling
}

// AddressTask is a client address loaded from the external client store
type AddressTask struct {
	ClientID int64  `db:"id" json:"client_id"`
	Address  string `db:"address" json:"address"`
}

// Candidate is a listing as seen on a search results page
type Candidate struct {
	ID          int64
	Title       string
	Description string
	URL         string
	Price       int64
	Attributes  map[string]string
}

// Fingerprint returns the dedup key for the candidate
func (c Candidate) Fingerprint() Fingerprint {
	return Fingerprint{ListingID: c.ID, Price: c.Price}
}

// Content returns the lower-cased text the keyword policy is evaluated on
func (c Candidate) Content() string {
	return strings.ToLower(c.Description) + strings.ToLower(c.Title)
}

// Persistable is implemented by the listing variants that may reach the
// output sink. Candidate deliberately does not implement it.
type Persistable interface {
	Listing() Enriched
	persistable()
}

// Enriched is a candidate plus whatever the detail page exposed. Partial is set
// when the detail page never finished loading and only candidate data is present.
type Enriched struct {
	Candidate
	Views       int64 // -1 when the page did not show a counter
	PublishedAt string
	Seller      string
	Geo         string
	Partial     bool
	ScrapedAt   time.Time
}

// Listing implements Persistable
func (e Enriched) Listing() Enriched { return e }

func (e Enriched) persistable() {}

// HasViews reports whether the detail page exposed a view counter
func (e Enriched) HasViews() bool {
	return e.Views >= 0
}

// ConfirmedMatch is a listing whose detail page address contains the client
// address currently being swept.
type ConfirmedMatch struct {
	Enriched
	ClientID int64
	Address  string
}

// Listing implements Persistable
func (m ConfirmedMatch) Listing() Enriched { return m.Enriched }

func (m ConfirmedMatch) persistable() {}

// Unenriched wraps a candidate that skipped or abandoned enrichment
func Unenriched(c Candidate) Enriched {
	return Enriched{
		Candidate: c,
		Views:     -1,
		Partial:   true,
		ScrapedAt: time.Now(),
	}
}

// Fingerprint is the (listing id, price) dedup key
type Fingerprint struct {
	ListingID int64     `db:"listing_id" json:"listing_id"`
	Price     int64     `db:"price" json:"price"`
	SeenAt    time.Time `db:"seen_at" json:"seen_at"`
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%d@%d", f.ListingID, f.Price)
}

// ResultFile describes one output artifact on disk
type ResultFile struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}
