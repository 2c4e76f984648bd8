package scraper

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"fraud-crawler/internal/models"
)

var csvHeader = []string{
	"id", "title", "price", "url", "description", "views", "published",
	"seller", "geo", "client_id", "address", "partial", "scraped_at",
}

// CSVSink appends listings to one result file and records each written
// listing in the fingerprint store.
type CSVSink struct {
	path  string
	store FingerprintStore

	mu      sync.Mutex
	written int
}

// NewCSVSink creates the result directory if needed. The file itself is
// created on the first append.
func NewCSVSink(path string, store FingerprintStore) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("could not create results dir: %w", err)
	}
	return &CSVSink{path: path, store: store}, nil
}

// Path returns the result file location
func (s *CSVSink) Path() string {
	return s.path
}

// Written returns the number of rows appended by this sink
func (s *CSVSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Append writes p and then records its fingerprint. A crash between the two
// steps can only cause the listing to be written again on the next run.
func (s *CSVSink) Append(ctx context.Context, p models.Persistable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	l := p.Listing()
	if err := s.writeRow(listingRow(p)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	s.written++

	// The row is on disk; the fingerprint must follow even if a stop arrives now
	if err := s.store.Record(context.WithoutCancel(ctx), l.ID, l.Price); err != nil {
		return fmt.Errorf("%w: record %d@%d: %v", ErrStoreUnavailable, l.ID, l.Price, err)
	}
	return nil
}

func (s *CSVSink) writeRow(row []string) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		w.Write(csvHeader)
	}
	w.Write(row)
	w.Flush()

	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func listingRow(p models.Persistable) []string {
	l := p.Listing()

	views := ""
	if l.HasViews() {
		views = strconv.FormatInt(l.Views, 10)
	}

	var clientID, address string
	if m, ok := p.(models.ConfirmedMatch); ok {
		clientID = strconv.FormatInt(m.ClientID, 10)
		address = m.Address
	}

	scrapedAt := l.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	return []string{
		strconv.FormatInt(l.ID, 10),
		l.Title,
		strconv.FormatInt(l.Price, 10),
		l.URL,
		l.Description,
		views,
		l.PublishedAt,
		l.Seller,
		l.Geo,
		clientID,
		address,
		strconv.FormatBool(l.Partial),
		scrapedAt.UTC().Format(time.RFC3339),
	}
}
