package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fraud-crawler/internal/models"
)

// maxSectionRemovals bounds the "other cities" cleanup loop on one page
const maxSectionRemovals = 10

// SweepStats counts what happened to the listings of one sweep
type SweepStats struct {
	Pages      int
	Candidates int
	Skipped    int // malformed entries
	Duplicates int
	Filtered   int
	Discarded  int // address non-matches and failed write-backs
	Unenriched int
	Persisted  int
	Matches    int
}

// Extractor turns loaded results pages into persisted listings for one sweep
type Extractor struct {
	target       models.SearchTarget
	scope        *models.AddressTask // nil for an unscoped sweep
	store        FingerprintStore
	clients      ClientStore
	sink         Sink
	guard        *guard
	loc          Locators
	needMoreInfo bool
	elementWait  time.Duration
	log          *logrus.Entry

	stats SweepStats
}

// Stats returns the counters collected so far
func (e *Extractor) Stats() SweepStats {
	return e.stats
}

// ProcessPage implements PageProcessor
func (e *Extractor) ProcessPage(ctx context.Context, s Session, pageURL string) error {
	html, err := s.HTML(ctx)
	if err != nil {
		return err
	}

	if hasElement(html, e.loc.Item) {
		html, err = e.dropOtherGeo(ctx, s, html)
		if err != nil {
			return err
		}
	}

	candidates, skipped, err := ParseResults(html, pageURL, e.loc)
	if err != nil {
		return err
	}
	e.stats.Pages++
	e.stats.Candidates += len(candidates)
	e.stats.Skipped += skipped
	if skipped > 0 {
		e.log.WithFields(logrus.Fields{"url": pageURL, "skipped": skipped}).Debug("Skipped malformed listings")
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.process(ctx, s, c); err != nil {
			return err
		}
	}
	return nil
}

// dropOtherGeo removes the "other cities" sections and re-reads the page so
// the listings parsed belong to the searched location only.
func (e *Extractor) dropOtherGeo(ctx context.Context, s Session, html string) (string, error) {
	if e.loc.OtherGeo == "" || !hasElement(html, e.loc.OtherGeo) {
		return html, nil
	}

	removedAny := false
	for i := 0; i < maxSectionRemovals; i++ {
		removed, err := s.RemoveParent(ctx, e.loc.OtherGeo)
		if err != nil {
			if IsStop(err) {
				return "", err
			}
			e.log.WithError(err).Debug("Could not remove other-geo section")
			break
		}
		if !removed {
			break
		}
		removedAny = true
	}
	if !removedAny {
		return html, nil
	}
	return s.HTML(ctx)
}

// process runs one candidate through dedup, filters, enrichment and the sink.
// Only stop, store and sink errors are returned.
func (e *Extractor) process(ctx context.Context, s Session, c models.Candidate) error {
	log := e.log.WithFields(logrus.Fields{"listing_id": c.ID, "price": c.Price})

	seen, err := e.store.Exists(ctx, c.ID, c.Price)
	if err != nil {
		if IsStop(err) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if seen {
		e.stats.Duplicates++
		log.Debug("Already processed")
		return nil
	}

	if !passesPageFilters(c, e.target) {
		e.stats.Filtered++
		log.Debug("Filtered out by price or keywords")
		return nil
	}

	listing, err := e.handle(ctx, s, c)
	if err != nil {
		return err
	}
	if listing == nil {
		e.stats.Discarded++
		return nil
	}

	if e.scope == nil && !passesDetailFilters(listing.Listing(), e.target) {
		e.stats.Filtered++
		log.Debug("Filtered out by geo or views")
		return nil
	}

	e.logListing(listing)
	if err := e.sink.Append(ctx, listing); err != nil {
		return fmt.Errorf("failed to persist listing %d: %w", c.ID, err)
	}
	e.stats.Persisted++
	return nil
}

// handle enriches c when detail collection is enabled. A nil listing means the
// candidate was discarded as an address non-match.
func (e *Extractor) handle(ctx context.Context, s Session, c models.Candidate) (models.Persistable, error) {
	if !e.needMoreInfo {
		return models.Unenriched(c), nil
	}

	detail, err := e.loadDetail(ctx, s, c.URL)
	if err != nil {
		if IsStop(err) || IsFatal(err) {
			return nil, err
		}
		e.stats.Unenriched++
		e.log.WithError(err).WithField("listing_id", c.ID).Debug("Enrichment abandoned, keeping candidate")
		return models.Unenriched(c), nil
	}

	enriched := models.Enriched{
		Candidate: c,
		Views:     -1,
		ScrapedAt: time.Now(),
	}

	if e.scope != nil && detail.HasGeo {
		enriched.Geo = detail.Geo
		if !MatchesAddress(detail.Geo, e.scope.Address) {
			e.log.WithFields(logrus.Fields{
				"listing_id": c.ID,
				"geo":        detail.Geo,
				"address":    e.scope.Address,
			}).Debug("Address does not match")
			return nil, nil
		}
		if err := e.confirm(ctx, c); err != nil {
			if IsStop(err) {
				return nil, err
			}
			// Left unrecorded so the next crawl retries the write-back
			e.log.WithError(err).WithField("listing_id", c.ID).Error("Failed to record address match, listing not persisted")
			return nil, nil
		}
		return models.ConfirmedMatch{
			Enriched: enriched,
			ClientID: e.scope.ClientID,
			Address:  e.scope.Address,
		}, nil
	}

	enriched.Geo = detail.Geo
	enriched.Views = detail.Views
	enriched.PublishedAt = detail.PublishedAt
	enriched.Seller = detail.Seller
	return enriched, nil
}

// confirm writes the match back to the client record. The listing is
// persisted only after it succeeds; the write-back is idempotent per listing,
// so a later retry after a failed persist does not count the match twice.
func (e *Extractor) confirm(ctx context.Context, c models.Candidate) error {
	log := e.log.WithFields(logrus.Fields{
		"client_id":  e.scope.ClientID,
		"address":    e.scope.Address,
		"listing_id": c.ID,
	})
	if e.clients == nil {
		return fmt.Errorf("no client store configured for client %d", e.scope.ClientID)
	}
	if err := e.clients.RecordMatch(ctx, e.scope.ClientID, c.URL); err != nil {
		return err
	}
	e.stats.Matches++
	log.Info("Address match recorded")
	return nil
}

// loadDetail opens a listing page and waits for its counters to render
func (e *Extractor) loadDetail(ctx context.Context, s Session, listingURL string) (Detail, error) {
	if listingURL == "" {
		return Detail{}, fmt.Errorf("%w: no detail url", ErrMalformedListing)
	}

	for attempt := 1; ; attempt++ {
		if err := e.guard.open(ctx, s, listingURL); err != nil {
			return Detail{}, err
		}

		if err := s.WaitVisible(ctx, e.loc.TotalViews, e.elementWait); err != nil {
			if IsStop(err) {
				return Detail{}, err
			}
			blocked, berr := e.guard.blocked(ctx, s)
			if berr != nil || !blocked {
				return Detail{}, fmt.Errorf("detail page did not render within %s: %w", e.elementWait, err)
			}
			if err := e.guard.recover(ctx, listingURL, attempt); err != nil {
				return Detail{}, err
			}
			continue
		}

		html, err := s.HTML(ctx)
		if err != nil {
			return Detail{}, err
		}
		return ParseDetail(html, e.loc)
	}
}

func (e *Extractor) logListing(p models.Persistable) {
	l := p.Listing()
	fields := logrus.Fields{
		"price":     l.Price,
		"title":     l.Title,
		"url":       l.URL,
		"short_url": shortURL(l.URL, l.ID),
	}
	if l.Seller != "" {
		fields["seller"] = l.Seller
	}
	if l.HasViews() {
		fields["views"] = l.Views
	}
	if m, ok := p.(models.ConfirmedMatch); ok {
		fields["client_id"] = m.ClientID
		fields["address"] = m.Address
	}
	e.log.WithFields(fields).Info("Listing matched")
}
