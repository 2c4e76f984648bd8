package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PageProcessor handles one loaded results page. The session is owned by the
// navigator and only lent for the duration of the call.
type PageProcessor interface {
	ProcessPage(ctx context.Context, s Session, pageURL string) error
}

// guard opens pages and hands control to the backoff controller whenever the
// block marker shows up, then retries the same step.
type guard struct {
	marker     string
	backoff    Backoffer
	maxRetries int // 0 retries forever
	log        *logrus.Entry
}

// blocked reports whether the current page title carries the block marker
func (g *guard) blocked(ctx context.Context, s Session) (bool, error) {
	if g.marker == "" {
		return false, nil
	}
	title, err := s.Title(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(title, g.marker), nil
}

// recover backs off after the attempt-th block on url
func (g *guard) recover(ctx context.Context, url string, attempt int) error {
	if g.maxRetries > 0 && attempt > g.maxRetries {
		return fmt.Errorf("%w: %s after %d attempts", ErrBlocked, url, attempt)
	}
	g.log.WithFields(logrus.Fields{"url": url, "attempt": attempt}).Warn("Block page detected")
	return g.backoff.Backoff(ctx)
}

// open navigates to url until it loads without the block marker
func (g *guard) open(ctx context.Context, s Session, url string) error {
	for attempt := 1; ; attempt++ {
		if err := s.Navigate(ctx, url); err != nil {
			return err
		}
		blocked, err := g.blocked(ctx, s)
		if err != nil {
			return fmt.Errorf("failed to read title of %s: %w", url, err)
		}
		if !blocked {
			return nil
		}
		if err := g.recover(ctx, url, attempt); err != nil {
			return err
		}
	}
}

// Navigator drives one browser session through the result pages of a search
type Navigator struct {
	browser      Browser
	guard        *guard
	maxPages     int
	scrollPause  time.Duration
	pagePauseMin time.Duration
	pagePauseMax time.Duration
	log          *logrus.Entry
}

// Sweep opens startURL and walks up to maxPages pages in order, handing each
// loaded page to proc. A stop request ends the sweep with a nil error.
func (n *Navigator) Sweep(ctx context.Context, startURL string, proc PageProcessor) error {
	session, err := n.browser.NewSession(ctx)
	if err != nil {
		if IsStop(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
	}
	defer session.Close()

	pageURL := startURL
	for page := 1; page <= n.maxPages; page++ {
		if ctx.Err() != nil {
			n.log.Info("Stop requested, ending sweep")
			return nil
		}

		log := n.log.WithFields(logrus.Fields{"page": page, "url": pageURL})

		if err := n.guard.open(ctx, session, pageURL); err != nil {
			return stopOrErr(fmt.Errorf("failed to open page %d: %w", page, err))
		}
		log.Info("Page opened")

		// Some layouts have nothing to scroll
		if err := session.ScrollToBottom(ctx); err != nil && !IsStop(err) {
			log.WithError(err).Debug("Scroll failed")
		}
		if err := sleepCtx(ctx, n.scrollPause); err != nil {
			return stopOrErr(err)
		}

		if err := proc.ProcessPage(ctx, session, pageURL); err != nil {
			return stopOrErr(fmt.Errorf("page %d: %w", page, err))
		}

		if page == n.maxPages {
			break
		}
		if err := sleepCtx(ctx, jitter(n.pagePauseMin, n.pagePauseMax)); err != nil {
			return stopOrErr(err)
		}

		next, err := NextPageURL(pageURL)
		if err != nil {
			return err
		}
		pageURL = next
	}

	return nil
}

// stopOrErr turns a stop request into a clean return
func stopOrErr(err error) error {
	if IsStop(err) {
		return nil
	}
	return err
}
