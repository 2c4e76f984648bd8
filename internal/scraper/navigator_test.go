package scraper

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"testing"

	"fraud-crawler/internal/logging"
)

// pageRecorder is a PageProcessor that remembers which pages it saw
type pageRecorder struct {
	pages []string
	err   error
	hook  func(n int)
}

func (r *pageRecorder) ProcessPage(ctx context.Context, s Session, pageURL string) error {
	r.pages = append(r.pages, pageURL)
	if r.hook != nil {
		r.hook(len(r.pages))
	}
	return r.err
}

const searchURL = "https://www.avito.ru/moskva/remont?q=kotel"

func pagedSite(n int) map[string]string {
	pages := map[string]string{searchURL: resultsPage()}
	u := searchURL
	for i := 2; i <= n; i++ {
		u, _ = NextPageURL(u)
		pages[u] = resultsPage()
	}
	return pages
}

func testNavigator(b Browser, backoff Backoffer, maxPages int) *Navigator {
	return &Navigator{
		browser:  b,
		guard:    testGuard(backoff),
		maxPages: maxPages,
		log:      logging.Discard(),
	}
}

func pageNumber(t *testing.T, raw string) int {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	p := u.Query().Get("p")
	if p == "" {
		return 1
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestSweepVisitsPagesInOrder(t *testing.T) {
	session := newFakeSession(pagedSite(3))
	nav := testNavigator(&fakeBrowser{session: session}, &countingBackoff{}, 3)
	rec := &pageRecorder{}

	if err := nav.Sweep(context.Background(), searchURL, rec); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(rec.pages) != 3 {
		t.Fatalf("processed %d pages, want 3", len(rec.pages))
	}
	for i, p := range rec.pages {
		if got := pageNumber(t, p); got != i+1 {
			t.Errorf("page %d has p=%d", i+1, got)
		}
		u, _ := url.Parse(p)
		if u.Query().Get("q") != "kotel" {
			t.Errorf("page %d lost the query: %s", i+1, p)
		}
	}
	if !session.closed {
		t.Error("session was not closed")
	}
}

func TestSweepRetriesBlockedPage(t *testing.T) {
	session := newFakeSession(pagedSite(2))
	second, _ := NextPageURL(searchURL)
	session.blocks[searchURL] = 2
	session.blocks[second] = 1

	backoff := &countingBackoff{}
	nav := testNavigator(&fakeBrowser{session: session}, backoff, 2)
	rec := &pageRecorder{}

	if err := nav.Sweep(context.Background(), searchURL, rec); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if backoff.calls != 3 {
		t.Errorf("backoff calls = %d, want 3", backoff.calls)
	}
	// Blocked loads do not consume pages
	if len(rec.pages) != 2 || rec.pages[0] != searchURL || rec.pages[1] != second {
		t.Errorf("processed pages = %v", rec.pages)
	}
	if visits := session.visits(); len(visits) != 5 {
		t.Errorf("navigations = %d, want 5: %v", len(visits), visits)
	}
}

func TestSweepBlockRetryCap(t *testing.T) {
	session := newFakeSession(pagedSite(1))
	session.blocks[searchURL] = 100

	backoff := &countingBackoff{}
	nav := testNavigator(&fakeBrowser{session: session}, backoff, 1)
	nav.guard.maxRetries = 2

	err := nav.Sweep(context.Background(), searchURL, &pageRecorder{})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if backoff.calls != 2 {
		t.Errorf("backoff calls = %d, want 2", backoff.calls)
	}
}

func TestSweepStopReturnsNil(t *testing.T) {
	session := newFakeSession(pagedSite(5))
	nav := testNavigator(&fakeBrowser{session: session}, &countingBackoff{}, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &pageRecorder{hook: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	if err := nav.Sweep(ctx, searchURL, rec); err != nil {
		t.Fatalf("stop should not be an error, got %v", err)
	}
	if len(rec.pages) != 2 {
		t.Errorf("processed %d pages after stop, want 2", len(rec.pages))
	}
}

func TestSweepStopDuringBackoff(t *testing.T) {
	session := newFakeSession(pagedSite(1))
	session.blocks[searchURL] = 1
	nav := testNavigator(&fakeBrowser{session: session}, &countingBackoff{err: context.Canceled}, 1)

	if err := nav.Sweep(context.Background(), searchURL, &pageRecorder{}); err != nil {
		t.Fatalf("stop should not be an error, got %v", err)
	}
}

func TestSweepBrowserUnavailable(t *testing.T) {
	nav := testNavigator(&fakeBrowser{err: errors.New("chrome not found")}, &countingBackoff{}, 1)

	err := nav.Sweep(context.Background(), searchURL, &pageRecorder{})
	if !errors.Is(err, ErrBrowserUnavailable) || !IsFatal(err) {
		t.Fatalf("expected fatal ErrBrowserUnavailable, got %v", err)
	}
}

func TestSweepProcessorError(t *testing.T) {
	session := newFakeSession(pagedSite(3))
	nav := testNavigator(&fakeBrowser{session: session}, &countingBackoff{}, 3)
	rec := &pageRecorder{err: ErrStoreUnavailable}

	err := nav.Sweep(context.Background(), searchURL, rec)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(rec.pages) != 1 {
		t.Errorf("processed %d pages, want 1", len(rec.pages))
	}
}
