package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"fraud-crawler/internal/logging"
	"fraud-crawler/internal/models"
)

const testMarker = "Доступ ограничен"

var blockedPage = `<html><head><title>Доступ ограничен: проблема с IP</title></head><body></body></html>`

// fakeSession serves canned pages by URL and keeps the current one as a
// mutable document so RemoveParent behaves like the real DOM call.
type fakeSession struct {
	mu      sync.Mutex
	pages   map[string]string
	blocks  map[string]int // remaining blocked loads per url
	visited []string
	doc     *goquery.Document
	closed  bool

	// onNavigate runs after every successful navigation
	onNavigate func(url string)
}

func newFakeSession(pages map[string]string) *fakeSession {
	return &fakeSession{pages: pages, blocks: map[string]int{}}
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.visited = append(s.visited, url)
	html, ok := s.pages[url]
	if s.blocks[url] > 0 {
		s.blocks[url]--
		html, ok = blockedPage, true
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("navigation to %s failed: 404", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.doc = doc
	hook := s.onNavigate
	s.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	return nil
}

func (s *fakeSession) current() (*goquery.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, errors.New("no page loaded")
	}
	return s.doc, nil
}

func (s *fakeSession) Title(ctx context.Context) (string, error) {
	doc, err := s.current()
	if err != nil {
		return "", err
	}
	return doc.Find("title").Text(), nil
}

func (s *fakeSession) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := s.current()
	if err != nil {
		return "", err
	}
	return goquery.OuterHtml(doc.Find("html"))
}

func (s *fakeSession) ScrollToBottom(ctx context.Context) error {
	return errors.New("nothing to scroll")
}

func (s *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	doc, err := s.current()
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return context.DeadlineExceeded
	}
	return nil
}

func (s *fakeSession) RemoveParent(ctx context.Context, selector string) (bool, error) {
	doc, err := s.current()
	if err != nil {
		return false, err
	}
	el := doc.Find(selector).First()
	if el.Length() == 0 || el.Parent().Length() == 0 {
		return false, nil
	}
	el.Parent().Remove()
	return true, nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSession) visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

type fakeBrowser struct {
	session  *fakeSession
	err      error
	sessions int
}

func (b *fakeBrowser) NewSession(ctx context.Context) (Session, error) {
	b.sessions++
	if b.err != nil {
		return nil, b.err
	}
	return b.session, nil
}

type countingBackoff struct {
	calls int
	err   error
}

func (b *countingBackoff) Backoff(ctx context.Context) error {
	b.calls++
	return b.err
}

type memStore struct {
	mu   sync.Mutex
	seen map[models.Fingerprint]bool
	err  error
}

func newMemStore() *memStore {
	return &memStore{seen: map[models.Fingerprint]bool{}}
}

func (m *memStore) Exists(ctx context.Context, id, price int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.seen[models.Fingerprint{ListingID: id, Price: price}], nil
}

func (m *memStore) Record(ctx context.Context, id, price int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.seen[models.Fingerprint{ListingID: id, Price: price}] = true
	return nil
}

func (m *memStore) has(id, price int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[models.Fingerprint{ListingID: id, Price: price}]
}

type recordedMatch struct {
	ClientID int64
	URL      string
}

type fakeClients struct {
	tasks   []models.AddressTask
	loadErr  error
	matchErr error
	matches  []recordedMatch
}

func (c *fakeClients) LoadAddresses(ctx context.Context, reportID int64) ([]models.AddressTask, error) {
	return c.tasks, c.loadErr
}

func (c *fakeClients) RecordMatch(ctx context.Context, clientID int64, listingURL string) error {
	if c.matchErr != nil {
		return c.matchErr
	}
	c.matches = append(c.matches, recordedMatch{clientID, listingURL})
	return nil
}

type memSink struct {
	items []models.Persistable
	err   error
	store FingerprintStore
}

func (s *memSink) Append(ctx context.Context, p models.Persistable) error {
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, p)
	if s.store != nil {
		l := p.Listing()
		return s.store.Record(ctx, l.ID, l.Price)
	}
	return nil
}

func (s *memSink) ids() []int64 {
	var ids []int64
	for _, p := range s.items {
		ids = append(ids, p.Listing().ID)
	}
	return ids
}

// Page builders

type testItem struct {
	ID        string
	Title     string
	Desc      string
	Href      string
	Price     string
	Sponsored bool
}

func (it testItem) html() string {
	class := "iva-item-root"
	if it.Sponsored {
		class += " iva-item-avitoSales"
	}
	idAttr := ""
	if it.ID != "" {
		idAttr = fmt.Sprintf(` data-item-id="%s"`, it.ID)
	}
	return fmt.Sprintf(`<div data-marker="item" class="%s"%s>`+
		`<a data-marker="item-title" href="%s"><h3 itemprop="name">%s</h3></a>`+
		`<meta itemprop="price" content="%s">`+
		`<div class="iva-item-description-x">%s</div></div>`,
		class, idAttr, it.Href, it.Title, it.Price, it.Desc)
}

func resultsPage(items ...testItem) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Купить котёл</title></head><body><div data-marker="catalog-serp">`)
	for _, it := range items {
		b.WriteString(it.html())
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

type testDetail struct {
	Views  string
	Date   string
	Seller string
	Geo    string
}

func detailPage(d testDetail) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Listing</title></head><body>`)
	if d.Views != "" {
		fmt.Fprintf(&b, `<span data-marker="item-view/total-views">%s</span>`, d.Views)
	}
	if d.Date != "" {
		fmt.Fprintf(&b, `<span data-marker="item-view/item-date">%s</span>`, d.Date)
	}
	if d.Seller != "" {
		fmt.Fprintf(&b, `<div data-marker="seller-info/name">%s</div>`, d.Seller)
	}
	if d.Geo != "" {
		fmt.Fprintf(&b, `<div itemprop="address">%s</div>`, d.Geo)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func testGuard(b Backoffer) *guard {
	return &guard{marker: testMarker, backoff: b, log: logging.Discard()}
}

func testExtractor(target models.SearchTarget, store FingerprintStore, sink Sink, b Backoffer) *Extractor {
	return &Extractor{
		target:       target,
		store:        store,
		sink:         sink,
		guard:        testGuard(b),
		loc:          DefaultLocators(),
		needMoreInfo: true,
		elementWait:  10 * time.Millisecond,
		log:          logging.Discard(),
	}
}

func openTarget() models.SearchTarget {
	return models.SearchTarget{MinPrice: 0, MaxPrice: 9999999999}
}
