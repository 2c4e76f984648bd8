package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// requireChrome skips unless a Chrome binary chromedp can launch is installed
func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test skipped in short mode")
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome binary found")
}

func TestChromeSessionOutlivesSetup(t *testing.T) {
	requireChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Квартиры в Новороссийске</title></head><body>
			<div><span class="items-extraTitle">Другие города</span></div>
			<span data-marker="item-view/total-views">12 просмотров</span>
		</body></html>`))
	}))
	defer srv.Close()

	b := NewChromeBrowser(BrowserConfig{Headless: true, BlockImages: true, NavigationTimeout: 30 * time.Second})
	ctx := context.Background()

	s, err := b.NewSession(ctx)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	// The browser must still be alive after NewSession returned
	if err := s.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	title, err := s.Title(ctx)
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if title != "Квартиры в Новороссийске" {
		t.Errorf("title = %q", title)
	}

	if err := s.WaitVisible(ctx, `[data-marker="item-view/total-views"]`, 5*time.Second); err != nil {
		t.Errorf("WaitVisible: %v", err)
	}

	removed, err := s.RemoveParent(ctx, `[class*="items-extraTitle"]`)
	if err != nil || !removed {
		t.Fatalf("RemoveParent = %v, %v", removed, err)
	}
	html, err := s.HTML(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(html, "Другие города") {
		t.Error("section still present after removal")
	}

	// A second navigation on the same session keeps working
	if err := s.Navigate(ctx, srv.URL+"/?p=2"); err != nil {
		t.Errorf("second Navigate: %v", err)
	}
}
