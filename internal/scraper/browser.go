package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
)

// Session is one browser tab driven through a sweep. Implementations do not
// abort in-flight calls when ctx is cancelled; ctx is checked before each call.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	ScrollToBottom(ctx context.Context) error
	// WaitVisible waits up to timeout for selector to become visible
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// RemoveParent removes the parent of the first element matching selector
	// and reports whether anything was removed.
	RemoveParent(ctx context.Context, selector string) (bool, error)
	Close()
}

// Browser creates sessions
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// BrowserConfig holds Chrome launch settings
type BrowserConfig struct {
	Headless          bool
	UserAgents        []string
	BlockImages       bool
	ProxyServer       string // scheme://host:port, empty for a direct connection
	ProxyUsername     string
	ProxyPassword     string
	NavigationTimeout time.Duration
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

// ChromeBrowser launches a fresh headless Chrome for every session so each
// sweep gets its own user agent and cookie jar.
type ChromeBrowser struct {
	cfg BrowserConfig
}

// NewChromeBrowser creates a browser factory
func NewChromeBrowser(cfg BrowserConfig) *ChromeBrowser {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	return &ChromeBrowser{cfg: cfg}
}

func (b *ChromeBrowser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		// Anti-detection flags
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(b.cfg.UserAgents[rand.Intn(len(b.cfg.UserAgents))]),
	)
	if b.cfg.BlockImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if b.cfg.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(b.cfg.ProxyServer))
	}
	return opts
}

// NewSession launches Chrome, opens a tab and installs the stealth script
func (b *ChromeBrowser) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		tabCtx:  tabCtx,
		timeout: b.cfg.NavigationTimeout,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	setup := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx)
			return err
		}),
	}
	if b.cfg.ProxyUsername != "" {
		listenProxyAuth(tabCtx, b.cfg.ProxyUsername, b.cfg.ProxyPassword)
		setup = append(setup, fetch.Enable().WithHandleAuthRequests(true))
	}

	// The first Run launches Chrome under tabCtx. It must not carry a timeout:
	// cancelling its context would kill the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if err := s.run(setup...); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to prepare browser tab: %w", err)
	}

	return s, nil
}

// listenProxyAuth answers proxy authentication challenges with the configured
// credentials. With fetch enabled every request is paused, so paused requests
// are continued unchanged.
func listenProxyAuth(tabCtx context.Context, username, password string) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(tabCtx, fetch.ContinueRequest(ev.RequestID))
			}()
		case *fetch.EventAuthRequired:
			resp := &fetch.AuthChallengeResponse{Response: fetch.AuthChallengeResponseResponseDefault}
			if ev.AuthChallenge.Source == fetch.AuthChallengeSourceProxy {
				resp = &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
			}
			go func() {
				_ = chromedp.Run(tabCtx, fetch.ContinueWithAuth(ev.RequestID, resp))
			}()
		}
	})
}

type chromeSession struct {
	tabCtx  context.Context
	timeout time.Duration
	cancel  func()
}

func (s *chromeSession) run(actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.tabCtx, s.timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.run(chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (s *chromeSession) Title(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var title string
	err := s.run(chromedp.Title(&title))
	return title, err
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var html string
	if err := s.run(chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

func (s *chromeSession) ScrollToBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.run(chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil))
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *chromeSession) RemoveParent(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el || !el.parentElement) return false;
		el.parentElement.remove();
		return true;
	})()`, quoted)

	var removed bool
	err = s.run(chromedp.Evaluate(js, &removed))
	return removed, err
}

// Close shuts the tab and the browser process
func (s *chromeSession) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}
