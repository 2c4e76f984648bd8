package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Backoffer is called when the marketplace serves its block page. It returns
// once the caller may retry the same step.
type Backoffer interface {
	Backoff(ctx context.Context) error
}

// BackoffConfig selects and tunes the backoff strategy
type BackoffConfig struct {
	// RotateURL is the proxy provider's IP change endpoint. Rotation is used
	// only when both a proxy and this URL are configured.
	RotateURL      string
	UseProxy       bool
	RotateInterval time.Duration // minimum time between two rotations
	RetryDelay     time.Duration // pause between failed rotation attempts
	RequestTimeout time.Duration
	CooldownMin    time.Duration
	CooldownMax    time.Duration
}

// DefaultBackoffConfig returns the production timings
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		RotateInterval: 300 * time.Second,
		RetryDelay:     10 * time.Second,
		RequestTimeout: 30 * time.Second,
		CooldownMin:    300 * time.Second,
		CooldownMax:    350 * time.Second,
	}
}

// Controller rotates the proxy IP when one is configured and otherwise sleeps
// through a randomized cooldown.
type Controller struct {
	rotator     *Rotator
	cooldownMin time.Duration
	cooldownMax time.Duration
	log         *logrus.Entry
}

// NewController builds the controller for cfg
func NewController(cfg BackoffConfig, log *logrus.Entry) *Controller {
	c := &Controller{
		cooldownMin: cfg.CooldownMin,
		cooldownMax: cfg.CooldownMax,
		log:         log,
	}
	if cfg.UseProxy && cfg.RotateURL != "" {
		c.rotator = NewRotator(cfg.RotateURL, cfg.RotateInterval, cfg.RetryDelay, cfg.RequestTimeout, log)
	}
	return c
}

// Backoff implements Backoffer
func (c *Controller) Backoff(ctx context.Context) error {
	if c.rotator != nil {
		c.log.Warn("IP block detected, rotating proxy")
		return c.rotator.Rotate(ctx)
	}

	pause := jitter(c.cooldownMin, c.cooldownMax)
	c.log.WithField("pause", pause.Round(time.Second)).Warn("IP block detected and no proxy configured, cooling down")
	return sleepCtx(ctx, pause)
}

// Rotator calls the proxy provider's IP change endpoint, never more often
// than once per interval.
type Rotator struct {
	endpoint   string
	client     *http.Client
	limiter    *rate.Limiter
	retryDelay time.Duration
	log        *logrus.Entry

	// sem serializes rotations so a waiting caller sees the previous change
	sem chan struct{}

	mu        sync.Mutex
	rotations int
}

type rotateResponse struct {
	Status  string `json:"status"`
	IP      string `json:"ip"`
	Message string `json:"message"`
}

// NewRotator creates a rotator. The first rotation is allowed immediately.
func NewRotator(endpoint string, interval, retryDelay, timeout time.Duration, log *logrus.Entry) *Rotator {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Rotator{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		retryDelay: retryDelay,
		log:        log,
		sem:        make(chan struct{}, 1),
	}
}

// Rotations returns the number of successful rotations so far
func (r *Rotator) Rotations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotations
}

// Rotate waits until the minimum interval has passed since the last
// successful IP change, then requests a new IP, retrying every retryDelay
// until the provider confirms. Only ctx ends the retry loop.
func (r *Rotator) Rotate(ctx context.Context) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.sem }()

	for wait := r.untilNext(); wait > 0; wait = r.untilNext() {
		r.log.WithField("wait", wait.Round(time.Second)).Info("Waiting before next IP change")
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	for {
		ip, err := r.rotateOnce(ctx)
		if err == nil {
			// The interval runs from the confirmed change
			r.limiter.Allow()
			r.mu.Lock()
			r.rotations++
			r.mu.Unlock()
			r.log.WithField("ip", ip).Info("IP changed")
			return nil
		}
		if IsStop(err) {
			return err
		}

		r.log.WithError(err).WithField("retry_in", r.retryDelay).Error("IP change failed")
		if err := sleepCtx(ctx, r.retryDelay); err != nil {
			return err
		}
	}
}

// untilNext returns how long until the limiter grants the next rotation
func (r *Rotator) untilNext() time.Duration {
	tokens := r.limiter.Tokens()
	if tokens >= 1 {
		return 0
	}
	missing := (1 - tokens) / float64(r.limiter.Limit())
	return time.Duration(missing*float64(time.Second)) + time.Millisecond
}

func (r *Rotator) rotateOnce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgents[0])

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var result rotateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Status != "success" {
		msg := result.Message
		if msg == "" {
			msg = "unknown error"
		}
		return "", fmt.Errorf("provider returned status %q: %s", result.Status, msg)
	}

	ip := result.IP
	if ip == "" {
		ip = "unknown"
	}
	return ip, nil
}
