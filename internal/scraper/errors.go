package scraper

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

var (
	// ErrStoreUnavailable means the fingerprint store could not be read or
	// written. Without it duplicate output cannot be ruled out, so it is fatal.
	ErrStoreUnavailable = errors.New("fingerprint store unavailable")

	// ErrBrowserUnavailable means a browser session could not be created
	ErrBrowserUnavailable = errors.New("browser session unavailable")

	// ErrBlocked is returned when a page stays blocked past the retry limit
	ErrBlocked = errors.New("blocked by anti-bot protection")

	// ErrMalformedListing marks a results entry that cannot be turned into a candidate
	ErrMalformedListing = errors.New("malformed listing")
)

// IsStop reports whether err is the cooperative stop signal rather than a failure
func IsStop(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsFatal reports whether err must abort the whole crawl
func IsFatal(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrBrowserUnavailable)
}

// sleepCtx pauses for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jitter returns a random duration in [min, max]
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
