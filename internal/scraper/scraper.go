package scraper

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"fraud-crawler/internal/models"
)

// Config holds crawl settings
type Config struct {
	Targets      []models.SearchTarget
	MaxPages     int
	ReportID     int64 // selects the client addresses; 0 runs unscoped sweeps only
	NeedMoreInfo bool  // open detail pages for survivors
	BlockMarker  string
	ResultsDir   string

	ElementWait     time.Duration
	ScrollPause     time.Duration
	PagePauseMin    time.Duration
	PagePauseMax    time.Duration
	AddressPauseMin time.Duration
	AddressPauseMax time.Duration

	// MaxBlockRetries caps consecutive blocks on one page; 0 retries until stopped
	MaxBlockRetries int

	Locators Locators
}

// DefaultConfig returns default crawl settings
func DefaultConfig() Config {
	return Config{
		MaxPages:        5,
		NeedMoreInfo:    true,
		BlockMarker:     "Доступ ограничен",
		ResultsDir:      "results",
		ElementWait:     10 * time.Second,
		ScrollPause:     1 * time.Second,
		PagePauseMin:    2 * time.Second,
		PagePauseMax:    4 * time.Second,
		AddressPauseMin: 5 * time.Second,
		AddressPauseMax: 10 * time.Second,
		Locators:        DefaultLocators(),
	}
}

// FingerprintStore is the durable (listing id, price) set
type FingerprintStore interface {
	Exists(ctx context.Context, listingID, price int64) (bool, error)
	Record(ctx context.Context, listingID, price int64) error
}

// ClientStore is the external client database
type ClientStore interface {
	LoadAddresses(ctx context.Context, reportID int64) ([]models.AddressTask, error)
	RecordMatch(ctx context.Context, clientID int64, listingURL string) error
}

// Sink receives the listings that survived every filter
type Sink interface {
	Append(ctx context.Context, p models.Persistable) error
}

// Deps are the collaborators of a Scraper. Clients may be nil only when no
// report is selected.
type Deps struct {
	Browser Browser
	Store   FingerprintStore
	Clients ClientStore
	Backoff Backoffer
	Log     *logrus.Entry
}

// Scraper runs address-scoped or global sweeps over the configured targets
type Scraper struct {
	config  Config
	deps    Deps
	nav     *Navigator
	guard   *guard
	log     *logrus.Entry
	summary SweepStats
}

// New creates a new Scraper instance
func New(config Config, deps Deps) (*Scraper, error) {
	if len(config.Targets) == 0 {
		return nil, errors.New("no search targets configured")
	}
	if deps.Browser == nil || deps.Store == nil || deps.Backoff == nil {
		return nil, errors.New("browser, fingerprint store and backoff are required")
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 1
	}
	config.Locators = config.Locators.WithDefaults()

	g := &guard{
		marker:     config.BlockMarker,
		backoff:    deps.Backoff,
		maxRetries: config.MaxBlockRetries,
		log:        deps.Log,
	}

	return &Scraper{
		config: config,
		deps:   deps,
		guard:  g,
		nav: &Navigator{
			browser:      deps.Browser,
			guard:        g,
			maxPages:     config.MaxPages,
			scrollPause:  config.ScrollPause,
			pagePauseMin: config.PagePauseMin,
			pagePauseMax: config.PagePauseMax,
			log:          deps.Log,
		},
		log: deps.Log,
	}, nil
}

// Summary returns the counters accumulated over every sweep of the last Run
func (s *Scraper) Summary() SweepStats {
	return s.summary
}

// Run executes one crawl. Without client addresses a single unscoped sweep
// covers every target; otherwise each address gets its own sweeps and result
// file. Only fatal errors are returned; a stop request returns nil.
func (s *Scraper) Run(ctx context.Context) error {
	s.log.Info("Starting crawl...")
	startTime := time.Now()
	s.summary = SweepStats{}

	tasks, err := s.loadAddresses(ctx)
	if err != nil {
		return stopOrErr(err)
	}

	if len(tasks) == 0 {
		sink, err := NewCSVSink(filepath.Join(s.config.ResultsDir, GlobalResultName(s.config.Targets[0].Keywords)), s.deps.Store)
		if err != nil {
			return err
		}
		if err := s.sweepTargets(ctx, nil, sink); err != nil {
			return stopOrErr(err)
		}
	} else {
		s.log.WithField("addresses", len(tasks)).Info("Loaded client addresses")
		if err := s.sweepAddresses(ctx, tasks); err != nil {
			return stopOrErr(err)
		}
	}

	if ctx.Err() != nil {
		s.log.Info("Stop requested, crawl ended early")
		return nil
	}

	s.log.WithFields(logrus.Fields{
		"pages":     s.summary.Pages,
		"persisted": s.summary.Persisted,
		"matches":   s.summary.Matches,
		"duration":  time.Since(startTime).Round(time.Second),
	}).Info("Crawl complete")
	return nil
}

func (s *Scraper) loadAddresses(ctx context.Context) ([]models.AddressTask, error) {
	if s.config.ReportID == 0 {
		return nil, nil
	}
	if s.deps.Clients == nil {
		return nil, fmt.Errorf("report %d selected but no client store is configured", s.config.ReportID)
	}
	tasks, err := s.deps.Clients.LoadAddresses(ctx, s.config.ReportID)
	if err != nil {
		return nil, fmt.Errorf("failed to load addresses for report %d: %w", s.config.ReportID, err)
	}
	return tasks, nil
}

func (s *Scraper) sweepAddresses(ctx context.Context, tasks []models.AddressTask) error {
	for i, task := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i > 0 {
			if err := sleepCtx(ctx, jitter(s.config.AddressPauseMin, s.config.AddressPauseMax)); err != nil {
				return err
			}
		}

		log := s.log.WithFields(logrus.Fields{"client_id": task.ClientID, "address": task.Address})
		log.Info("Starting address sweep")

		name := AddressResultName(s.config.ReportID, task.Address)
		sink, err := NewCSVSink(filepath.Join(s.config.ResultsDir, name), s.deps.Store)
		if err == nil {
			err = s.sweepTargets(ctx, &task, sink)
		}
		switch {
		case err == nil:
			log.WithField("written", sink.Written()).Info("Address sweep complete")
		case IsStop(err), IsFatal(err):
			return err
		default:
			log.WithError(err).Error("Address sweep failed")
		}
	}
	return nil
}

// sweepTargets runs one sweep per target into sink. A failed target is logged
// and the next one proceeds; stop and fatal errors are returned.
func (s *Scraper) sweepTargets(ctx context.Context, scope *models.AddressTask, sink Sink) error {
	for _, target := range s.config.Targets {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		startURL := target.URL
		if scope != nil {
			var err error
			if startURL, err = AddressURL(target.URL, scope.Address); err != nil {
				return err
			}
		}

		log := s.log.WithField("target", target.URL)
		if scope != nil {
			log = log.WithField("address", scope.Address)
		}

		ext := &Extractor{
			target:       target,
			scope:        scope,
			store:        s.deps.Store,
			clients:      s.deps.Clients,
			sink:         sink,
			guard:        s.guard,
			loc:          s.config.Locators,
			needMoreInfo: s.config.NeedMoreInfo,
			elementWait:  s.config.ElementWait,
			log:          log,
		}

		err := s.nav.Sweep(ctx, startURL, ext)
		s.addStats(ext.Stats())
		switch {
		case err == nil:
			st := ext.Stats()
			log.WithFields(logrus.Fields{
				"pages":      st.Pages,
				"candidates": st.Candidates,
				"duplicates": st.Duplicates,
				"filtered":   st.Filtered,
				"persisted":  st.Persisted,
			}).Info("Sweep finished")
		case IsFatal(err):
			return err
		default:
			log.WithError(err).Error("Sweep failed")
		}
	}
	return nil
}

func (s *Scraper) addStats(st SweepStats) {
	s.summary.Pages += st.Pages
	s.summary.Candidates += st.Candidates
	s.summary.Skipped += st.Skipped
	s.summary.Duplicates += st.Duplicates
	s.summary.Filtered += st.Filtered
	s.summary.Discarded += st.Discarded
	s.summary.Unenriched += st.Unenriched
	s.summary.Persisted += st.Persisted
	s.summary.Matches += st.Matches
}
