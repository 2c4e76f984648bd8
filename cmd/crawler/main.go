package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fraud-crawler/internal/clients"
	"fraud-crawler/internal/config"
	"fraud-crawler/internal/db"
	"fraud-crawler/internal/logging"
	"fraud-crawler/internal/scraper"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "crawler.yaml", "Path to the YAML settings file")
	reportID := flag.Int64("report", 0, "Report whose client addresses are swept (overrides settings)")
	dbPath := flag.String("db", "", "Path to the fingerprint database (overrides settings)")
	resultsDir := flag.String("results", "", "Directory for result files (overrides settings)")
	headless := flag.Bool("headless", true, "Run browser in headless mode (set false to see browser)")
	maxPages := flag.Int("pages", 0, "Maximum result pages per sweep (overrides settings)")
	once := flag.Bool("once", false, "Run a single crawl and exit")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	// Explicit flags win over the file and the environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "report":
			cfg.Scraper.ReportID = *reportID
		case "db":
			cfg.DBPath = *dbPath
		case "results":
			cfg.Scraper.ResultsDir = *resultsDir
		case "headless":
			cfg.Browser.Headless = *headless
		case "pages":
			if *maxPages > 0 {
				cfg.Scraper.MaxPages = *maxPages
			}
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.CheckClients(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings {
		log.Warn(w)
	}

	log.WithField("path", cfg.DBPath).Info("Using fingerprint database")
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received interrupt signal, stopping after the current step...")
		cancel()
	}()

	w := &worker{
		cfg:     cfg,
		store:   database,
		browser: scraper.NewChromeBrowser(cfg.Browser),
		backoff: scraper.NewController(cfg.Backoff, log.WithField("component", "backoff")),
		log:     logrus.NewEntry(log),
	}
	w.loop(ctx, *once)
}

// worker runs crawls until stopped, restarting after failures
type worker struct {
	cfg     *config.Config
	store   *db.DB
	browser *scraper.ChromeBrowser
	backoff *scraper.Controller
	log     *logrus.Entry
}

func (w *worker) loop(ctx context.Context, once bool) {
	for {
		startTime := time.Now()
		err := w.crawl(ctx)

		if ctx.Err() != nil {
			w.log.Info("Crawler stopped")
			return
		}

		pause := w.cfg.SweepInterval
		if err != nil {
			w.log.WithError(err).WithField("restart_in", w.cfg.RestartDelay).Error("Crawl failed")
			pause = w.cfg.RestartDelay
		} else {
			w.log.WithField("duration", time.Since(startTime).Round(time.Second)).Info("Crawl completed")
			if once {
				return
			}
		}

		select {
		case <-ctx.Done():
			w.log.Info("Crawler stopped")
			return
		case <-time.After(pause):
		}
	}
}

// crawl runs one full crawl with a fresh client store connection
func (w *worker) crawl(ctx context.Context) error {
	deps := scraper.Deps{
		Browser: w.browser,
		Store:   w.store,
		Backoff: w.backoff,
		Log:     w.log.WithField("component", "crawler"),
	}

	if w.cfg.ClientsDSN != "" && w.cfg.Scraper.ReportID != 0 {
		store, err := clients.New(ctx, w.cfg.ClientsDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		deps.Clients = store
	}

	s, err := scraper.New(w.cfg.Scraper, deps)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
