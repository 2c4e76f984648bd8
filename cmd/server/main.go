package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fraud-crawler/internal/api"
	"fraud-crawler/internal/config"
	"fraud-crawler/internal/db"
	"fraud-crawler/internal/logging"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to the YAML settings file")
	addr := flag.String("addr", "", "Address to listen on (overrides settings)")
	dbPath := flag.String("db", "", "Path to the fingerprint database (overrides settings)")
	resultsDir := flag.String("results", "", "Directory with result files (overrides settings)")
	flag.Parse()

	settings, err := config.Read(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		settings.Server.Addr = *addr
	}
	if *dbPath != "" {
		settings.Storage.FingerprintDB = *dbPath
	}
	if *resultsDir != "" {
		settings.Storage.ResultsDir = *resultsDir
	}

	log := logging.New(settings.Log.Level, settings.Log.Format)
	log.WithField("path", settings.Storage.FingerprintDB).Info("Database path")
	log.WithField("path", settings.Storage.ResultsDir).Info("Results directory")

	// Initialize database
	database, err := db.New(settings.Storage.FingerprintDB)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	router := api.NewRouter(database, settings.Storage.ResultsDir, log.WithField("component", "api"))
	srv := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}
