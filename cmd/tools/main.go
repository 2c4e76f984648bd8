package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"fraud-crawler/internal/clients"
	"fraud-crawler/internal/config"
	"fraud-crawler/internal/db"
	"fraud-crawler/internal/logging"
)

var log *logrus.Logger

func main() {
	// Sub-commands
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	os.Args = os.Args[1:] // Shift args for flag parsing

	log = logging.New("info", "text")

	switch cmd {
	case "seen":
		checkSeen()
	case "mark":
		markSeen()
	case "addresses":
		listAddresses()
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: tools <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  seen       Show whether a listing (and optionally a price) was processed")
	fmt.Println("  mark       Record a listing price so the crawler skips it")
	fmt.Println("  addresses  List the client addresses a report would sweep")
}

// loadSettings reads the settings file named by -config, if any
func loadSettings(path string) config.Settings {
	s, err := config.Read(path)
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	return s
}

func openDB(configPath, dbPath string) *db.DB {
	if dbPath == "" {
		dbPath = loadSettings(configPath).Storage.FingerprintDB
	}
	database, err := db.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	return database
}

func checkSeen() {
	configPath := flag.String("config", "", "Path to the YAML settings file")
	dbPath := flag.String("db", "", "Fingerprint database path (overrides settings)")
	id := flag.Int64("id", 0, "Listing ID")
	price := flag.Int64("price", -1, "Listing price; omit to list every recorded price")
	flag.Parse()

	if *id <= 0 {
		log.Fatal("-id is required")
	}

	database := openDB(*configPath, *dbPath)
	defer database.Close()
	ctx := context.Background()

	if *price >= 0 {
		seen, err := database.Exists(ctx, *id, *price)
		if err != nil {
			log.Fatalf("Lookup failed: %v", err)
		}
		fmt.Printf("%d@%d seen: %v\n", *id, *price, seen)
		return
	}

	fps, err := database.PricesSeen(ctx, *id)
	if err != nil {
		log.Fatalf("Lookup failed: %v", err)
	}
	if len(fps) == 0 {
		fmt.Printf("%d has not been processed\n", *id)
		return
	}
	for _, fp := range fps {
		fmt.Printf("%s\t%s\n", fp, fp.SeenAt.Format(time.RFC3339))
	}
}

func markSeen() {
	configPath := flag.String("config", "", "Path to the YAML settings file")
	dbPath := flag.String("db", "", "Fingerprint database path (overrides settings)")
	id := flag.Int64("id", 0, "Listing ID")
	price := flag.Int64("price", -1, "Listing price")
	flag.Parse()

	if *id <= 0 || *price < 0 {
		log.Fatal("-id and -price are required")
	}

	database := openDB(*configPath, *dbPath)
	defer database.Close()

	if err := database.Record(context.Background(), *id, *price); err != nil {
		log.Fatalf("Failed to record fingerprint: %v", err)
	}
	log.Infof("Recorded %d@%d", *id, *price)
}

func listAddresses() {
	configPath := flag.String("config", "", "Path to the YAML settings file")
	dsn := flag.String("dsn", "", "Client database DSN (overrides settings)")
	reportID := flag.Int64("report", 0, "Report ID (overrides settings)")
	flag.Parse()

	settings := loadSettings(*configPath)
	if *dsn == "" {
		*dsn = settings.Storage.ClientsDSN
	}
	if *reportID == 0 {
		*reportID = settings.ReportID
	}
	if *dsn == "" || *reportID == 0 {
		log.Fatal("a client DSN and a report ID are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := clients.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer store.Close()

	tasks, err := store.LoadAddresses(ctx, *reportID)
	if err != nil {
		log.Fatalf("Failed to load addresses: %v", err)
	}
	for _, t := range tasks {
		fmt.Printf("%d\t%s\n", t.ClientID, t.Address)
	}
	log.Infof("%d addresses for report %d", len(tasks), *reportID)
}
