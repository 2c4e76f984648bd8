package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fraud-crawler/internal/models"
	"fraud-crawler/internal/scraper"
)

// Settings mirrors the YAML settings file. Durations are written as Go
// duration strings ("300s", "2m").
type Settings struct {
	ReportID    int64  `yaml:"report_id"`
	BlockMarker string `yaml:"block_marker"`

	Search   SearchSettings   `yaml:"search"`
	Proxy    ProxySettings    `yaml:"proxy"`
	Browser  BrowserSettings  `yaml:"browser"`
	Timing   TimingSettings   `yaml:"timing"`
	Storage  StorageSettings  `yaml:"storage"`
	Server   ServerSettings   `yaml:"server"`
	Log      LogSettings      `yaml:"log"`
	Locators scraper.Locators `yaml:"locators"`
}

// SearchSettings are shared by every configured search URL
type SearchSettings struct {
	URLs         []string `yaml:"urls"`
	Pages        int      `yaml:"pages"`
	MinPrice     int64    `yaml:"min_price"`
	MaxPrice     int64    `yaml:"max_price"`
	Keywords     []string `yaml:"keywords"`
	Blacklist    []string `yaml:"blacklist"`
	Geo          string   `yaml:"geo"`
	MaxViews     int64    `yaml:"max_views"`
	NeedMoreInfo bool     `yaml:"need_more_info"`
}

// ProxySettings configure the upstream proxy and its IP change endpoint
type ProxySettings struct {
	// Address is user:pass@host:port
	Address        string        `yaml:"address"`
	ChangeURL      string        `yaml:"change_url"`
	RotateInterval time.Duration `yaml:"rotate_interval"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type BrowserSettings struct {
	Headless          bool          `yaml:"headless"`
	BlockImages       bool          `yaml:"block_images"`
	UserAgents        []string      `yaml:"user_agents"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

type TimingSettings struct {
	CooldownMin     time.Duration `yaml:"cooldown_min"`
	CooldownMax     time.Duration `yaml:"cooldown_max"`
	PagePauseMin    time.Duration `yaml:"page_pause_min"`
	PagePauseMax    time.Duration `yaml:"page_pause_max"`
	AddressPauseMin time.Duration `yaml:"address_pause_min"`
	AddressPauseMax time.Duration `yaml:"address_pause_max"`
	ScrollPause     time.Duration `yaml:"scroll_pause"`
	ElementWait     time.Duration `yaml:"element_wait"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxBlockRetries int           `yaml:"max_block_retries"`
}

type StorageSettings struct {
	FingerprintDB string `yaml:"fingerprint_db"`
	ResultsDir    string `yaml:"results_dir"`
	ClientsDSN    string `yaml:"clients_dsn"`
}

type ServerSettings struct {
	Addr string `yaml:"addr"`
}

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the resolved configuration handed to the commands
type Config struct {
	Scraper scraper.Config
	Browser scraper.BrowserConfig
	Backoff scraper.BackoffConfig

	DBPath     string
	ClientsDSN string
	ServerAddr string

	RestartDelay  time.Duration
	SweepInterval time.Duration

	LogLevel  string
	LogFormat string

	// Warnings are non-fatal problems found while loading
	Warnings []string
}

// Defaults returns the settings used when neither the file nor the
// environment provide a value.
func Defaults() Settings {
	sc := scraper.DefaultConfig()
	bc := scraper.DefaultBackoffConfig()
	return Settings{
		BlockMarker: sc.BlockMarker,
		Search: SearchSettings{
			Pages:        sc.MaxPages,
			MinPrice:     0,
			MaxPrice:     9999999999,
			NeedMoreInfo: true,
		},
		Proxy: ProxySettings{
			RotateInterval: bc.RotateInterval,
			RetryDelay:     bc.RetryDelay,
			RequestTimeout: bc.RequestTimeout,
		},
		Browser: BrowserSettings{
			Headless:          true,
			BlockImages:       true,
			NavigationTimeout: 60 * time.Second,
		},
		Timing: TimingSettings{
			CooldownMin:     bc.CooldownMin,
			CooldownMax:     bc.CooldownMax,
			PagePauseMin:    sc.PagePauseMin,
			PagePauseMax:    sc.PagePauseMax,
			AddressPauseMin: sc.AddressPauseMin,
			AddressPauseMax: sc.AddressPauseMax,
			ScrollPause:     sc.ScrollPause,
			ElementWait:     sc.ElementWait,
			RestartDelay:    30 * time.Second,
			SweepInterval:   10 * time.Minute,
		},
		Storage: StorageSettings{
			FingerprintDB: "data/fingerprints.db",
			ResultsDir:    sc.ResultsDir,
		},
		Server: ServerSettings{Addr: ":8080"},
		Log:    LogSettings{Level: "info", Format: "text"},
	}
}

// Load reads the settings file at path (optional when empty), applies
// environment overrides and validates the result for crawling.
func Load(path string) (*Config, error) {
	s, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s.Resolve(), nil
}

// Read returns the defaults overlaid with the settings file and the
// environment, without validation. Commands that never crawl use it to
// locate storage.
func Read(path string) (Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read settings: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return Settings{}, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	}

	applyEnv(&s)
	return s, nil
}

func applyEnv(s *Settings) {
	s.Proxy.Address = envOr("CRAWLER_PROXY", s.Proxy.Address)
	s.Proxy.ChangeURL = envOr("CRAWLER_PROXY_CHANGE_URL", s.Proxy.ChangeURL)
	s.Storage.ClientsDSN = envOr("CRAWLER_CLIENTS_DSN", s.Storage.ClientsDSN)
	s.Storage.FingerprintDB = envOr("CRAWLER_DB", s.Storage.FingerprintDB)
	s.Storage.ResultsDir = envOr("CRAWLER_RESULTS_DIR", s.Storage.ResultsDir)
	s.ReportID = envInt64Or("CRAWLER_REPORT_ID", s.ReportID)
	s.Browser.Headless = envBoolOr("CRAWLER_HEADLESS", s.Browser.Headless)
	s.Server.Addr = envOr("CRAWLER_API_ADDR", s.Server.Addr)
	s.Log.Level = envOr("CRAWLER_LOG_LEVEL", s.Log.Level)
	s.Log.Format = envOr("CRAWLER_LOG_FORMAT", s.Log.Format)
	s.Search.URLs = envSliceOr("CRAWLER_URLS", s.Search.URLs)
}

// ErrNoClientsDSN means a report was selected without a client database to
// load its addresses from
var ErrNoClientsDSN = errors.New("report_id requires clients_dsn")

// CheckClients repeats the report/DSN check after command line overrides
func (c *Config) CheckClients() error {
	if c.Scraper.ReportID != 0 && c.ClientsDSN == "" {
		return ErrNoClientsDSN
	}
	return nil
}

// Validate checks the settings for values the crawler cannot run with
func (s Settings) Validate() error {
	var problems []string

	if len(s.Search.URLs) == 0 {
		problems = append(problems, "at least one search url is required")
	}
	for _, u := range s.Search.URLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			problems = append(problems, fmt.Sprintf("search url %q is not absolute", u))
		}
	}
	if s.Search.MinPrice < 0 || s.Search.MinPrice > s.Search.MaxPrice {
		problems = append(problems, fmt.Sprintf("invalid price range [%d, %d]", s.Search.MinPrice, s.Search.MaxPrice))
	}
	if s.Search.Pages <= 0 {
		problems = append(problems, "pages must be positive")
	}
	if s.Search.MaxViews < 0 {
		problems = append(problems, "max_views must not be negative")
	}
	if s.ReportID != 0 && s.Storage.ClientsDSN == "" {
		problems = append(problems, ErrNoClientsDSN.Error())
	}
	if s.Timing.CooldownMin > s.Timing.CooldownMax {
		problems = append(problems, "cooldown_min exceeds cooldown_max")
	}
	if s.Timing.PagePauseMin > s.Timing.PagePauseMax {
		problems = append(problems, "page_pause_min exceeds page_pause_max")
	}
	if s.Timing.AddressPauseMin > s.Timing.AddressPauseMax {
		problems = append(problems, "address_pause_min exceeds address_pause_max")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Resolve turns validated settings into component configuration
func (s Settings) Resolve() *Config {
	cfg := &Config{
		DBPath:        s.Storage.FingerprintDB,
		ClientsDSN:    s.Storage.ClientsDSN,
		ServerAddr:    s.Server.Addr,
		RestartDelay:  s.Timing.RestartDelay,
		SweepInterval: s.Timing.SweepInterval,
		LogLevel:      s.Log.Level,
		LogFormat:     s.Log.Format,
	}

	sc := scraper.DefaultConfig()
	sc.MaxPages = s.Search.Pages
	sc.ReportID = s.ReportID
	sc.NeedMoreInfo = s.Search.NeedMoreInfo
	sc.ResultsDir = s.Storage.ResultsDir
	sc.ElementWait = s.Timing.ElementWait
	sc.ScrollPause = s.Timing.ScrollPause
	sc.PagePauseMin = s.Timing.PagePauseMin
	sc.PagePauseMax = s.Timing.PagePauseMax
	sc.AddressPauseMin = s.Timing.AddressPauseMin
	sc.AddressPauseMax = s.Timing.AddressPauseMax
	sc.MaxBlockRetries = s.Timing.MaxBlockRetries
	sc.Locators = s.Locators.WithDefaults()
	if s.BlockMarker != "" {
		sc.BlockMarker = s.BlockMarker
	}
	for _, u := range s.Search.URLs {
		sc.Targets = append(sc.Targets, models.SearchTarget{
			URL:       u,
			MinPrice:  s.Search.MinPrice,
			MaxPrice:  s.Search.MaxPrice,
			Keywords:  s.Search.Keywords,
			Blacklist: s.Search.Blacklist,
			Geo:       s.Search.Geo,
			MaxViews:  s.Search.MaxViews,
		})
	}
	cfg.Scraper = sc

	cfg.Browser = scraper.BrowserConfig{
		Headless:          s.Browser.Headless,
		UserAgents:        s.Browser.UserAgents,
		BlockImages:       s.Browser.BlockImages,
		NavigationTimeout: s.Browser.NavigationTimeout,
	}
	cfg.Backoff = scraper.BackoffConfig{
		RotateURL:      s.Proxy.ChangeURL,
		RotateInterval: s.Proxy.RotateInterval,
		RetryDelay:     s.Proxy.RetryDelay,
		RequestTimeout: s.Proxy.RequestTimeout,
		CooldownMin:    s.Timing.CooldownMin,
		CooldownMax:    s.Timing.CooldownMax,
	}

	if s.Proxy.Address != "" {
		p, err := ParseProxy(s.Proxy.Address)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("proxy ignored: %v", err))
		} else {
			cfg.Browser.ProxyServer = p.Server()
			cfg.Browser.ProxyUsername = p.Username
			cfg.Browser.ProxyPassword = p.Password
			cfg.Backoff.UseProxy = true
		}
	}
	if cfg.Backoff.UseProxy && cfg.Backoff.RotateURL == "" {
		cfg.Warnings = append(cfg.Warnings, "proxy configured without change_url, blocks will be waited out")
	}

	return cfg
}

// Proxy is a parsed user:pass@host:port proxy address
type Proxy struct {
	Username string
	Password string
	Host     string
	Port     int
}

// Server returns the proxy address in the form Chrome expects
func (p Proxy) Server() string {
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// ParseProxy parses user:pass@host:port
func ParseProxy(raw string) (Proxy, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "http://")

	creds, hostPort, ok := strings.Cut(raw, "@")
	if !ok {
		return Proxy{}, fmt.Errorf("%q is not in user:pass@host:port form", raw)
	}
	user, pass, ok := strings.Cut(creds, ":")
	if !ok || user == "" || pass == "" {
		return Proxy{}, fmt.Errorf("%q has no user:pass credentials", raw)
	}
	host, portStr, ok := strings.Cut(hostPort, ":")
	if !ok || host == "" {
		return Proxy{}, fmt.Errorf("%q has no host:port", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Proxy{}, fmt.Errorf("%q has an invalid port", raw)
	}

	return Proxy{Username: user, Password: pass, Host: host, Port: port}, nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
