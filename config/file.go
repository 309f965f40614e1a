package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Discovery strategy names.
const (
	StrategyListing = "listing"
	StrategyFeed    = "feed"
	StrategyRange   = "range"
)

// Fetcher names.
const (
	FetcherHTTP    = "http"
	FetcherBrowser = "browser"
)

// BlogConfig describes the source blog.
type BlogConfig struct {
	BaseURL      string   `yaml:"base_url"`
	FeedURL      string   `yaml:"feed_url"`
	PostPatterns []string `yaml:"post_patterns"`
}

// RangeConfig is the numeric ID span probed by the range strategy.
type RangeConfig struct {
	Start     int      `yaml:"start"`
	End       int      `yaml:"end"`
	Templates []string `yaml:"templates"`
}

// DiscoveryConfig selects and tunes the discovery strategies.
type DiscoveryConfig struct {
	// Strategy is one of listing, feed, range; several may be listed
	// comma-separated on the command line.
	Strategy        string      `yaml:"strategy"`
	MaxPages        int         `yaml:"max_pages"`
	MaxPosts        int         `yaml:"max_posts"`
	Range           RangeConfig `yaml:"range"`
	ErrorMarkers    []string    `yaml:"error_markers"`
	ContentSelector string      `yaml:"content_selector"`
}

// CrawlConfig tunes fetching and acceptance.
type CrawlConfig struct {
	Delay            time.Duration `yaml:"delay"`
	Timeout          time.Duration `yaml:"timeout"`
	Workers          int           `yaml:"workers"`
	MinContentLength int           `yaml:"min_content_length"`
	UserAgent        string        `yaml:"user_agent"`
	Fetcher          string        `yaml:"fetcher"`
	BrowserURL       string        `yaml:"browser_url"`
	OnlyNew          bool          `yaml:"only_new"`
}

// StorageConfig locates the store file, the artifact directory and the
// audit ledger.
type StorageConfig struct {
	Index     string `yaml:"index"`
	Artifacts string `yaml:"artifacts"`
	AuditDSN  string `yaml:"audit_dsn"`
}

// RenderConfig selects the page template.
type RenderConfig struct {
	Template string `yaml:"template"`
}

// FileConfig represents the structure of ~/.blogmirror/config.yaml.
type FileConfig struct {
	Blog      BlogConfig      `yaml:"blog"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Storage   StorageConfig   `yaml:"storage"`
	Selectors string          `yaml:"selectors"`
	Render    RenderConfig    `yaml:"render"`
}

// Default returns the configuration used when no file is present.
func Default() *FileConfig {
	return &FileConfig{
		Discovery: DiscoveryConfig{
			Strategy: StrategyListing,
			MaxPages: 50,
			Range: RangeConfig{
				Start: 1,
				End:   100,
			},
		},
		Crawl: CrawlConfig{
			Delay:            2 * time.Second,
			Timeout:          30 * time.Second,
			Workers:          1,
			MinContentLength: 100,
			Fetcher:          FetcherHTTP,
		},
		Storage: StorageConfig{
			Index:     filepath.Join("pages", "blog", "posts.json"),
			Artifacts: filepath.Join("pages", "blog", "posts"),
			AuditDSN:  filepath.Join(".blogmirror", "audit.db"),
		},
	}
}

// DefaultPath returns ~/.blogmirror/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".blogmirror", "config.yaml"), nil
}

// LoadDefault loads ~/.blogmirror/config.yaml.
func LoadDefault() (*FileConfig, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Load reads the config file at path on top of Default(). A missing file is
// not an error and yields the defaults. A file that exists but cannot be
// parsed, or holds invalid values, is an error.
func Load(path string) (*FileConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *FileConfig) Validate() error {
	for _, s := range splitList(c.Discovery.Strategy) {
		switch s {
		case StrategyListing, StrategyFeed, StrategyRange:
		default:
			return fmt.Errorf("unknown discovery strategy %q", s)
		}
	}

	switch c.Crawl.Fetcher {
	case FetcherHTTP, FetcherBrowser:
	default:
		return fmt.Errorf("unknown fetcher %q", c.Crawl.Fetcher)
	}

	if c.Crawl.Delay < 0 {
		return fmt.Errorf("crawl.delay must not be negative")
	}
	if c.Crawl.Timeout <= 0 {
		return fmt.Errorf("crawl.timeout must be positive")
	}
	if c.Crawl.Workers < 1 {
		return fmt.Errorf("crawl.workers must be at least 1")
	}
	if c.Discovery.Range.End < c.Discovery.Range.Start {
		return fmt.Errorf("discovery.range.end must not be below start")
	}

	return nil
}

// Strategies returns the configured discovery strategy names in order.
func (c *FileConfig) Strategies() []string {
	return splitList(c.Discovery.Strategy)
}
