package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/pevans/blogmirror/audit"
	"github.com/pevans/blogmirror/config"
	"github.com/pevans/blogmirror/pipeline"
)

// crawlFlags registers the flags shared by crawl and discover, defaulting to
// the loaded config, and returns a function applying them.
func crawlFlags(fs *flag.FlagSet, cfg *config.FileConfig) func() error {
	baseURL := fs.String("base-url", cfg.Blog.BaseURL, "Base URL of the source blog")
	strategy := fs.String("strategy", cfg.Discovery.Strategy, "Discovery strategies: listing, feed, range (comma-separated)")
	maxPages := fs.Int("max-pages", cfg.Discovery.MaxPages, "Maximum listing pages to crawl")
	start := fs.Int("start", cfg.Discovery.Range.Start, "First post ID for range probing")
	end := fs.Int("end", cfg.Discovery.Range.End, "Last post ID for range probing")
	fetcher := fs.String("fetcher", cfg.Crawl.Fetcher, "Page fetcher: http or browser")
	delay := fs.Duration("delay", cfg.Crawl.Delay, "Minimum delay between requests")

	return func() error {
		cfg.Blog.BaseURL = *baseURL
		cfg.Discovery.Strategy = *strategy
		cfg.Discovery.MaxPages = *maxPages
		cfg.Discovery.Range.Start = *start
		cfg.Discovery.Range.End = *end
		cfg.Crawl.Fetcher = *fetcher
		cfg.Crawl.Delay = *delay

		return cfg.Validate()
	}
}

// signalContext is cancelled on SIGINT or SIGTERM, so a run stops between
// candidates.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func handleCrawl(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		return fail("%v", err)
	}

	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	apply := crawlFlags(fs, cfg)
	workers := fs.Int("workers", cfg.Crawl.Workers, "Number of posts processed at once")
	onlyNew := fs.Bool("only-new", cfg.Crawl.OnlyNew, "Skip posts already in the store")
	noAudit := fs.Bool("no-audit", false, "Do not record the run in the audit database")
	verbose := fs.Bool("verbose", false, "Show debug logging")
	fs.Parse(args)

	cfg.Crawl.Workers = *workers
	cfg.Crawl.OnlyNew = *onlyNew
	if err := apply(); err != nil {
		return fail("%v", err)
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	store, err := openStore(cfg, logger)
	if err != nil {
		return fail("%v", err)
	}

	var ledger *audit.Ledger
	if !*noAudit {
		if dir := filepath.Dir(cfg.Storage.AuditDSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail("failed to create audit directory: %v", err)
			}
		}
		ledger, err = audit.Open(cfg.Storage.AuditDSN)
		if err != nil {
			return fail("failed to open audit database: %v", err)
		}
		defer ledger.Close()
	}

	ctx, stop := signalContext()
	defer stop()

	fmt.Printf("Crawling %s (%s)...\n", cfg.Blog.BaseURL, cfg.Discovery.Strategy)

	report, err := pipeline.Run(ctx, pipeline.Options{
		Config: cfg,
		Store:  store,
		Ledger: ledger,
		Logger: logger,
	})

	fmt.Println()
	fmt.Println("Crawl completed:")
	fmt.Printf("  Candidates:    %d\n", report.Discovered)
	fmt.Printf("  Accepted:      %d (created %d, updated %d, unchanged %d)\n",
		report.Crawl.Accepted, report.Created, report.Updated, report.Unchanged)
	fmt.Printf("  Fetch errors:  %d\n", report.Crawl.FetchErrors)
	fmt.Printf("  Thin content:  %d\n", report.Crawl.ThinContent)
	if report.StoreErrs > 0 {
		fmt.Printf("  Store errors:  %d\n", report.StoreErrs)
	}
	if len(report.Crawl.Defaulted) > 0 {
		fields := make([]string, 0, len(report.Crawl.Defaulted))
		for field := range report.Crawl.Defaulted {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		fmt.Println("  Defaulted fields:")
		for _, field := range fields {
			fmt.Printf("    %-10s %d\n", field, report.Crawl.Defaulted[field])
		}
	}
	if ledger != nil {
		fmt.Printf("  Run ID:        %s\n", report.RunID)
	}
	if report.DiscoveryErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: discovery: %v\n", report.DiscoveryErr)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Crawl interrupted; the store is consistent and the crawl can be re-run.")
			return 1
		}
		return fail("crawl failed: %v", err)
	}
	if report.StoreErrs > 0 {
		return 1
	}
	return 0
}

func handleDiscover(args []string) int {
	cfg, err := loadConfig()
	if err != nil {
		return fail("%v", err)
	}

	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	apply := crawlFlags(fs, cfg)
	format := fs.String("format", "table", "Output format: table or json")
	verbose := fs.Bool("verbose", false, "Show debug logging")
	fs.Parse(args)
	if err := apply(); err != nil {
		return fail("%v", err)
	}

	logger, err := newLogger(*verbose)
	if err != nil {
		return fail("%v", err)
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	fetcher, err := pipeline.NewFetcher(ctx, cfg, logger)
	if err != nil {
		return fail("failed to start fetcher: %v", err)
	}
	defer fetcher.Close()

	candidates, err := pipeline.Discover(ctx, cfg, fetcher, logger)
	if err != nil && len(candidates) == 0 {
		return fail("discovery failed: %v", err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: discovery: %v\n", err)
	}

	switch *format {
	case "json":
		if err := printCandidatesJSON(candidates); err != nil {
			return fail("%v", err)
		}
	default:
		printCandidatesTable(candidates)
	}
	return 0
}
