// Package pipeline wires discovery, crawling and the post store into one
// run: discover candidates, crawl each one, upsert every accepted post.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pevans/blogmirror/archive"
	"github.com/pevans/blogmirror/audit"
	"github.com/pevans/blogmirror/config"
	"github.com/pevans/blogmirror/crawler"
	"github.com/pevans/blogmirror/discovery"
	"github.com/pevans/blogmirror/fetch"
	"github.com/pevans/blogmirror/logging"
	"github.com/pevans/blogmirror/selector"
)

// Options configures a run. Only Config and Store are required.
type Options struct {
	Config *config.FileConfig
	Store  *archive.Store

	// Fetcher overrides the fetcher built from Config. The run does not
	// close a fetcher it was given.
	Fetcher fetch.Fetcher

	// Chains overrides the chains loaded from Config.Selectors.
	Chains *selector.Chains

	// Ledger, when set, receives one run with every candidate outcome.
	Ledger *audit.Ledger

	Logger logging.Logger
	Now    func() time.Time
}

// Report summarises a run.
type Report struct {
	RunID      uuid.UUID
	Discovered int
	Crawl      crawler.Summary
	Created    int
	Updated    int
	Unchanged  int
	StoreErrs  int

	// DiscoveryErr holds strategy failures that did not stop the run.
	DiscoveryErr error
}

// Run executes one full campaign. Per-candidate failures never abort it;
// the returned error is set only when nothing could be attempted or the
// run was cancelled.
func Run(ctx context.Context, opts Options) (Report, error) {
	var report Report
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg := opts.Config
	if cfg == nil || opts.Store == nil {
		return report, errors.New("pipeline: config and store are required")
	}

	chains := opts.Chains
	if chains == nil {
		var err error
		chains, err = selector.Load(cfg.Selectors)
		if err != nil {
			return report, err
		}
	}

	pacer := fetch.NewPacer(cfg.Crawl.Delay)
	fetcher := opts.Fetcher
	if fetcher == nil {
		var err error
		fetcher, err = NewFetcher(ctx, cfg, logger)
		if err != nil {
			return report, err
		}
		defer func() {
			if err := fetcher.Close(); err != nil {
				logger.Warn("Failed to close fetcher", logging.Err(err))
			}
		}()
	}
	paced := fetch.Paced(fetcher, pacer)

	strategies, err := Strategies(cfg, paced, pacer, logger)
	if err != nil {
		return report, err
	}

	seen := discovery.NewSeen()
	if cfg.Crawl.OnlyNew {
		seen = discovery.NewSeen(opts.Store.OriginalURLs()...)
	}

	candidates, discErr := discovery.Run(ctx, strategies, seen, logger)
	report.Discovered = len(candidates)
	report.DiscoveryErr = discErr
	if err := ctx.Err(); err != nil {
		return report, err
	}
	logger.Info("Discovery finished",
		logging.Int("candidates", len(candidates)),
		logging.String("strategies", cfg.Discovery.Strategy),
	)

	var run *audit.Run
	if opts.Ledger != nil {
		run, err = opts.Ledger.StartRun(cfg.Discovery.Strategy)
		if err != nil {
			return report, err
		}
		report.RunID = run.RunID
	}

	c := crawler.New(crawler.Config{
		Fetcher:          paced,
		Chains:           chains,
		MinContentLength: cfg.Crawl.MinContentLength,
		Workers:          cfg.Crawl.Workers,
		Now:              opts.Now,
		Logger:           logger,
	})

	summary, runErr := c.Run(ctx, candidates, func(o crawler.Outcome) error {
		rec := audit.Record{
			URL:       o.Candidate.URL,
			Defaulted: o.Defaulted,
		}

		if o.State == crawler.Accepted {
			post, change, err := opts.Store.Upsert(o.Post)
			rec.Outcome = audit.OutcomeAccepted
			if err != nil {
				report.StoreErrs++
				rec.Detail = err.Error()
				logger.Error("Failed to store post",
					logging.String("url", o.Candidate.URL),
					logging.Err(err),
				)
			} else {
				rec.Filename = post.Filename
				rec.Change = change.String()
				switch change {
				case archive.Created:
					report.Created++
				case archive.Updated:
					report.Updated++
				default:
					report.Unchanged++
				}
			}
		} else {
			rec.Outcome = string(o.Reason())
			if o.Err != nil {
				rec.Detail = o.Err.Error()
			}
		}

		if run != nil {
			rec.RunID = run.RunID
			if err := opts.Ledger.Record(rec); err != nil {
				logger.Warn("Failed to record audit entry", logging.String("url", rec.URL), logging.Err(err))
			}
		}
		return nil
	})
	report.Crawl = summary

	if run != nil {
		if err := opts.Ledger.FinishRun(run.RunID, runErr); err != nil {
			logger.Warn("Failed to finish audit run", logging.Err(err))
		}
	}

	logger.Info("Run finished",
		logging.Int("accepted", summary.Accepted),
		logging.Int("fetch_errors", summary.FetchErrors),
		logging.Int("thin_content", summary.ThinContent),
		logging.Int("created", report.Created),
		logging.Int("updated", report.Updated),
		logging.Int("unchanged", report.Unchanged),
	)
	return report, runErr
}

// Discover runs only the discovery stage.
func Discover(ctx context.Context, cfg *config.FileConfig, fetcher fetch.Fetcher, logger logging.Logger) ([]discovery.Candidate, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	pacer := fetch.NewPacer(cfg.Crawl.Delay)
	strategies, err := Strategies(cfg, fetch.Paced(fetcher, pacer), pacer, logger)
	if err != nil {
		return nil, err
	}
	return discovery.Run(ctx, strategies, discovery.NewSeen(), logger)
}

// NewFetcher builds the fetcher named by cfg.Crawl.Fetcher. The caller owns
// it and must Close it.
func NewFetcher(ctx context.Context, cfg *config.FileConfig, logger logging.Logger) (fetch.Fetcher, error) {
	switch cfg.Crawl.Fetcher {
	case config.FetcherBrowser:
		browser, err := fetch.NewBrowser(ctx, fetch.BrowserConfig{
			RemoteURL: cfg.Crawl.BrowserURL,
			Timeout:   cfg.Crawl.Timeout,
			UserAgent: cfg.Crawl.UserAgent,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return browser, nil
	case config.FetcherHTTP, "":
		return fetch.NewHTTP(cfg.Crawl.Timeout, cfg.Crawl.UserAgent), nil
	default:
		return nil, fmt.Errorf("unknown fetcher %q", cfg.Crawl.Fetcher)
	}
}

// Strategies builds the configured discovery strategies, all sharing
// fetcher and pacer.
func Strategies(cfg *config.FileConfig, fetcher fetch.Fetcher, pacer *fetch.Pacer, logger logging.Logger) ([]discovery.Strategy, error) {
	base := strings.TrimRight(cfg.Blog.BaseURL, "/")
	if base == "" {
		return nil, errors.New("blog.base_url is not set")
	}

	patterns, err := compilePatterns(cfg.Blog.PostPatterns)
	if err != nil {
		return nil, err
	}

	var strategies []discovery.Strategy
	for _, name := range cfg.Strategies() {
		switch name {
		case config.StrategyListing:
			strategies = append(strategies, &discovery.Listing{
				Fetcher:  fetcher,
				BaseURL:  base,
				Patterns: patterns,
				MaxPages: cfg.Discovery.MaxPages,
				Logger:   logger,
			})
		case config.StrategyFeed:
			feedURL := cfg.Blog.FeedURL
			if feedURL == "" {
				feedURL = base + "/rss"
			}
			feed := &discovery.Feed{
				URL:       feedURL,
				Client:    &http.Client{Timeout: cfg.Crawl.Timeout},
				UserAgent: cfg.Crawl.UserAgent,
				Pacer:     pacer,
			}
			if cfg.Crawl.UserAgent == "" {
				feed.UserAgent = fetch.DefaultUserAgent
			}
			strategies = append(strategies, feed)
		case config.StrategyRange:
			strategies = append(strategies, &discovery.Range{
				Fetcher:         fetcher,
				BaseURL:         base,
				Start:           cfg.Discovery.Range.Start,
				End:             cfg.Discovery.Range.End,
				Templates:       cfg.Discovery.Range.Templates,
				ErrorMarkers:    cfg.Discovery.ErrorMarkers,
				ContentSelector: cfg.Discovery.ContentSelector,
				MaxPosts:        cfg.Discovery.MaxPosts,
				Logger:          logger,
			})
		default:
			return nil, fmt.Errorf("unknown discovery strategy %q", name)
		}
	}

	if len(strategies) == 0 {
		return nil, errors.New("no discovery strategy configured")
	}
	return strategies, nil
}

func compilePatterns(raw []string) ([]*regexp.Regexp, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid post pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}
