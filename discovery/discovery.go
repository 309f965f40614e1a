// Package discovery enumerates candidate post URLs on the source blog.
//
// Three interchangeable strategies are provided: a paginated listing crawl,
// a syndication feed, and numeric ID range probing. Whatever the strategy,
// candidates pass through one dedup stage keyed on the canonical URL; a URL
// already seen is dropped, never merged.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/blogmirror/logging"
)

// Candidate is a URL believed, but not yet confirmed, to host a post.
type Candidate struct {
	URL   string
	Title string
	// Date is an ISO date when the strategy learned one (feeds do), else "".
	Date   string
	Source string
	// Doc is set when the strategy already fetched the page; the crawler uses
	// it instead of fetching again.
	Doc *goquery.Document
}

// Strategy is one way of enumerating candidates.
type Strategy interface {
	Name() string
	Discover(ctx context.Context) ([]Candidate, error)
}

// Canonicalize resolves raw against base and normalises it so that the same
// post always yields the same key: scheme and host lower-cased, default
// port, query, fragment and trailing slash removed.
func Canonicalize(raw string, base *url.URL) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme in %q", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "/" {
		u.Path = ""
	}
	u.RawPath = ""

	return u.String(), nil
}

// Seen is the shared dedup set. It is safe for concurrent use.
type Seen struct {
	mu   sync.Mutex
	urls map[string]bool
}

// NewSeen returns a set preloaded with urls, typically the original URLs
// already in the store when only new posts are wanted.
func NewSeen(urls ...string) *Seen {
	s := &Seen{urls: make(map[string]bool, len(urls))}
	for _, u := range urls {
		s.urls[u] = true
	}
	return s
}

// Add records url and reports whether it was new.
func (s *Seen) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.urls[url] {
		return false
	}
	s.urls[url] = true
	return true
}

// Len returns the number of distinct URLs seen.
func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

// Run executes each strategy in order and returns the deduplicated union of
// their candidates, first discovery first. A failing strategy does not stop
// the others; its error is returned joined with any others alongside the
// candidates that were found.
func Run(ctx context.Context, strategies []Strategy, seen *Seen, logger logging.Logger) ([]Candidate, error) {
	if seen == nil {
		seen = NewSeen()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var candidates []Candidate
	var errs []error

	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		found, err := strategy.Discover(ctx)
		if err != nil {
			logger.Warn("Discovery strategy failed",
				logging.String("strategy", strategy.Name()),
				logging.Err(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
		}

		kept := 0
		for _, c := range found {
			canonical, err := Canonicalize(c.URL, nil)
			if err != nil {
				logger.Debug("Dropping invalid candidate", logging.String("url", c.URL), logging.Err(err))
				continue
			}
			if !seen.Add(canonical) {
				continue
			}
			c.URL = canonical
			if c.Source == "" {
				c.Source = strategy.Name()
			}
			candidates = append(candidates, c)
			kept++
		}

		logger.Info("Discovery strategy finished",
			logging.String("strategy", strategy.Name()),
			logging.Int("found", len(found)),
			logging.Int("new", kept),
		)
	}

	return candidates, errors.Join(errs...)
}
