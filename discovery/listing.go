package discovery

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/blogmirror/fetch"
	"github.com/pevans/blogmirror/logging"
)

// DefaultPostPatterns match post paths on the blog platforms we mirror:
// /entry/<slug>, /post/<slug> and bare numeric IDs.
var DefaultPostPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/entry/[^/]+$`),
	regexp.MustCompile(`^/post/[^/]+$`),
	regexp.MustCompile(`^/\d+$`),
}

// DefaultSkipTitles are link or item titles that never denote a post
// ("write a post").
var DefaultSkipTitles = []string{"글쓰기"}

// Listing crawls the blog's paginated index.
type Listing struct {
	Fetcher fetch.Fetcher
	BaseURL string

	// PageURL builds the URL of index page n (1-based). Nil uses
	// "<base>/?page=n".
	PageURL func(n int) string

	// Patterns select post links by URL path. Nil uses DefaultPostPatterns.
	Patterns []*regexp.Regexp

	// MaxPages bounds the crawl. Default: 1.
	MaxPages int

	// AnchorSelector picks candidate links. Default: "a[href]".
	AnchorSelector string

	SkipTitles []string
	Logger     logging.Logger
}

// Name implements Strategy.
func (l *Listing) Name() string { return "listing" }

// Discover fetches index pages 1..MaxPages and stops early on the first page
// that contributes no new post link.
func (l *Listing) Discover(ctx context.Context) ([]Candidate, error) {
	base, err := canonicalBase(l.BaseURL)
	if err != nil {
		return nil, err
	}

	maxPages := l.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	logger := l.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	seen := NewSeen()
	var candidates []Candidate

	for n := 1; n <= maxPages; n++ {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}

		pageURL := l.pageURL(n)
		doc, err := l.Fetcher.Fetch(ctx, pageURL)
		if err != nil {
			if n == 1 {
				return nil, fmt.Errorf("failed to fetch index page: %w", err)
			}
			logger.Warn("Stopping listing crawl on fetch failure",
				logging.String("url", pageURL),
				logging.Int("page", n),
				logging.Err(err),
			)
			break
		}

		found := l.extractLinks(doc, base, seen)
		logger.Debug("Listing page crawled",
			logging.String("url", pageURL),
			logging.Int("new_links", len(found)),
		)
		if len(found) == 0 {
			break
		}
		candidates = append(candidates, found...)
	}

	return candidates, nil
}

func (l *Listing) pageURL(n int) string {
	if l.PageURL != nil {
		return l.PageURL(n)
	}
	return strings.TrimRight(l.BaseURL, "/") + "/?page=" + strconv.Itoa(n)
}

// extractLinks returns the post links on one index page that seen has not
// recorded yet.
func (l *Listing) extractLinks(doc *goquery.Document, base *url.URL, seen *Seen) []Candidate {
	selector := l.AnchorSelector
	if selector == "" {
		selector = "a[href]"
	}
	skip := l.SkipTitles
	if skip == nil {
		skip = DefaultSkipTitles
	}

	var found []Candidate
	doc.Find(selector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		title := strings.Join(strings.Fields(a.Text()), " ")
		for _, s := range skip {
			if title == s {
				return
			}
		}

		canonical, err := Canonicalize(href, base)
		if err != nil {
			return
		}
		u, err := url.Parse(canonical)
		if err != nil || u.Host != base.Host || !matchesAny(u.Path, l.patterns()) {
			return
		}
		if !seen.Add(canonical) {
			return
		}

		found = append(found, Candidate{URL: canonical, Title: title, Source: l.Name()})
	})

	return found
}

func (l *Listing) patterns() []*regexp.Regexp {
	if l.Patterns != nil {
		return l.Patterns
	}
	return DefaultPostPatterns
}

func matchesAny(path string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}

// canonicalBase parses the blog's base URL in canonical form so host
// comparisons with canonical candidate URLs are exact.
func canonicalBase(raw string) (*url.URL, error) {
	canonical, err := Canonicalize(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return url.Parse(canonical + "/")
}
