package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/pevans/blogmirror/datenorm"
	"github.com/pevans/blogmirror/fetch"
)

// Feed enumerates candidates from an RSS or Atom feed. gofeed detects the
// format, so both are handled the same way.
type Feed struct {
	URL string

	// Client is used for the feed request. Nil uses gofeed's default client.
	Client    *http.Client
	UserAgent string

	// Pacer, when set, is waited on before the feed request so the feed
	// counts against the same politeness budget as page fetches.
	Pacer *fetch.Pacer

	SkipTitles []string
}

// Name implements Strategy.
func (f *Feed) Name() string { return "feed" }

// Discover fetches and parses the feed.
func (f *Feed) Discover(ctx context.Context) ([]Candidate, error) {
	if f.Pacer != nil {
		if err := f.Pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	parser := gofeed.NewParser()
	if f.Client != nil {
		parser.Client = f.Client
	}
	if f.UserAgent != "" {
		parser.UserAgent = f.UserAgent
	}

	feed, err := parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	return f.ItemsToCandidates(feed), nil
}

// ItemsToCandidates maps every usable feed item to a candidate. Items without
// a link, and items whose title is in SkipTitles, are dropped.
func (f *Feed) ItemsToCandidates(feed *gofeed.Feed) []Candidate {
	skip := f.SkipTitles
	if skip == nil {
		skip = DefaultSkipTitles
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if contains(skip, title) {
			continue
		}

		candidates = append(candidates, Candidate{
			URL:    link,
			Title:  title,
			Date:   itemDate(item),
			Source: f.Name(),
		})
	}

	return candidates
}

// itemDate prefers gofeed's parsed timestamps and falls back to normalising
// the raw text, leaving "" when nothing is recognised.
func itemDate(item *gofeed.Item) string {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.Format(datenorm.Layout)
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.Format(datenorm.Layout)
	}
	for _, raw := range []string{item.Published, item.Updated} {
		if date, ok := datenorm.Recognize(raw); ok {
			return date
		}
	}
	return ""
}

func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
