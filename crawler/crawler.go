// Package crawler turns candidate URLs into posts. Each candidate moves
// through PENDING, FETCHED and EXTRACTED to either ACCEPTED or REJECTED; a
// rejection never stops the run.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/pevans/blogmirror/archive"
	"github.com/pevans/blogmirror/datenorm"
	"github.com/pevans/blogmirror/discovery"
	"github.com/pevans/blogmirror/fetch"
	"github.com/pevans/blogmirror/logging"
	"github.com/pevans/blogmirror/selector"
)

// DefaultMinContentLength is the number of runes the trimmed content must
// exceed for a post to be accepted.
const DefaultMinContentLength = 100

// DefaultWorkers keeps the crawl sequential.
const DefaultWorkers = 1

// Field names used in Outcome.Defaulted.
const (
	FieldTitle    = "title"
	FieldDate     = "date"
	FieldCategory = "category"
	FieldTags     = "tags"
	FieldContent  = "content"
)

// Config configures a Crawler.
type Config struct {
	// Fetcher loads candidate pages. Politeness pacing belongs here (see
	// fetch.Paced) so that it holds across all workers.
	Fetcher fetch.Fetcher

	// Chains defaults to selector.Default().
	Chains *selector.Chains

	MinContentLength int

	// Workers bounds the number of candidates processed at once.
	Workers int

	Now    func() time.Time
	Logger logging.Logger
}

// Crawler runs the per-candidate state machine.
type Crawler struct {
	fetcher    fetch.Fetcher
	chains     *selector.Chains
	minContent int
	workers    int
	now        func() time.Time
	logger     logging.Logger
}

// New builds a Crawler, filling unset fields with defaults.
func New(cfg Config) *Crawler {
	c := &Crawler{
		fetcher:    cfg.Fetcher,
		chains:     cfg.Chains,
		minContent: cfg.MinContentLength,
		workers:    cfg.Workers,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if c.chains == nil {
		c.chains = selector.Default()
	}
	if c.minContent <= 0 {
		c.minContent = DefaultMinContentLength
	}
	if c.workers <= 0 {
		c.workers = DefaultWorkers
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	return c
}

// Crawl processes one candidate. A candidate that already carries a parsed
// document is not fetched again.
func (c *Crawler) Crawl(ctx context.Context, cand discovery.Candidate) Outcome {
	out := Outcome{Candidate: cand, State: Pending}

	doc := cand.Doc
	if doc == nil {
		if c.fetcher == nil {
			return c.reject(out, ReasonFetchError, errors.New("no fetcher configured"))
		}
		var err error
		doc, err = c.fetcher.Fetch(ctx, cand.URL)
		if err != nil {
			return c.reject(out, ReasonFetchError, err)
		}
	}
	out.State = Fetched

	post, defaulted := c.Assemble(doc, cand)
	out.State = Extracted
	out.Defaulted = defaulted

	for _, field := range defaulted {
		c.logger.Debug("Field fell through to default",
			logging.String("url", cand.URL),
			logging.String("field", field),
		)
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(post.Content)); n <= c.minContent {
		return c.reject(out, ReasonThinContent, fmt.Errorf("%d runes, need more than %d", n, c.minContent))
	}

	out.State = Accepted
	out.Post = post
	return out
}

func (c *Crawler) reject(out Outcome, reason Reason, err error) Outcome {
	out.State = Rejected
	out.Err = &Rejection{URL: out.Candidate.URL, Reason: reason, Err: err}
	c.logger.Warn("Candidate rejected",
		logging.String("url", out.Candidate.URL),
		logging.String("reason", string(reason)),
		logging.Err(err),
	)
	return out
}

// Assemble runs every field chain against doc and builds the post. Metadata
// the discovery strategy already learned (feed title and date) is used
// before a field falls back to its declared default. The returned list names
// the fields that were defaulted.
func (c *Crawler) Assemble(doc *goquery.Document, cand discovery.Candidate) (archive.Post, []string) {
	var defaulted []string
	root := doc.Selection
	today := c.now()

	title := c.chains.Title.Extract(root)
	postTitle := title.Value
	if title.Defaulted {
		if t := strings.TrimSpace(cand.Title); t != "" {
			postTitle = t
		} else {
			defaulted = append(defaulted, FieldTitle)
		}
	}

	var postDate string
	if date := c.chains.Date.Extract(root); !date.Defaulted {
		postDate = datenorm.Normalize(date.Value, today).Date
	} else if cand.Date != "" {
		postDate = cand.Date
	} else {
		postDate = today.Format(datenorm.Layout)
		defaulted = append(defaulted, FieldDate)
	}

	category := c.chains.Category.Extract(root)
	if category.Defaulted {
		defaulted = append(defaulted, FieldCategory)
	}

	tags := c.chains.Tags.Extract(root)
	if tags.Defaulted {
		defaulted = append(defaulted, FieldTags)
	}

	content := c.chains.Content.Extract(root)
	var images []archive.Image
	if content.Defaulted {
		defaulted = append(defaulted, FieldContent)
	} else {
		images = c.images(content.Node, pageURL(doc, cand.URL))
	}

	return archive.Post{
		Title:       postTitle,
		Date:        postDate,
		Category:    category.Value,
		Tags:        tags.Values,
		Content:     content.Value,
		Images:      images,
		OriginalURL: cand.URL,
	}, defaulted
}

// images collects the pictures inside the winning content element, skipping
// those in boilerplate and inline data URIs, with relative sources resolved
// against base.
func (c *Crawler) images(node *goquery.Selection, base *url.URL) []archive.Image {
	if node == nil {
		return []archive.Image{}
	}

	var images []archive.Image
	selector.StripBoilerplate(node, c.chains.Boilerplate).Find("img").Each(func(_ int, img *goquery.Selection) {
		src := strings.TrimSpace(img.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(img.AttrOr("data-src", ""))
		}
		if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
			return
		}
		if base != nil {
			if ref, err := url.Parse(src); err == nil {
				src = base.ResolveReference(ref).String()
			}
		}
		images = append(images, archive.Image{Src: src, Alt: strings.TrimSpace(img.AttrOr("alt", ""))})
	})
	return archive.NormalizeImages(images)
}

func pageURL(doc *goquery.Document, raw string) *url.URL {
	if doc != nil && doc.Url != nil {
		return doc.Url
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

// Sink receives outcomes one at a time, in candidate order, from a single
// goroutine. Returning an error stops the run.
type Sink func(Outcome) error

// Run crawls candidates with a bounded worker pool and hands every outcome
// to sink. Cancelling ctx stops the run between candidates: nothing new is
// started and outcomes not yet delivered are dropped. The returned error is
// the sink's error or the context's.
func (c *Crawler) Run(ctx context.Context, candidates []discovery.Candidate, sink Sink) (Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Outcome)
	done := make(chan struct{})
	var summary Summary
	var sinkErr error

	go func() {
		defer close(done)

		pending := make(map[int]Outcome)
		next := 0
		for o := range results {
			pending[o.Index] = o
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++

				if sinkErr != nil || runCtx.Err() != nil {
					continue
				}
				summary.add(ready)
				if err := sink(ready); err != nil {
					sinkErr = err
					cancel()
				}
			}
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(c.workers)

	for i, cand := range candidates {
		if gctx.Err() != nil {
			break
		}
		i, cand := i, cand
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			o := c.Crawl(gctx, cand)
			o.Index = i
			if gctx.Err() != nil && o.State == Rejected {
				// Interrupted, not failed.
				return nil
			}
			results <- o
			return nil
		})
	}

	_ = g.Wait()
	close(results)
	<-done

	if sinkErr != nil {
		return summary, sinkErr
	}
	return summary, ctx.Err()
}
