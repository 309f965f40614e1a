package discovery

import (
	"context"
	"strconv"
	"strings"

	"github.com/pevans/blogmirror/fetch"
	"github.com/pevans/blogmirror/logging"
)

// DefaultTemplates are the URL shapes a numeric post ID can take.
var DefaultTemplates = []string{"{base}/{id}", "{base}/entry/{id}"}

// DefaultErrorMarkers in a page title mean the probe hit an error, login or
// admin page instead of a post.
var DefaultErrorMarkers = []string{"404", "error", "not found", "admin", "login"}

// DefaultContentSelector is the container a real post page always has.
const DefaultContentSelector = ".tt_article_useless_p_margin, .entry-content, article"

// Range probes numeric post IDs by substituting each ID into each template
// and fetching the result.
type Range struct {
	Fetcher fetch.Fetcher
	BaseURL string

	// Start and End are inclusive.
	Start, End int

	Templates       []string
	ErrorMarkers    []string
	ContentSelector string

	// MaxPosts stops probing once this many posts were found. Zero means no
	// limit.
	MaxPosts int

	Logger logging.Logger
}

// Name implements Strategy.
func (r *Range) Name() string { return "range" }

// Discover probes each id with every template in order until one of them
// hosts a post. Failed fetches and error pages are skipped; only
// cancellation and MaxPosts end the probe early.
func (r *Range) Discover(ctx context.Context) ([]Candidate, error) {
	templates := r.Templates
	if len(templates) == 0 {
		templates = DefaultTemplates
	}
	markers := r.ErrorMarkers
	if markers == nil {
		markers = DefaultErrorMarkers
	}
	contentSelector := r.ContentSelector
	if contentSelector == "" {
		contentSelector = DefaultContentSelector
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	base := strings.TrimRight(r.BaseURL, "/")
	tested := make(map[string]bool)
	var candidates []Candidate

	for id := r.Start; id <= r.End; id++ {
		for _, tmpl := range templates {
			if err := ctx.Err(); err != nil {
				return candidates, err
			}

			url := Expand(tmpl, base, id)
			if tested[url] {
				continue
			}
			tested[url] = true

			doc, err := r.Fetcher.Fetch(ctx, url)
			if err != nil {
				logger.Debug("Probe miss", logging.String("url", url), logging.Err(err))
				continue
			}

			title := strings.TrimSpace(doc.Find("title").First().Text())
			if hasMarker(title, markers) {
				logger.Debug("Probe hit error page", logging.String("url", url), logging.String("title", title))
				continue
			}
			if strings.TrimSpace(doc.Find(contentSelector).First().Text()) == "" {
				logger.Debug("Probe found no content container", logging.String("url", url))
				continue
			}

			candidates = append(candidates, Candidate{
				URL:    url,
				Title:  title,
				Source: r.Name(),
				Doc:    doc,
			})
			if r.MaxPosts > 0 && len(candidates) >= r.MaxPosts {
				return candidates, nil
			}
			// Other templates would reach the same post.
			break
		}
	}

	return candidates, nil
}

// Expand substitutes base and id into a URL template.
func Expand(tmpl, base string, id int) string {
	return strings.NewReplacer("{base}", base, "{id}", strconv.Itoa(id)).Replace(tmpl)
}

func hasMarker(title string, markers []string) bool {
	lower := strings.ToLower(title)
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
