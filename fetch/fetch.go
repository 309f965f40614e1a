// Package fetch provides the single capability the pipeline needs from the
// outside world: turn a URL into a parsed HTML document.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultUserAgent identifies blogmirror to source servers.
const DefaultUserAgent = "Mozilla/5.0 (compatible; blogmirror/1.0; static blog archiver)"

// DefaultTimeout bounds every single fetch.
const DefaultTimeout = 30 * time.Second

// ErrHTTPStatus is matched by every StatusError.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// StatusError reports a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d (%s)", e.Code, e.URL)
}

// Is makes errors.Is(err, ErrHTTPStatus) true for any StatusError.
func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// Fetcher fetches a page and parses it. Implementations must honour ctx and
// must not block past their own timeout.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
	Close() error
}

// Func adapts a plain function to a Fetcher. Close is a no-op.
type Func func(ctx context.Context, url string) (*goquery.Document, error)

func (f Func) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	return f(ctx, url)
}

func (f Func) Close() error { return nil }
