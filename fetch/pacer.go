package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
)

// Pacer enforces a minimum delay between outbound requests. One Pacer is
// shared by every worker of a run, so the aggregate request rate stays at
// one per delay no matter how many workers there are.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer allowing one request per delay. A non-positive
// delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next request may go out or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	return nil
}

// Paced wraps f so that every Fetch first waits on p.
func Paced(f Fetcher, p *Pacer) Fetcher {
	return &paced{next: f, pacer: p}
}

type paced struct {
	next  Fetcher
	pacer *Pacer
}

func (p *paced) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.Fetch(ctx, url)
}

func (p *paced) Close() error {
	return p.next.Close()
}
