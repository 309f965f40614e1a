package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/pevans/blogmirror/logging"
)

// BrowserConfig configures the headless Chrome fetcher.
type BrowserConfig struct {
	// RemoteURL is the DevTools WebSocket URL of an already running Chrome.
	// Empty launches a local headless instance.
	RemoteURL string

	// Timeout bounds navigation plus rendering of one page.
	Timeout time.Duration

	// Settle is how long to wait after scrolling to the bottom so lazily
	// loaded content can render.
	Settle time.Duration

	UserAgent string

	Logger logging.Logger
}

// Browser fetches pages through headless Chrome, for blogs whose post body
// is only present after client-side rendering. A Browser owns its Chrome
// process: create one per run and Close it when the run ends.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      BrowserConfig
}

// NewBrowser starts (or connects to) Chrome.
func NewBrowser(ctx context.Context, cfg BrowserConfig) (*Browser, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	b := &Browser{cfg: cfg}

	controlURL := cfg.RemoteURL
	if controlURL == "" {
		b.launcher = launcher.New().
			Headless(true).
			NoSandbox(true).
			Set("disable-dev-shm-usage").
			Set("window-size", "1920,1080").
			Set("user-agent", cfg.UserAgent)

		u, err := b.launcher.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	b.browser = browser

	return b, nil
}

// Fetch implements Fetcher. The tab is opened on the browser's own context
// and only navigation and DOM reads are bound to the fetch timeout, so the
// tab can still be closed after a timeout.
func (b *Browser) Fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	defer b.closePage(page, pageURL)

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	scoped := page.Context(navCtx)

	if err := scoped.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}
	if err := scoped.WaitLoad(); err != nil {
		return nil, fmt.Errorf("failed waiting for load: %w", err)
	}

	if b.cfg.Settle > 0 {
		if _, err := scoped.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return nil, fmt.Errorf("failed to scroll: %w", err)
		}
		select {
		case <-time.After(b.cfg.Settle):
		case <-navCtx.Done():
			return nil, navCtx.Err()
		}
	}

	html, err := scoped.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read DOM: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	if u, err := url.Parse(pageURL); err == nil {
		doc.Url = u
	}

	return doc, nil
}

func (b *Browser) closePage(page *rod.Page, pageURL string) {
	if err := page.Close(); err != nil {
		b.cfg.Logger.Warn("Failed to close browser tab",
			logging.String("url", pageURL),
			logging.Err(err),
		)
	}
}

// openTabs returns the number of page targets Chrome currently has open.
func (b *Browser) openTabs() (int, error) {
	pages, err := b.browser.Pages()
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

// Close shuts Chrome down. It is safe to call more than once.
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	b.cleanup()
	return err
}

func (b *Browser) cleanup() {
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
		b.launcher = nil
	}
}
