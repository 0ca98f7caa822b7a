package fetcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"creepwatch/internal/auth"
	"creepwatch/internal/browser"
	"creepwatch/internal/scraper"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// WaitStrategy wait strategy type
type WaitStrategy string

const (
	WaitStrategyLoad    WaitStrategy = "load"    // Wait for the load event
	WaitStrategyElement WaitStrategy = "element" // Wait for a selector to match
	WaitStrategyIdle    WaitStrategy = "idle"    // Wait for load, then network idle
	WaitStrategyTime    WaitStrategy = "time"    // Wait for a fixed number of milliseconds
)

// Options controls page loading.
type Options struct {
	WaitFor    WaitStrategy
	WaitTarget string
	Timeout    time.Duration
	// RefreshEachTick navigates on every Load. When false the live page is
	// re-read in place and only navigated after a new session is applied.
	RefreshEachTick bool
}

// Fetcher drives one long-lived page and implements scraper.Driver.
type Fetcher struct {
	browser   *browser.Browser
	page      *rod.Page
	opts      Options
	navigated bool
	logger    *logrus.Logger
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(b *browser.Browser, opts Options, logger *logrus.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.WaitFor == "" {
		opts.WaitFor = WaitStrategyLoad
	}
	return &Fetcher{browser: b, opts: opts, logger: logger}
}

// ApplySession swaps the browser's cookies for the session's and forces the
// next Load to navigate.
func (f *Fetcher) ApplySession(ctx context.Context, targetURL string, session *auth.Session) error {
	if !session.Valid() {
		return fmt.Errorf("refusing to apply an empty session")
	}
	if err := f.browser.SetCookies(targetURL, session.Cookies); err != nil {
		return err
	}
	f.navigated = false
	return nil
}

// Load navigates to url when needed, applies the wait strategy and captures the DOM.
func (f *Fetcher) Load(ctx context.Context, url string) (*scraper.Snapshot, error) {
	startTime := time.Now()

	if f.page == nil {
		page, err := f.browser.NewPage()
		if err != nil {
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
		f.page = page
	}

	if f.opts.RefreshEachTick || !f.navigated {
		p := f.page.Context(ctx).Timeout(f.opts.Timeout)
		err := p.Navigate(url)
		p.CancelTimeout()
		if err != nil {
			f.navigated = false
			return nil, fmt.Errorf("failed to navigate: %w", err)
		}
		f.navigated = true
	}

	if err := f.applyWaitStrategy(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// The page may still be classifiable, e.g. a login form instead of data.
		f.logger.WithError(err).Debug("Wait strategy did not complete")
	}

	p := f.page.Context(ctx).Timeout(10 * time.Second)
	defer p.CancelTimeout()

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("failed to read page HTML: %w", err)
	}

	snap := &scraper.Snapshot{HTML: html, LoadTime: time.Since(startTime)}
	if info, err := p.Info(); err == nil {
		snap.URL = info.URL
		snap.Title = info.Title
	}
	return snap, nil
}

// applyWaitStrategy applies wait strategy
func (f *Fetcher) applyWaitStrategy(ctx context.Context) error {
	page := f.page.Context(ctx).Timeout(f.opts.Timeout)
	defer page.CancelTimeout()

	switch f.opts.WaitFor {
	case WaitStrategyElement:
		if f.opts.WaitTarget == "" {
			return fmt.Errorf("wait target is required for element strategy")
		}
		if _, err := page.Element(f.opts.WaitTarget); err != nil {
			return fmt.Errorf("failed to wait for element '%s': %w", f.opts.WaitTarget, err)
		}

	case WaitStrategyIdle:
		if err := page.WaitLoad(); err != nil {
			return fmt.Errorf("failed to wait for page load: %w", err)
		}
		wait := page.WaitRequestIdle(
			500*time.Millisecond, nil, nil,
			[]proto.NetworkResourceType{proto.NetworkResourceTypeImage, proto.NetworkResourceTypeMedia},
		)
		wait()

	case WaitStrategyTime:
		ms, err := strconv.Atoi(f.opts.WaitTarget)
		if err != nil {
			return fmt.Errorf("invalid wait time '%s': %w", f.opts.WaitTarget, err)
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}

	default:
		if err := page.WaitLoad(); err != nil {
			return fmt.Errorf("failed to wait for page load: %w", err)
		}
	}

	return nil
}

// Alive reports whether the browser process still answers.
func (f *Fetcher) Alive(ctx context.Context) error {
	return f.browser.Alive(ctx)
}

// Close closes the page and the browser.
func (f *Fetcher) Close() error {
	if f.page != nil {
		f.page.Close()
		f.page = nil
	}
	return f.browser.Close()
}
