package browser

import (
	"context"
	"fmt"
	"time"

	"creepwatch/internal/auth"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config controls how Chromium is launched.
type Config struct {
	Headless  bool
	ProxyURL  string
	Bin       string // browser binary; empty lets rod find or download one
	UserAgent string
}

// Browser wraps a rod.Browser together with the launcher that owns its process.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      Config
}

// New launches a browser process and connects to it.
func New(cfg Config) (*Browser, error) {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.ProxyURL != "" {
		l = l.Proxy(cfg.ProxyURL)
	}
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{browser: b, launcher: l, cfg: cfg}, nil
}

// NewPage opens a blank tab with the configured user agent.
func (b *Browser) NewPage() (*rod.Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	if b.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent}); err != nil {
			page.Close()
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	return page, nil
}

// SetCookies clears the cookie store and installs the given set. Cookies
// without a domain are bound to targetURL.
func (b *Browser) SetCookies(targetURL string, cookies []auth.Cookie) error {
	if err := b.browser.SetCookies(nil); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	if len(cookies) == 0 {
		return nil
	}
	if err := b.browser.SetCookies(CookieParams(targetURL, cookies)); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// CookieParams converts session cookies to CDP cookie parameters.
func CookieParams(targetURL string, cookies []auth.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Domain == "" {
			p.URL = targetURL
		}
		if p.Path == "" {
			p.Path = "/"
		}
		if !c.Expires.IsZero() {
			p.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		params = append(params, p)
	}
	return params
}

// aliveTimeout bounds the liveness check.
const aliveTimeout = 5 * time.Second

// Alive asks the browser for its version; an error means the process is gone
// or did not answer within aliveTimeout.
func (b *Browser) Alive(ctx context.Context) error {
	if _, err := b.browser.Context(ctx).Timeout(aliveTimeout).Version(); err != nil {
		return fmt.Errorf("browser not responding: %w", err)
	}
	return nil
}

// Close closes the browser and kills the launched process
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Kill()
	}
	return err
}
