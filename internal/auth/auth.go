package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
)

const maxResponseBytes = 1 << 20

// Options configures the login endpoint.
type Options struct {
	LoginURL string
	// CookieFields maps a field of the JSON login response (dot separated for
	// nested objects) to the name of the cookie it should become.
	CookieFields map[string]string
	Timeout      time.Duration
	UserAgent    string
}

// Authenticator logs in against the site's login endpoint.
type Authenticator struct {
	loginURL     string
	cookieFields map[string]string
	userAgent    string
	client       *http.Client
	logger       *logrus.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// New creates an Authenticator
func New(opts Options, logger *logrus.Logger) *Authenticator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Authenticator{
		loginURL:     opts.LoginURL,
		cookieFields: opts.CookieFields,
		userAgent:    opts.UserAgent,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Authenticate posts the credentials and builds a Session from the cookies in
// the response. It does not retry; the caller owns the retry policy.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	if creds.Empty() {
		return nil, invalid(0, errors.New("email and password are required"))
	}

	body, err := json.Marshal(loginRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := *a.client
	client.Jar = jar

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.loginURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	a.logger.WithField("url", a.loginURL).Debug("Posting credentials")

	resp, err := client.Do(req)
	if err != nil {
		return nil, network(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, network(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, invalid(resp.StatusCode, nil)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, invalid(resp.StatusCode, fmt.Errorf("failed to parse login response: %w", err))
	}

	cookies := a.collectCookies(resp, jar, payload)
	if len(cookies) == 0 {
		return nil, invalid(resp.StatusCode, errors.New("login response carried no session cookies"))
	}

	session := &Session{Cookies: cookies, IssuedAt: time.Now()}
	a.logger.WithFields(logrus.Fields{
		"cookies": len(cookies),
		"names":   strings.Join(session.Names(), ","),
	}).Info("Authenticated")
	return session, nil
}

// collectCookies merges Set-Cookie headers with cookies named in the JSON body.
// Body cookies win over header cookies of the same name.
func (a *Authenticator) collectCookies(resp *http.Response, jar http.CookieJar, payload map[string]any) []Cookie {
	byName := map[string]Cookie{}

	for _, c := range resp.Cookies() {
		if c.Value == "" || c.MaxAge < 0 {
			continue
		}
		byName[c.Name] = fromHTTP(c)
	}
	if u, err := url.Parse(a.loginURL); err == nil {
		for _, c := range jar.Cookies(u) {
			if _, seen := byName[c.Name]; !seen && c.Value != "" {
				byName[c.Name] = Cookie{Name: c.Name, Value: c.Value, Path: "/"}
			}
		}
	}

	switch v := payload["cookies"].(type) {
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			c := Cookie{
				Name:   stringField(obj, "name"),
				Value:  stringField(obj, "value"),
				Domain: stringField(obj, "domain"),
				Path:   stringField(obj, "path"),
			}
			if c.Name != "" && c.Value != "" {
				byName[c.Name] = c
			}
		}
	case map[string]any:
		for name, val := range v {
			if s, ok := val.(string); ok && name != "" && s != "" {
				byName[name] = Cookie{Name: name, Value: s, Path: "/"}
			}
		}
	}

	for field, name := range a.cookieFields {
		if s, ok := lookup(payload, field); ok && s != "" {
			byName[name] = Cookie{Name: name, Value: s, Path: "/"}
		}
	}

	cookies := make([]Cookie, 0, len(byName))
	for _, c := range byName {
		cookies = append(cookies, c)
	}
	sort.Slice(cookies, func(i, j int) bool { return cookies[i].Name < cookies[j].Name })
	return cookies
}

func fromHTTP(c *http.Cookie) Cookie {
	out := Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
	if !c.Expires.IsZero() {
		out.Expires = c.Expires
	} else if c.MaxAge > 0 {
		out.Expires = time.Now().Add(time.Duration(c.MaxAge) * time.Second)
	}
	if out.Path == "" {
		out.Path = "/"
	}
	return out
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// lookup resolves a dot separated path such as "ok.session" to a string.
func lookup(payload map[string]any, path string) (string, bool) {
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = obj[part]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}
