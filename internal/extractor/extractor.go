package extractor

import (
	"fmt"
	"strings"

	"creepwatch/internal/scraper"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// PageState is what a snapshot of the target page shows.
type PageState int

const (
	StateUnknown PageState = iota
	StateDataPresent
	StateLoginPresent
)

func (s PageState) String() string {
	switch s {
	case StateDataPresent:
		return "data"
	case StateLoginPresent:
		return "login"
	default:
		return "unknown"
	}
}

// DefaultLoginSelector matches any form with a password field.
const DefaultLoginSelector = "form input[type=password]"

// Selectors locate the reading and the login form.
type Selectors struct {
	Value string
	// ValueAttr reads the value from an attribute instead of the element text.
	ValueAttr string
	Login     string
	// LoginURLContains marks a page as the login page when its final URL contains it.
	LoginURLContains string
}

// Extractor classifies page snapshots and pulls the reading out of them.
type Extractor struct {
	sel Selectors
}

// NewExtractor creates a new Extractor instance
func NewExtractor(sel Selectors) *Extractor {
	if sel.Login == "" {
		sel.Login = DefaultLoginSelector
	}
	return &Extractor{sel: sel}
}

// State classifies the snapshot with explicit DOM queries. A readable value
// wins over a login form that happens to be on the same page.
func (e *Extractor) State(snap *scraper.Snapshot) PageState {
	doc, err := parse(snap)
	if err != nil {
		return StateUnknown
	}
	return e.state(snap, doc)
}

func (e *Extractor) state(snap *scraper.Snapshot, doc *goquery.Document) PageState {
	if _, ok := e.value(doc); ok {
		return StateDataPresent
	}
	if doc.Find(e.sel.Login).Length() > 0 {
		return StateLoginPresent
	}
	if e.sel.LoginURLContains != "" && strings.Contains(snap.URL, e.sel.LoginURLContains) {
		return StateLoginPresent
	}
	return StateUnknown
}

// Extract returns the raw reading text from the snapshot.
func (e *Extractor) Extract(snap *scraper.Snapshot) (string, error) {
	doc, err := parse(snap)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransientDOMState, err)
	}

	switch e.state(snap, doc) {
	case StateDataPresent:
		v, _ := e.value(doc)
		return v, nil
	case StateLoginPresent:
		return "", ErrSessionExpired
	}

	if doc.Find(e.sel.Value).Length() > 0 {
		return "", fmt.Errorf("%w: %q is empty", ErrTransientDOMState, e.sel.Value)
	}
	return "", fmt.Errorf("%w: %q", ErrElementNotFound, e.sel.Value)
}

func (e *Extractor) value(doc *goquery.Document) (string, bool) {
	el := doc.Find(e.sel.Value).First()
	if el.Length() == 0 {
		return "", false
	}
	var v string
	if e.sel.ValueAttr != "" {
		v, _ = el.Attr(e.sel.ValueAttr)
	} else {
		v = el.Text()
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Digest renders the page body as markdown, cut to limit runes, for logs.
func Digest(snap *scraper.Snapshot, limit int) string {
	doc, err := parse(snap)
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	body, err := doc.Find("body").Html()
	if err != nil {
		return ""
	}

	converter := md.NewConverter("", true, nil)
	text, err := converter.ConvertString(body)
	if err != nil {
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); limit > 0 && len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return text
}

func parse(snap *scraper.Snapshot) (*goquery.Document, error) {
	if snap == nil || strings.TrimSpace(snap.HTML) == "" {
		return nil, fmt.Errorf("empty page")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}
