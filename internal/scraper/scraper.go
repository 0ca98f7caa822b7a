package scraper

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"creepwatch/internal/auth"
)

// Driver is the browser-facing port used by the collector.
type Driver interface {
	// ApplySession replaces every cookie in the browser context with the session's.
	ApplySession(ctx context.Context, targetURL string, session *auth.Session) error
	// Load brings the target page up to date and captures its DOM.
	Load(ctx context.Context, targetURL string) (*Snapshot, error)
	// Alive reports whether the browser process still answers.
	Alive(ctx context.Context) error
	Close() error
}

// Snapshot is the state of the page captured during one tick.
type Snapshot struct {
	HTML     string
	URL      string
	Title    string
	LoadTime time.Duration
}

// Sink is the durable append-only destination for readings.
type Sink interface {
	Append(r Reading) error
	Close() error
}

// Reading is one timestamped data point taken from the live page.
type Reading struct {
	Timestamp time.Time
	Value     string
	Numeric   float64
	IsNumeric bool
}

var (
	numberRe = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)
	// groupRe matches a thousands separator between digit groups.
	groupRe = regexp.MustCompile(`(\d)[,\x{00A0}\x{202F} ](\d{3})\b`)
)

// NewReading builds a reading from raw element text. Value keeps the trimmed
// text as shown on the page. The text is numeric when it holds exactly one
// number once thousands separators are removed; units and labels around it
// are ignored.
func NewReading(ts time.Time, raw string) Reading {
	value := strings.TrimSpace(raw)
	r := Reading{Timestamp: ts.UTC(), Value: value}
	if f, ok := parseNumber(value); ok {
		r.Numeric = f
		r.IsNumeric = true
	}
	return r
}

func parseNumber(s string) (float64, bool) {
	for {
		next := groupRe.ReplaceAllString(s, "$1$2")
		if next == s {
			break
		}
		s = next
	}
	m := numberRe.FindAllString(s, 2)
	if len(m) != 1 {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[0], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
