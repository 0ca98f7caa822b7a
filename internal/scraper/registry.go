package scraper

import (
	"fmt"
	"sort"
	"strings"
)

// SinkOptions carries what a sink needs to open its destination.
type SinkOptions struct {
	Path    string
	Columns []string
	// Record renders a reading as a row matching Columns.
	Record func(Reading) []string
}

// SinkFactory opens a sink.
type SinkFactory func(opts SinkOptions) (Sink, error)

var registry = map[string]SinkFactory{}

// RegisterSink registers a sink factory under a case-insensitive name.
func RegisterSink(name string, f SinkFactory) {
	registry[strings.ToLower(name)] = f
}

// GetSink gets a sink factory by name
func GetSink(name string) (SinkFactory, bool) {
	f, ok := registry[strings.ToLower(name)]
	return f, ok
}

// OpenSink looks up the named sink and opens it.
func OpenSink(name string, opts SinkOptions) (Sink, error) {
	f, ok := GetSink(name)
	if !ok {
		return nil, fmt.Errorf("unknown sink: %s (available: %s)", name, strings.Join(SinkNames(), ", "))
	}
	return f(opts)
}

// SinkNames returns the registered sink names, sorted.
func SinkNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
