package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder tracks run progress in a private registry and can write it out in
// the node_exporter textfile format. A nil *Recorder records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	path        string
	ticks       prometheus.Counter
	readings    prometheus.Counter
	skipped     *prometheus.CounterVec
	reauths     *prometheus.CounterVec
	lastValue   prometheus.Gauge
	lastReading prometheus.Gauge
}

// New creates a Recorder. Flush is a no-op when path is empty.
func New(path string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		path:     path,
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creepwatch",
			Name:      "ticks_total",
			Help:      "Polling attempts made.",
		}),
		readings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "creepwatch",
			Name:      "readings_total",
			Help:      "Readings written to the sink.",
		}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creepwatch",
			Name:      "skipped_ticks_total",
			Help:      "Ticks that produced no reading, by reason.",
		}, []string{"reason"}),
		reauths: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "creepwatch",
			Name:      "reauth_attempts_total",
			Help:      "Re-authentication attempts, by result.",
		}, []string{"result"}),
		lastValue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "creepwatch",
			Name:      "last_value",
			Help:      "Most recent numeric reading.",
		}),
		lastReading: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "creepwatch",
			Name:      "last_reading_timestamp_seconds",
			Help:      "Unix time of the most recent reading.",
		}),
	}
}

// Tick counts one polling attempt.
func (r *Recorder) Tick() {
	if r == nil {
		return
	}
	r.ticks.Inc()
}

// Reading records a written reading. value is only exported when numeric.
func (r *Recorder) Reading(unix float64, value float64, numeric bool) {
	if r == nil {
		return
	}
	r.readings.Inc()
	r.lastReading.Set(unix)
	if numeric {
		r.lastValue.Set(value)
	}
}

// Skipped counts a tick that produced no reading.
func (r *Recorder) Skipped(reason string) {
	if r == nil {
		return
	}
	r.skipped.WithLabelValues(reason).Inc()
}

// Reauth counts one login attempt by result.
func (r *Recorder) Reauth(ok bool) {
	if r == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	r.reauths.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Flush rewrites the textfile atomically.
func (r *Recorder) Flush() error {
	if r == nil || r.path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", r.path, err)
	}
	return nil
}
