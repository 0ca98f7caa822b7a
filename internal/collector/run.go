package collector

import (
	"time"

	"creepwatch/internal/auth"
)

// State is the collector's position in its lifecycle.
type State int

const (
	StateInitializing State = iota
	StatePolling
	StateReauthenticating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateReauthenticating:
		return "reauthenticating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Run holds everything the loop mutates. It is passed through each
// transition so the state machine can be driven without a browser.
type Run struct {
	ID       string
	Start    time.Time
	Deadline time.Time
	State    State
	Session  *auth.Session

	Tick     int
	Readings int
	Skipped  int
	Reauths  int

	reauthFailures int
	backoff        time.Duration
}

// Remaining is the run time left at now, never negative.
func (r *Run) Remaining(now time.Time) time.Duration {
	if d := r.Deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Start    time.Time
	End      time.Time
	State    State
	Ticks    int
	Readings int
	Skipped  int
	Reauths  int
}

func (r *Run) summary(end time.Time) *Summary {
	return &Summary{
		RunID:    r.ID,
		Start:    r.Start,
		End:      end,
		State:    r.State,
		Ticks:    r.Tick,
		Readings: r.Readings,
		Skipped:  r.Skipped,
		Reauths:  r.Reauths,
	}
}
