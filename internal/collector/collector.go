package collector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"creepwatch/internal/auth"
	"creepwatch/internal/extractor"
	"creepwatch/internal/metrics"
	"creepwatch/internal/scraper"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultMaxDuration     = 7 * 24 * time.Hour
	DefaultReauthBaseDelay = 5 * time.Second
	DefaultReauthMaxDelay  = 5 * time.Minute
	DefaultProgressEvery   = 120
)

// Config bounds a run.
type Config struct {
	TargetURL    string
	PollInterval time.Duration
	MaxDuration  time.Duration
	// ReauthMaxAttempts caps consecutive failed logins; 0 retries forever.
	ReauthMaxAttempts int
	ReauthBaseDelay   time.Duration
	ReauthMaxDelay    time.Duration
	// ProgressEvery logs a progress line every n ticks.
	ProgressEvery int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.ReauthBaseDelay <= 0 {
		c.ReauthBaseDelay = DefaultReauthBaseDelay
	}
	if c.ReauthMaxDelay <= 0 {
		c.ReauthMaxDelay = DefaultReauthMaxDelay
	}
	if c.ReauthMaxDelay < c.ReauthBaseDelay {
		c.ReauthMaxDelay = c.ReauthBaseDelay
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = DefaultProgressEvery
	}
	return c
}

// Authenticator produces a fresh session from credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Session, error)
}

// Deps are the collaborators a Collector drives.
type Deps struct {
	Driver      scraper.Driver
	Auth        Authenticator
	Credentials auth.Credentials
	Extractor   *extractor.Extractor
	Sink        scraper.Sink
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customises a Collector.
type Option func(*Collector)

// WithClock replaces the wall clock and the sleep used between ticks.
func WithClock(clk clock.PassiveClock, sleep SleepFunc) Option {
	return func(c *Collector) {
		c.clock = clk
		c.sleep = sleep
	}
}

// WithMetrics records ticks, readings and re-authentications in m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithJitter sets the source of backoff jitter; f returns values in [0, 1).
func WithJitter(f func() float64) Option {
	return func(c *Collector) { c.jitter = f }
}

// Collector polls the target page until the run deadline.
type Collector struct {
	cfg     Config
	deps    Deps
	logger  *logrus.Logger
	metrics *metrics.Recorder
	clock   clock.PassiveClock
	sleep   SleepFunc
	jitter  func() float64
}

// New creates a Collector
func New(cfg Config, deps Deps, logger *logrus.Logger, opts ...Option) *Collector {
	c := &Collector{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger,
		clock:  clock.RealClock{},
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until MaxDuration has elapsed, ctx is cancelled, or a fatal error
// occurs. The driver is closed on every exit path. Reaching the deadline
// returns a nil error.
func (c *Collector) Run(ctx context.Context, session *auth.Session) (*Summary, error) {
	now := c.clock.Now()
	run := &Run{
		ID:       uuid.NewString(),
		Start:    now,
		Deadline: now.Add(c.cfg.MaxDuration),
		State:    StateInitializing,
		Session:  session,
	}
	log := c.logger.WithField("run_id", run.ID)

	log.WithFields(logrus.Fields{
		"target":   c.cfg.TargetURL,
		"interval": c.cfg.PollInterval.String(),
		"duration": c.cfg.MaxDuration.String(),
		"deadline": run.Deadline.Format(time.RFC3339),
	}).Info("Starting collector")

	err := c.loop(ctx, run, log)
	run.State = StateTerminated

	if cerr := c.deps.Driver.Close(); cerr != nil {
		log.WithError(cerr).Warn("Failed to close browser")
	}
	if ferr := c.metrics.Flush(); ferr != nil {
		log.WithError(ferr).Warn("Failed to write metrics")
	}

	summary := run.summary(c.clock.Now())
	log.WithFields(logrus.Fields{
		"ticks":    summary.Ticks,
		"readings": summary.Readings,
		"skipped":  summary.Skipped,
		"reauths":  summary.Reauths,
	}).Info("Collector stopped")

	return summary, err
}

func (c *Collector) loop(ctx context.Context, run *Run, log *logrus.Entry) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !c.clock.Now().Before(run.Deadline) {
			return nil
		}

		var err error
		switch run.State {
		case StateInitializing:
			err = c.initialize(ctx, run, log)
		case StatePolling:
			err = c.tick(ctx, run, log)
		case StateReauthenticating:
			err = c.reauthenticate(ctx, run, log)
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Collector) initialize(ctx context.Context, run *Run, log *logrus.Entry) error {
	if !run.Session.Valid() {
		log.Warn("No initial session, authenticating first")
		run.State = StateReauthenticating
		return nil
	}
	if err := c.deps.Driver.ApplySession(ctx, c.cfg.TargetURL, run.Session); err != nil {
		return c.browserFailure(ctx, err)
	}
	run.State = StatePolling
	return nil
}

func (c *Collector) tick(ctx context.Context, run *Run, log *logrus.Entry) error {
	run.Tick++
	c.metrics.Tick()
	tl := log.WithField("tick", run.Tick)

	reading, err := c.poll(ctx)
	switch {
	case err == nil:
		if err := c.deps.Sink.Append(reading); err != nil {
			return &FatalError{Kind: ErrDiskWriteFailure, Err: err}
		}
		run.Readings++
		c.metrics.Reading(float64(reading.Timestamp.Unix()), reading.Numeric, reading.IsNumeric)
		tl.WithField("value", reading.Value).Info("Recorded reading")

	case IsFatal(err):
		return err

	case ctx.Err() != nil:
		return ctx.Err()

	case errors.Is(err, extractor.ErrSessionExpired):
		run.Skipped++
		c.metrics.Skipped(skipReason(err))
		tl.Warn("Session expired, re-authenticating")
		run.State = StateReauthenticating

	default:
		run.Skipped++
		c.metrics.Skipped(skipReason(err))
		tl.WithError(err).Warn("Skipping tick")
	}

	if run.Tick%c.cfg.ProgressEvery == 0 {
		tl.WithFields(logrus.Fields{
			"readings":  run.Readings,
			"skipped":   run.Skipped,
			"reauths":   run.Reauths,
			"remaining": run.Remaining(c.clock.Now()).Round(time.Second).String(),
		}).Info("Progress")
	}
	if err := c.metrics.Flush(); err != nil {
		tl.WithError(err).Warn("Failed to write metrics")
	}

	if run.State == StateReauthenticating {
		return nil
	}
	return c.wait(ctx, run, c.cfg.PollInterval)
}

// poll loads the page and extracts one reading.
func (c *Collector) poll(ctx context.Context) (scraper.Reading, error) {
	snap, err := c.deps.Driver.Load(ctx, c.cfg.TargetURL)
	if err != nil {
		if ctx.Err() != nil {
			return scraper.Reading{}, ctx.Err()
		}
		if aliveErr := c.deps.Driver.Alive(ctx); aliveErr != nil {
			if ctx.Err() != nil {
				return scraper.Reading{}, ctx.Err()
			}
			return scraper.Reading{}, &FatalError{Kind: ErrBrowserCrash, Err: errors.Join(err, aliveErr)}
		}
		return scraper.Reading{}, fmt.Errorf("%w: %v", extractor.ErrTransientDOMState, err)
	}

	raw, err := c.deps.Extractor.Extract(snap)
	if err != nil {
		if errors.Is(err, extractor.ErrElementNotFound) && c.logger.IsLevelEnabled(logrus.DebugLevel) {
			c.logger.WithFields(logrus.Fields{
				"url":   snap.URL,
				"title": snap.Title,
				"page":  extractor.Digest(snap, 500),
			}).Debug("Value element missing")
		}
		return scraper.Reading{}, err
	}
	return scraper.NewReading(c.clock.Now(), raw), nil
}

func (c *Collector) reauthenticate(ctx context.Context, run *Run, log *logrus.Entry) error {
	al := log.WithField("attempt", run.reauthFailures+1)

	session, err := c.deps.Auth.Authenticate(ctx, c.deps.Credentials)
	if err == nil {
		if err := c.deps.Driver.ApplySession(ctx, c.cfg.TargetURL, session); err != nil {
			return c.browserFailure(ctx, err)
		}
		run.Session = session
		run.Reauths++
		run.reauthFailures = 0
		run.backoff = 0
		run.State = StatePolling
		c.metrics.Reauth(true)
		al.WithField("cookies", len(session.Cookies)).Info("Re-authenticated")

		if run.Tick == 0 {
			return nil
		}
		return c.wait(ctx, run, c.cfg.PollInterval)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	run.reauthFailures++
	c.metrics.Reauth(false)

	if limit := c.cfg.ReauthMaxAttempts; limit > 0 && run.reauthFailures >= limit {
		al.WithError(err).Error("Giving up on re-authentication")
		return fmt.Errorf("%w after %d attempts: %v", ErrReauthExhausted, run.reauthFailures, err)
	}

	delay := c.nextBackoff(run)
	al.WithError(err).WithFields(logrus.Fields{
		"invalid_credentials": errors.Is(err, auth.ErrInvalidCredentials),
		"retry_in":            delay.Round(time.Millisecond).String(),
	}).Warn("Re-authentication failed")
	return c.wait(ctx, run, delay)
}

// nextBackoff doubles the delay up to the cap and applies ±25% jitter.
func (c *Collector) nextBackoff(run *Run) time.Duration {
	if run.backoff == 0 {
		run.backoff = c.cfg.ReauthBaseDelay
	} else {
		run.backoff *= 2
		if run.backoff > c.cfg.ReauthMaxDelay {
			run.backoff = c.cfg.ReauthMaxDelay
		}
	}
	return time.Duration(float64(run.backoff) * (0.75 + c.jitter()*0.5))
}

func (c *Collector) browserFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &FatalError{Kind: ErrBrowserCrash, Err: err}
}

// wait sleeps for d, never past the run deadline.
func (c *Collector) wait(ctx context.Context, run *Run, d time.Duration) error {
	if remaining := run.Remaining(c.clock.Now()); d > remaining {
		d = remaining
	}
	if d <= 0 {
		return nil
	}
	return c.sleep(ctx, d)
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, extractor.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, extractor.ErrElementNotFound):
		return "element_not_found"
	default:
		return "transient"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
