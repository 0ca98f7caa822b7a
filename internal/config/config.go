package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "creepwatch.yaml"

// Environment variables that override the file.
const (
	EnvTargetURL    = "CREEPWATCH_TARGET_URL"
	EnvLoginURL     = "CREEPWATCH_LOGIN_URL"
	EnvPollInterval = "CREEPWATCH_POLL_INTERVAL"
	EnvMaxDuration  = "CREEPWATCH_MAX_DURATION"
	EnvOutput       = "CREEPWATCH_OUTPUT"
)

// Config is the whole run configuration as read from creepwatch.yaml.
type Config struct {
	TargetURL string `yaml:"target_url"`
	LoginURL  string `yaml:"login_url"`
	// Email may also come from CREEPWATCH_EMAIL. Passwords are never read from the file.
	Email string `yaml:"email"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxDuration     time.Duration `yaml:"max_duration"`
	RefreshEachTick bool          `yaml:"refresh_each_tick"`
	ProgressEvery   int           `yaml:"progress_every"`
	MetricsFile     string        `yaml:"metrics_file"`

	Output     OutputConfig     `yaml:"output"`
	Selectors  SelectorConfig   `yaml:"selectors"`
	Browser    BrowserConfig    `yaml:"browser"`
	Wait       WaitConfig       `yaml:"wait"`
	Reauth     ReauthConfig     `yaml:"reauth"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Auth       AuthConfig       `yaml:"auth"`
	Log        LogConfig        `yaml:"log"`
}

type OutputConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

type SelectorConfig struct {
	Value            string `yaml:"value"`
	ValueAttr        string `yaml:"value_attr"`
	Login            string `yaml:"login"`
	LoginURLContains string `yaml:"login_url_contains"`
}

type BrowserConfig struct {
	Headless  bool   `yaml:"headless"`
	Proxy     string `yaml:"proxy"`
	Bin       string `yaml:"bin"`
	UserAgent string `yaml:"user_agent"`
}

type WaitConfig struct {
	For     string        `yaml:"for"`
	Target  string        `yaml:"target"`
	Timeout time.Duration `yaml:"timeout"`
}

type ReauthConfig struct {
	// MaxAttempts caps consecutive failed logins; 0 retries until the deadline.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type ExperimentConfig struct {
	Start            time.Time `yaml:"start"`
	OriginalLengthMM float64   `yaml:"original_length_mm"`
}

type AuthConfig struct {
	// CookieFields maps dotted paths in the login response body to cookie names.
	CookieFields map[string]string `yaml:"cookie_fields"`
	Timeout      time.Duration     `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		PollInterval:    30 * time.Second,
		MaxDuration:     7 * 24 * time.Hour,
		RefreshEachTick: true,
		ProgressEvery:   120,
		Output:          OutputConfig{Type: "csv", Path: "sensor_data.csv"},
		Browser:         BrowserConfig{Headless: true},
		Wait:            WaitConfig{For: "element", Timeout: 20 * time.Second},
		Reauth:          ReauthConfig{BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Minute},
		Auth:            AuthConfig{Timeout: 30 * time.Second},
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvTargetURL); ok && v != "" {
		c.TargetURL = v
	}
	if v, ok := lookup(EnvLoginURL); ok && v != "" {
		c.LoginURL = v
	}
	if v, ok := lookup(EnvOutput); ok && v != "" {
		c.Output.Path = v
	}
	if v, ok := lookup(EnvPollInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPollInterval, err)
		}
		c.PollInterval = d
	}
	if v, ok := lookup(EnvMaxDuration); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxDuration, err)
		}
		c.MaxDuration = d
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if err := checkURL("target_url", c.TargetURL); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("login_url", c.LoginURL); err != nil {
		errs = append(errs, err)
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.MaxDuration <= 0 {
		errs = append(errs, errors.New("max_duration must be positive"))
	}
	if c.ProgressEvery < 0 {
		errs = append(errs, errors.New("progress_every must not be negative"))
	}
	if c.Output.Type == "" {
		errs = append(errs, errors.New("output.type is required"))
	}
	if c.Output.Path == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	if strings.TrimSpace(c.Selectors.Value) == "" {
		errs = append(errs, errors.New("selectors.value is required"))
	}

	switch c.Wait.For {
	case "load", "element", "idle":
	case "time":
		if ms, err := strconv.Atoi(c.Wait.Target); err != nil || ms < 0 {
			errs = append(errs, fmt.Errorf("wait.target must be milliseconds when wait.for is time (got %q)", c.Wait.Target))
		}
	default:
		errs = append(errs, fmt.Errorf("wait.for must be one of load, element, idle, time (got %q)", c.Wait.For))
	}

	if c.Reauth.MaxAttempts < 0 {
		errs = append(errs, errors.New("reauth.max_attempts must not be negative"))
	}
	if c.Reauth.BaseDelay <= 0 {
		errs = append(errs, errors.New("reauth.base_delay must be positive"))
	}
	if c.Reauth.MaxDelay < c.Reauth.BaseDelay {
		errs = append(errs, errors.New("reauth.max_delay must not be below reauth.base_delay"))
	}
	if c.Experiment.OriginalLengthMM < 0 {
		errs = append(errs, errors.New("experiment.original_length_mm must not be negative"))
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ValidateLogin checks only what a one-off login needs.
func (c *Config) ValidateLogin() error {
	return checkURL("login_url", c.LoginURL)
}

func checkURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL (got %q)", field, raw)
	}
	return nil
}
