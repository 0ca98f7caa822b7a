package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creepwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.TargetURL = "https://learn5.open.ac.uk/mod/htmlactivity/view.php?id=193"
	cfg.LoginURL = "https://learn5.open.ac.uk/api/login"
	cfg.Selectors.Value = "#reading"
	return cfg
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 7*24*time.Hour, cfg.MaxDuration)
	assert.Equal(t, "sensor_data.csv", cfg.Output.Path)
	assert.True(t, cfg.RefreshEachTick)
	assert.True(t, cfg.Browser.Headless)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
target_url: https://learn5.open.ac.uk/mod/htmlactivity/view.php?id=193
login_url: https://learn5.open.ac.uk/api/login
email: student@open.ac.uk
poll_interval: 10s
max_duration: 2h
refresh_each_tick: false
output:
  type: sqlite
  path: readings.db
selectors:
  value: "#extension"
  login_url_contains: /login
browser:
  headless: false
wait:
  for: idle
reauth:
  max_attempts: 5
experiment:
  start: 2025-08-11T11:00:00Z
  original_length_mm: 50
auth:
  cookie_fields:
    data.session.id: MoodleSession
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "student@open.ac.uk", cfg.Email)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Hour, cfg.MaxDuration)
	assert.False(t, cfg.RefreshEachTick)
	assert.Equal(t, OutputConfig{Type: "sqlite", Path: "readings.db"}, cfg.Output)
	assert.Equal(t, "#extension", cfg.Selectors.Value)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "idle", cfg.Wait.For)
	// Unset nested fields keep their defaults.
	assert.Equal(t, 20*time.Second, cfg.Wait.Timeout)
	assert.Equal(t, 5, cfg.Reauth.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Reauth.BaseDelay)
	assert.Equal(t, time.Date(2025, 8, 11, 11, 0, 0, 0, time.UTC), cfg.Experiment.Start.UTC())
	assert.Equal(t, 50.0, cfg.Experiment.OriginalLengthMM)
	assert.Equal(t, map[string]string{"data.session.id": "MoodleSession"}, cfg.Auth.CookieFields)
	assert.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "poll_interval: [not a duration\n")

	cfg, err := Load(path)

	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "target_url: https://a.example/\npoll_interval: 10s\n")
	t.Setenv(EnvTargetURL, "https://b.example/view")
	t.Setenv(EnvLoginURL, "https://b.example/login")
	t.Setenv(EnvPollInterval, "45s")
	t.Setenv(EnvMaxDuration, "24h")
	t.Setenv(EnvOutput, "/data/out.csv")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "https://b.example/view", cfg.TargetURL)
	assert.Equal(t, "https://b.example/login", cfg.LoginURL)
	assert.Equal(t, 45*time.Second, cfg.PollInterval)
	assert.Equal(t, 24*time.Hour, cfg.MaxDuration)
	assert.Equal(t, "/data/out.csv", cfg.Output.Path)
}

func TestLoad_InvalidEnvironmentDuration(t *testing.T) {
	t.Setenv(EnvPollInterval, "thirty")

	_, err := Load("")

	assert.ErrorContains(t, err, EnvPollInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing target", func(c *Config) { c.TargetURL = "" }, "target_url is required"},
		{"relative target", func(c *Config) { c.TargetURL = "/view.php" }, "target_url must be an absolute http(s) URL"},
		{"ftp login", func(c *Config) { c.LoginURL = "ftp://x.example/" }, "login_url must be an absolute http(s) URL"},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval must be positive"},
		{"negative duration", func(c *Config) { c.MaxDuration = -time.Second }, "max_duration must be positive"},
		{"no selector", func(c *Config) { c.Selectors.Value = " " }, "selectors.value is required"},
		{"unknown wait", func(c *Config) { c.Wait.For = "dom" }, "wait.for must be one of"},
		{"bad wait time", func(c *Config) { c.Wait.For = "time"; c.Wait.Target = "2s" }, "wait.target must be milliseconds"},
		{"wait time", func(c *Config) { c.Wait.For = "time"; c.Wait.Target = "1500" }, ""},
		{"negative attempts", func(c *Config) { c.Reauth.MaxAttempts = -1 }, "reauth.max_attempts"},
		{"max below base", func(c *Config) { c.Reauth.MaxDelay = time.Second }, "reauth.max_delay"},
		{"negative length", func(c *Config) { c.Experiment.OriginalLengthMM = -50 }, "original_length_mm"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no output path", func(c *Config) { c.Output.Path = "" }, "output.path is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_url is required")
	assert.Contains(t, err.Error(), "login_url is required")
	assert.Contains(t, err.Error(), "selectors.value is required")
}

func TestValidateLogin(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.ValidateLogin(), "login_url is required")

	cfg.LoginURL = "https://learn5.open.ac.uk/api/login"
	assert.NoError(t, cfg.ValidateLogin())
}
