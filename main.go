package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"creepwatch/internal/auth"
	"creepwatch/internal/browser"
	"creepwatch/internal/collector"
	"creepwatch/internal/config"
	"creepwatch/internal/credentials"
	"creepwatch/internal/extractor"
	"creepwatch/internal/fetcher"
	"creepwatch/internal/formatter"
	"creepwatch/internal/metrics"
	"creepwatch/internal/scraper"
	_ "creepwatch/internal/sinks/csvsink"
	_ "creepwatch/internal/sinks/sqlitesink"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	targetURL  string
	loginURL   string
	outputFile string
	interval   time.Duration
	duration   time.Duration
	showUI     bool
	proxyURL   string
	logLevel   string

	storePassword  bool
	forgetPassword bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "creepwatch",
		Short:   "Record a sensor reading from a logged-in web page at a fixed interval",
		Version: version,
		Long: `creepwatch logs in to a site, keeps a headless browser on the page that
shows a live sensor value, and appends one timestamped reading per poll to a
CSV file until the run duration elapses. Expired sessions are renewed
automatically.`,
		Example: `  # Run with creepwatch.yaml in the working directory
  CREEPWATCH_EMAIL=me@open.ac.uk CREEPWATCH_PASSWORD=... creepwatch

  # One hour at 10 second intervals into a separate file
  creepwatch --interval 10s --duration 1h -o trial.csv

  # Store readings in SQLite instead of CSV
  creepwatch -o readings.db

  # Check the login and save the password in the OS keyring
  CREEPWATCH_PASSWORD=... creepwatch login --store`,
		Args:         cobra.NoArgs,
		RunE:         run,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&loginURL, "login-url", "", "Login endpoint URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVarP(&targetURL, "target", "u", "", "URL of the page showing the reading")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (sink inferred from extension: .csv, .db, .sqlite)")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", 0, "Polling interval (e.g. 30s)")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Total run duration (e.g. 168h)")
	rootCmd.Flags().BoolVar(&showUI, "showui", false, "Show browser UI (disable headless mode)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", os.Getenv("CREEPWATCH_PROXY"), "Proxy URL (e.g. http://127.0.0.1:7890), defaults to CREEPWATCH_PROXY env var")

	loginCmd := &cobra.Command{
		Use:          "login",
		Short:        "Log in once and print the session cookie names",
		Args:         cobra.NoArgs,
		RunE:         runLogin,
		SilenceUsage: true,
	}
	loginCmd.Flags().BoolVar(&storePassword, "store", false, "Save the password in the OS keyring after a successful login")
	loginCmd.Flags().BoolVar(&forgetPassword, "forget", false, "Remove the stored password from the OS keyring and exit")
	rootCmd.AddCommand(loginCmd)

	return rootCmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.WithFields(logrus.Fields{
		"target":   cfg.TargetURL,
		"interval": cfg.PollInterval.String(),
		"duration": cfg.MaxDuration.String(),
		"output":   cfg.Output.Path,
		"sink":     cfg.Output.Type,
	}).Info("Loaded configuration")

	creds, err := credentials.Resolve(cfg.Email)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout := formatter.Layout{
		ExperimentStart:  cfg.Experiment.Start,
		OriginalLengthMM: cfg.Experiment.OriginalLengthMM,
	}
	sink, err := scraper.OpenSink(cfg.Output.Type, scraper.SinkOptions{
		Path:    cfg.Output.Path,
		Columns: formatter.Columns(layout),
		Record:  func(r scraper.Reading) []string { return formatter.Record(layout, r) },
	})
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close output")
		}
	}()

	authenticator := newAuthenticator(cfg, logger)
	session, err := authenticator.Authenticate(ctx, creds)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// The collector starts in re-authentication and retries with backoff.
		logger.WithError(err).Warn("Initial login failed")
		session = nil
	}

	b, err := browser.New(browser.Config{
		Headless:  cfg.Browser.Headless,
		ProxyURL:  cfg.Browser.Proxy,
		Bin:       cfg.Browser.Bin,
		UserAgent: cfg.Browser.UserAgent,
	})
	if err != nil {
		return err
	}

	f := fetcher.NewFetcher(b, fetcher.Options{
		WaitFor:         fetcher.WaitStrategy(cfg.Wait.For),
		WaitTarget:      cfg.Wait.Target,
		Timeout:         cfg.Wait.Timeout,
		RefreshEachTick: cfg.RefreshEachTick,
	}, logger)

	c := collector.New(collector.Config{
		TargetURL:         cfg.TargetURL,
		PollInterval:      cfg.PollInterval,
		MaxDuration:       cfg.MaxDuration,
		ReauthMaxAttempts: cfg.Reauth.MaxAttempts,
		ReauthBaseDelay:   cfg.Reauth.BaseDelay,
		ReauthMaxDelay:    cfg.Reauth.MaxDelay,
		ProgressEvery:     cfg.ProgressEvery,
	}, collector.Deps{
		Driver:      f,
		Auth:        authenticator,
		Credentials: creds,
		Extractor:   newExtractor(cfg),
		Sink:        sink,
	}, logger, collector.WithMetrics(metrics.New(cfg.MetricsFile)))

	summary, err := c.Run(ctx, session)
	return finish(logger, summary, err, cfg.Output.Path)
}

// finish maps the collector result to the command result: a signal is a
// clean stop, anything else that failed makes the process exit non-zero.
func finish(logger *logrus.Logger, summary *collector.Summary, err error, output string) error {
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("Received shutdown signal")
		return nil
	case err != nil:
		logger.WithError(err).Error("Collector failed")
		return err
	}

	fmt.Fprintf(os.Stderr, "Recorded %d readings in %d ticks to %s\n", summary.Readings, summary.Ticks, output)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	if forgetPassword {
		email := credentials.Email(cfg.Email)
		if email == "" {
			return fmt.Errorf("no email to forget: set %s or email in the config file", credentials.EnvEmail)
		}
		if err := credentials.Forget(email); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Removed stored password for %s\n", email)
		return nil
	}

	if err := cfg.ValidateLogin(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	creds, err := credentials.Resolve(cfg.Email)
	if err != nil {
		return err
	}

	session, err := newAuthenticator(cfg, logger).Authenticate(cmd.Context(), creds)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Println(strings.Join(session.Names(), "\n"))

	if storePassword {
		if err := credentials.Store(creds); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Password for %s stored in the keyring\n", creds.Email)
	}
	return nil
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cmd.Flags().Changed("config") {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.TargetURL = normalizeURL(targetURL)
	}
	if flags.Changed("login-url") {
		cfg.LoginURL = normalizeURL(loginURL)
	}
	if flags.Changed("output") {
		cfg.Output.Path = outputFile
		if sink := inferSinkFromExtension(outputFile); sink != "" {
			cfg.Output.Type = sink
		}
	}
	if flags.Changed("interval") {
		cfg.PollInterval = interval
	}
	if flags.Changed("duration") {
		cfg.MaxDuration = duration
	}
	if flags.Changed("showui") {
		cfg.Browser.Headless = !showUI
	}
	if proxyURL != "" && (flags.Changed("proxy") || cfg.Browser.Proxy == "") {
		cfg.Browser.Proxy = proxyURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	if cfg.Wait.For == string(fetcher.WaitStrategyElement) && cfg.Wait.Target == "" {
		cfg.Wait.Target = cfg.Selectors.Value
	}
	return cfg, nil
}

// newLogger builds the process logger. The returned func closes the log file.
func newLogger(lc config.LogConfig) (*logrus.Logger, func(), error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	if lc.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if lc.File == "" {
		return logger, func() {}, nil
	}
	f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return logger, func() { f.Close() }, nil
}

func newAuthenticator(cfg *config.Config, logger *logrus.Logger) *auth.Authenticator {
	return auth.New(auth.Options{
		LoginURL:     cfg.LoginURL,
		CookieFields: cfg.Auth.CookieFields,
		Timeout:      cfg.Auth.Timeout,
		UserAgent:    cfg.Browser.UserAgent,
	}, logger)
}

func newExtractor(cfg *config.Config) *extractor.Extractor {
	return extractor.NewExtractor(extractor.Selectors{
		Value:            cfg.Selectors.Value,
		ValueAttr:        cfg.Selectors.ValueAttr,
		Login:            cfg.Selectors.Login,
		LoginURLContains: cfg.Selectors.LoginURLContains,
	})
}

// inferSinkFromExtension picks a sink from the output file extension
func inferSinkFromExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".db", ".sqlite", ".sqlite3":
		return "sqlite"
	case ".csv":
		return "csv"
	default:
		return ""
	}
}

// normalizeURL normalizes URL, adds https:// if no protocol prefix
func normalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return rawURL
	}
	if !strings.HasPrefix(strings.ToLower(rawURL), "http://") && !strings.HasPrefix(strings.ToLower(rawURL), "https://") {
		return "https://" + rawURL
	}
	return rawURL
}
