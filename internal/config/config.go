package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const (
	defaultProbeHost     = "host.testcontainers.internal"
	defaultProbeGreeting = "Hello from client!"
	defaultLaunchMode    = LaunchModeSequential
	defaultDBPath        = ":memory:"
	defaultLogFormat     = LogFormatJSON
	defaultShutdownGrace = 5 * time.Second
	defaultVerifyTimeout = 10 * time.Second

	envConfigFile       = "RPW_CONFIG_FILE"
	envLogLevel         = "RPW_LOG_LEVEL"
	envLogFormat        = "RPW_LOG_FORMAT"
	envProbeHost        = "RPW_PROBE_HOST"
	envProbeGreeting    = "RPW_PROBE_GREETING"
	envProbeDialTimeout = "RPW_PROBE_DIAL_TIMEOUT"
	envProbeReadTimeout = "RPW_PROBE_READ_TIMEOUT"
	envLaunchTimeout    = "RPW_LAUNCH_TIMEOUT"
	envLaunchMode       = "RPW_LAUNCH_MODE"
	envCleanupOnFailure = "RPW_CLEANUP_ON_FAILURE"
	envVerifyEndpoints  = "RPW_VERIFY_ENDPOINTS"
	envVerifyTimeout    = "RPW_VERIFY_TIMEOUT"
	envDriverCommand    = "RPW_DRIVER_COMMAND"
	envInstallBrowsers  = "RPW_INSTALL_BROWSERS"
	envStatusAddr       = "RPW_STATUS_ADDR"
	envDBPath           = "RPW_DB_PATH"
	envShutdownGrace    = "RPW_SHUTDOWN_GRACE"
)

// Launch modes.
const (
	LaunchModeSequential = "sequential"
	LaunchModeParallel   = "parallel"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config holds application configuration. Values come from defaults, then an
// optional INI file, then environment variables.
//
// Timeouts of zero mean "wait forever". That is the default for the probe and
// for launches: neither has a deadline unless one is configured.
type Config struct {
	LogLevel  slog.Level
	LogFormat string

	ProbeHost        string
	ProbeGreeting    string
	ProbeDialTimeout time.Duration
	ProbeReadTimeout time.Duration

	LaunchTimeout    time.Duration
	LaunchMode       string
	CleanupOnFailure bool
	VerifyEndpoints  bool
	VerifyTimeout    time.Duration

	// DriverCommand overrides the Playwright driver invocation, shell-quoted
	// (e.g. "npx playwright"). Empty uses the playwright-go driver.
	DriverCommand   string
	InstallBrowsers bool

	// StatusAddr is the listen address of the status server. Empty disables it.
	StatusAddr string
	DBPath     string

	ShutdownGrace time.Duration
}

// fileConfig mirrors Config as INI sections.
type fileConfig struct {
	Log struct {
		Level  string `ini:"level"`
		Format string `ini:"format"`
	} `ini:"log"`
	Probe struct {
		Host        string `ini:"host"`
		Greeting    string `ini:"greeting"`
		DialTimeout string `ini:"dial_timeout"`
		ReadTimeout string `ini:"read_timeout"`
	} `ini:"probe"`
	Launch struct {
		Timeout          string `ini:"timeout"`
		Mode             string `ini:"mode"`
		CleanupOnFailure string `ini:"cleanup_on_failure"`
		VerifyEndpoints  string `ini:"verify_endpoints"`
		VerifyTimeout    string `ini:"verify_timeout"`
		DriverCommand    string `ini:"driver_command"`
		InstallBrowsers  string `ini:"install_browsers"`
		ShutdownGrace    string `ini:"shutdown_grace"`
	} `ini:"launch"`
	Status struct {
		Addr   string `ini:"addr"`
		DBPath string `ini:"db_path"`
	} `ini:"status"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		LogLevel:      slog.LevelInfo,
		LogFormat:     defaultLogFormat,
		ProbeHost:     defaultProbeHost,
		ProbeGreeting: defaultProbeGreeting,
		LaunchMode:    defaultLaunchMode,
		VerifyTimeout: defaultVerifyTimeout,
		DBPath:        defaultDBPath,
		ShutdownGrace: defaultShutdownGrace,
	}
}

// Load builds the configuration from defaults, the INI file named by
// RPW_CONFIG_FILE (if any) and environment variables, in that order.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	src := func(key string) string { return os.Getenv(key) }
	if err := apply(&cfg, map[string]string{
		envLogLevel:         src(envLogLevel),
		envLogFormat:        src(envLogFormat),
		envProbeHost:        src(envProbeHost),
		envProbeGreeting:    src(envProbeGreeting),
		envProbeDialTimeout: src(envProbeDialTimeout),
		envProbeReadTimeout: src(envProbeReadTimeout),
		envLaunchTimeout:    src(envLaunchTimeout),
		envLaunchMode:       src(envLaunchMode),
		envCleanupOnFailure: src(envCleanupOnFailure),
		envVerifyEndpoints:  src(envVerifyEndpoints),
		envVerifyTimeout:    src(envVerifyTimeout),
		envDriverCommand:    src(envDriverCommand),
		envInstallBrowsers:  src(envInstallBrowsers),
		envStatusAddr:       src(envStatusAddr),
		envDBPath:           src(envDBPath),
		envShutdownGrace:    src(envShutdownGrace),
	}); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile applies the INI file at path on top of cfg.
func LoadFile(cfg *Config, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := f.MapTo(&fc); err != nil {
		return fmt.Errorf("map config file %s: %w", path, err)
	}

	if err := apply(cfg, map[string]string{
		envLogLevel:         fc.Log.Level,
		envLogFormat:        fc.Log.Format,
		envProbeHost:        fc.Probe.Host,
		envProbeGreeting:    fc.Probe.Greeting,
		envProbeDialTimeout: fc.Probe.DialTimeout,
		envProbeReadTimeout: fc.Probe.ReadTimeout,
		envLaunchTimeout:    fc.Launch.Timeout,
		envLaunchMode:       fc.Launch.Mode,
		envCleanupOnFailure: fc.Launch.CleanupOnFailure,
		envVerifyEndpoints:  fc.Launch.VerifyEndpoints,
		envVerifyTimeout:    fc.Launch.VerifyTimeout,
		envDriverCommand:    fc.Launch.DriverCommand,
		envInstallBrowsers:  fc.Launch.InstallBrowsers,
		envShutdownGrace:    fc.Launch.ShutdownGrace,
		envStatusAddr:       fc.Status.Addr,
		envDBPath:           fc.Status.DBPath,
	}); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// apply sets every non-empty value in vals onto cfg. Keys are the env names.
func apply(cfg *Config, vals map[string]string) error {
	var err error

	if v := vals[envLogLevel]; v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := vals[envLogFormat]; v != "" {
		switch strings.ToLower(v) {
		case LogFormatJSON, LogFormatText:
			cfg.LogFormat = strings.ToLower(v)
		default:
			return fmt.Errorf("%s: unknown log format %q", envLogFormat, v)
		}
	}
	if v := vals[envProbeHost]; v != "" {
		cfg.ProbeHost = v
	}
	if v := vals[envProbeGreeting]; v != "" {
		cfg.ProbeGreeting = v
	}
	if cfg.ProbeDialTimeout, err = durationOr(envProbeDialTimeout, vals, cfg.ProbeDialTimeout); err != nil {
		return err
	}
	if cfg.ProbeReadTimeout, err = durationOr(envProbeReadTimeout, vals, cfg.ProbeReadTimeout); err != nil {
		return err
	}
	if cfg.LaunchTimeout, err = durationOr(envLaunchTimeout, vals, cfg.LaunchTimeout); err != nil {
		return err
	}
	if v := vals[envLaunchMode]; v != "" {
		switch strings.ToLower(v) {
		case LaunchModeSequential, LaunchModeParallel:
			cfg.LaunchMode = strings.ToLower(v)
		default:
			return fmt.Errorf("%s: unknown launch mode %q", envLaunchMode, v)
		}
	}
	if cfg.CleanupOnFailure, err = boolOr(envCleanupOnFailure, vals, cfg.CleanupOnFailure); err != nil {
		return err
	}
	if cfg.VerifyEndpoints, err = boolOr(envVerifyEndpoints, vals, cfg.VerifyEndpoints); err != nil {
		return err
	}
	if cfg.VerifyTimeout, err = durationOr(envVerifyTimeout, vals, cfg.VerifyTimeout); err != nil {
		return err
	}
	if v := vals[envDriverCommand]; v != "" {
		cfg.DriverCommand = v
	}
	if cfg.InstallBrowsers, err = boolOr(envInstallBrowsers, vals, cfg.InstallBrowsers); err != nil {
		return err
	}
	if v := vals[envStatusAddr]; v != "" {
		cfg.StatusAddr = v
	}
	if v := vals[envDBPath]; v != "" {
		cfg.DBPath = v
	}
	if cfg.ShutdownGrace, err = durationOr(envShutdownGrace, vals, cfg.ShutdownGrace); err != nil {
		return err
	}
	return nil
}

func durationOr(key string, vals map[string]string, def time.Duration) (time.Duration, error) {
	v := vals[key]
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, v)
	}
	return d, nil
}

func boolOr(key string, vals map[string]string, def bool) (bool, error) {
	v := vals[key]
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at the configured level.
// format is "json" or "text"; anything else falls back to JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
