package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Browser drivers.
const (
	DriverPlaywright = "playwright"
	DriverStatic     = "static"
)

// Config is the full qapilot configuration.
type Config struct {
	Runner    RunnerConfig    `yaml:"runner"`
	Browser   BrowserConfig   `yaml:"browser"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// RunnerConfig controls where runs are written and how long actions may take.
type RunnerConfig struct {
	RunsDir           string        `yaml:"runs_dir"`
	EnvTag            string        `yaml:"env_tag"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// ViewportConfig is the browser viewport in CSS pixels.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// BrowserConfig selects and configures the browser driver.
type BrowserConfig struct {
	// Driver is "playwright" (real browser) or "static" (HTML only, no JavaScript).
	Driver      string         `yaml:"driver"`
	Engine      string         `yaml:"engine"`
	Headless    bool           `yaml:"headless"`
	Install     bool           `yaml:"install"`
	SlowMo      float64        `yaml:"slow_mo"`
	Viewport    ViewportConfig `yaml:"viewport"`
	RecordVideo bool           `yaml:"record_video"`
	Trace       bool           `yaml:"trace"`
}

// APIConfig configures the API test runner.
type APIConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures the JSONL event logs.
type LoggingConfig struct {
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Bind string `yaml:"bind"`
}

// TelemetryConfig toggles span export.
type TelemetryConfig struct {
	Tracing bool `yaml:"tracing"`
	// TraceFile receives exported spans; empty means stderr.
	TraceFile string `yaml:"trace_file"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Runner: RunnerConfig{
			RunsDir:           "runs",
			EnvTag:            "Chromium/Playwright",
			ActionTimeout:     10 * time.Second,
			NavigationTimeout: 30 * time.Second,
		},
		Browser: BrowserConfig{
			Driver:      DriverPlaywright,
			Engine:      "chromium",
			Headless:    true,
			Viewport:    ViewportConfig{Width: 1280, Height: 720},
			RecordVideo: true,
			Trace:       true,
		},
		API: APIConfig{
			Timeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Dir:   "~/.qapilot/logs",
			Level: "info",
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "~/.qapilot/runs.db",
		},
		Server: ServerConfig{
			Bind: "127.0.0.1:10000",
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load user config (~/.qapilot/config.yaml)
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".qapilot", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	// Load project config (./.qapilot/config.yaml)
	projectConfigPath := filepath.Join(".", ".qapilot", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg)
}

// applyEnvOverrides applies QAPILOT_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QAPILOT_RUNS_DIR"); v != "" {
		cfg.Runner.RunsDir = v
	}
	if v := os.Getenv("QAPILOT_ENV_TAG"); v != "" {
		cfg.Runner.EnvTag = v
	}
	if d, ok := envDuration("QAPILOT_ACTION_TIMEOUT"); ok {
		cfg.Runner.ActionTimeout = d
	}
	if d, ok := envDuration("QAPILOT_NAVIGATION_TIMEOUT"); ok {
		cfg.Runner.NavigationTimeout = d
	}

	if v := os.Getenv("QAPILOT_BROWSER_DRIVER"); v != "" {
		cfg.Browser.Driver = v
	}
	if v := os.Getenv("QAPILOT_BROWSER"); v != "" {
		cfg.Browser.Engine = v
	}
	if val, ok := envBool("QAPILOT_HEADLESS"); ok {
		cfg.Browser.Headless = val
	}
	if val, ok := envBool("QAPILOT_BROWSER_INSTALL"); ok {
		cfg.Browser.Install = val
	}
	if val, ok := envBool("QAPILOT_RECORD_VIDEO"); ok {
		cfg.Browser.RecordVideo = val
	}
	if val, ok := envBool("QAPILOT_TRACE"); ok {
		cfg.Browser.Trace = val
	}

	if d, ok := envDuration("QAPILOT_API_TIMEOUT"); ok {
		cfg.API.Timeout = d
	}

	if v := os.Getenv("QAPILOT_LOG_DIR"); v != "" {
		cfg.Logging.Dir = v
	}
	if v := os.Getenv("QAPILOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("QAPILOT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if val, ok := envBool("QAPILOT_STORE_ENABLED"); ok {
		cfg.Store.Enabled = val
	}

	if v := os.Getenv("QAPILOT_BIND"); v != "" {
		cfg.Server.Bind = v
	} else if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Server.Bind = net.JoinHostPort("0.0.0.0", port)
	}

	if val, ok := envBool("QAPILOT_TRACING"); ok {
		cfg.Telemetry.Tracing = val
	}
}

func (c *Config) expandPaths() {
	c.Runner.RunsDir = expandHomeDir(c.Runner.RunsDir)
	c.Logging.Dir = expandHomeDir(c.Logging.Dir)
	c.Store.Path = expandHomeDir(c.Store.Path)
	c.Telemetry.TraceFile = expandHomeDir(c.Telemetry.TraceFile)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Runner.RunsDir) == "" {
		return fmt.Errorf("runner.runs_dir is required")
	}
	if c.Runner.ActionTimeout <= 0 {
		return fmt.Errorf("runner.action_timeout must be positive")
	}
	if c.Runner.NavigationTimeout <= 0 {
		return fmt.Errorf("runner.navigation_timeout must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.Browser.Driver)) {
	case DriverPlaywright:
		switch strings.ToLower(strings.TrimSpace(c.Browser.Engine)) {
		case "chromium", "firefox", "webkit":
		default:
			return fmt.Errorf("invalid browser.engine %q (must be chromium, firefox or webkit)", c.Browser.Engine)
		}
	case DriverStatic:
	default:
		return fmt.Errorf("invalid browser.driver %q (must be playwright or static)", c.Browser.Driver)
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport must have positive width and height")
	}
	if c.Browser.SlowMo < 0 {
		return fmt.Errorf("browser.slow_mo must be >= 0")
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}

	if c.Store.Enabled && strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return fmt.Errorf("server.bind is required")
	}
	if _, port, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("invalid server.bind %q: %w", c.Server.Bind, err)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid server.bind port %q", port)
	}
	return nil
}

// ValidationWarnings reports settings that are valid but probably unintended.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if !isLoopbackBindAddress(c.Server.Bind) {
		warnings = append(warnings, fmt.Sprintf("server.bind %q is reachable from other hosts and has no authentication", c.Server.Bind))
	}
	if c.Browser.Driver == DriverStatic && (c.Browser.RecordVideo || c.Browser.Trace) {
		warnings = append(warnings, "static driver records a GIF slideshow and a JSON action trace, not a real video or Playwright trace")
	}
	if c.Browser.Driver == DriverPlaywright && !c.Browser.Headless && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		warnings = append(warnings, "browser.headless is false but no display is available")
	}
	return warnings
}
