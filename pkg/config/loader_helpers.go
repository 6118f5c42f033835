package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Strings and durations win when
// non-zero; booleans win only when the file sets them.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Runner.RunsDir != "" {
		base.Runner.RunsDir = override.Runner.RunsDir
	}
	if override.Runner.EnvTag != "" {
		base.Runner.EnvTag = override.Runner.EnvTag
	}
	if override.Runner.ActionTimeout != 0 {
		base.Runner.ActionTimeout = override.Runner.ActionTimeout
	}
	if override.Runner.NavigationTimeout != 0 {
		base.Runner.NavigationTimeout = override.Runner.NavigationTimeout
	}

	if override.Browser.Driver != "" {
		base.Browser.Driver = override.Browser.Driver
	}
	if override.Browser.Engine != "" {
		base.Browser.Engine = override.Browser.Engine
	}
	if boolFieldSet(raw, "browser", "headless") {
		base.Browser.Headless = override.Browser.Headless
	}
	if boolFieldSet(raw, "browser", "install") {
		base.Browser.Install = override.Browser.Install
	}
	if boolFieldSet(raw, "browser", "slow_mo") {
		base.Browser.SlowMo = override.Browser.SlowMo
	}
	if override.Browser.Viewport.Width != 0 {
		base.Browser.Viewport.Width = override.Browser.Viewport.Width
	}
	if override.Browser.Viewport.Height != 0 {
		base.Browser.Viewport.Height = override.Browser.Viewport.Height
	}
	if boolFieldSet(raw, "browser", "record_video") {
		base.Browser.RecordVideo = override.Browser.RecordVideo
	}
	if boolFieldSet(raw, "browser", "trace") {
		base.Browser.Trace = override.Browser.Trace
	}

	if override.API.Timeout != 0 {
		base.API.Timeout = override.API.Timeout
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if boolFieldSet(raw, "logging", "console") {
		base.Logging.Console = override.Logging.Console
	}

	if boolFieldSet(raw, "store", "enabled") {
		base.Store.Enabled = override.Store.Enabled
	}
	if override.Store.Path != "" {
		base.Store.Path = override.Store.Path
	}

	if override.Server.Bind != "" {
		base.Server.Bind = override.Server.Bind
	}

	if boolFieldSet(raw, "telemetry", "tracing") {
		base.Telemetry.Tracing = override.Telemetry.Tracing
	}
	if override.Telemetry.TraceFile != "" {
		base.Telemetry.TraceFile = override.Telemetry.TraceFile
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func envDuration(key string) (time.Duration, bool) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
