// Package playwright drives a real browser through playwright-go. It is the
// default runtime: one browser process per run, one browser context per test
// case, with video recording and tracing handled by Playwright itself.
package playwright

import (
	"fmt"
	"strings"
)

// Browser engines Playwright can launch.
const (
	EngineChromium = "chromium"
	EngineFirefox  = "firefox"
	EngineWebKit   = "webkit"
)

// Config controls how the browser process is started.
type Config struct {
	Browser  string
	Headless bool
	// Install downloads the driver and browser before the first launch.
	Install bool
	// SlowMo delays every Playwright operation, in milliseconds.
	SlowMo float64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Browser:  EngineChromium,
		Headless: true,
	}
}

func (c Config) withDefaults() Config {
	c.Browser = strings.ToLower(strings.TrimSpace(c.Browser))
	if c.Browser == "" {
		c.Browser = EngineChromium
	}
	if c.SlowMo < 0 {
		c.SlowMo = 0
	}
	return c
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	switch c.Browser {
	case EngineChromium, EngineFirefox, EngineWebKit:
		return nil
	default:
		return fmt.Errorf("unsupported browser %q (want chromium, firefox or webkit)", c.Browser)
	}
}
