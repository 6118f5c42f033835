// Package static is a browser runtime that fetches pages over HTTP and
// interprets them with goquery. It does not execute JavaScript. Links are
// followed and forms are submitted, which is enough for server-rendered
// applications, dry runs of test scripts and the runner's own tests.
package static

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config controls the static runtime.
type Config struct {
	UserAgent    string
	MaxBodyBytes int64
	// MaxFrames caps the number of screenshots kept for the session video.
	MaxFrames int
	// FrameDelay is the time each frame is shown in the session video.
	FrameDelay time.Duration
	Transport  http.RoundTripper
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:    "qapilot-static/1.0",
		MaxBodyBytes: 8 << 20,
		MaxFrames:    120,
		FrameDelay:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.UserAgent) != "" {
		defaults.UserAgent = c.UserAgent
	}
	if c.MaxBodyBytes > 0 {
		defaults.MaxBodyBytes = c.MaxBodyBytes
	}
	if c.MaxFrames > 0 {
		defaults.MaxFrames = c.MaxFrames
	}
	if c.FrameDelay > 0 {
		defaults.FrameDelay = c.FrameDelay
	}
	defaults.Transport = c.Transport
	return defaults
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be greater than zero")
	}
	if c.MaxFrames <= 0 {
		return errors.New("max_frames must be greater than zero")
	}
	return nil
}
