package browser

import "time"

// Viewport defines the browser viewport size.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// SessionConfig configures one isolated browser session.
type SessionConfig struct {
	SessionID string `json:"session_id"`
	// ArtifactDir receives the session video and trace.
	ArtifactDir       string        `json:"artifact_dir"`
	Viewport          Viewport      `json:"viewport"`
	RecordVideo       bool          `json:"record_video"`
	Trace             bool          `json:"trace"`
	ActionTimeout     time.Duration `json:"action_timeout"`
	NavigationTimeout time.Duration `json:"navigation_timeout"`
}

// DefaultSessionConfig returns the recommended session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Viewport: Viewport{
			Width:  1280,
			Height: 720,
		},
		RecordVideo:       true,
		Trace:             true,
		ActionTimeout:     10 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

// Normalize fills zero values from the defaults.
func (c SessionConfig) Normalize() SessionConfig {
	defaults := DefaultSessionConfig()
	if c.Viewport.Width <= 0 {
		c.Viewport.Width = defaults.Viewport.Width
	}
	if c.Viewport.Height <= 0 {
		c.Viewport.Height = defaults.Viewport.Height
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaults.ActionTimeout
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaults.NavigationTimeout
	}
	return c
}

// Artifacts lists files a session wrote on close. Empty fields mean the
// file was not produced.
type Artifacts struct {
	Video string `json:"video,omitempty"`
	Trace string `json:"trace,omitempty"`
}
