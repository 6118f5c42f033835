package static

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"

	"github.com/odvcencio/qapilot/pkg/browser"
)

// Launcher starts static runtimes.
type Launcher struct {
	cfg Config
}

// NewLauncher validates cfg and returns a launcher.
func NewLauncher(cfg Config) (*Launcher, error) {
	merged := cfg.withDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Launcher{cfg: merged}, nil
}

// Name identifies the driver in reports.
func (l *Launcher) Name() string {
	return "static"
}

// Launch returns a runtime. There is no external process to start.
func (l *Launcher) Launch(ctx context.Context) (browser.Runtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrUnavailable, err)
	}
	transport := l.cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Runtime{cfg: l.cfg, transport: transport}, nil
}

// Runtime hands out sessions that share a transport but nothing else.
type Runtime struct {
	cfg       Config
	transport http.RoundTripper
	mu        sync.Mutex
	closed    bool
}

// NewSession creates a session with its own cookie jar.
func (r *Runtime) NewSession(ctx context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, browser.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, browser.Timeout("Opening browser session timed out", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Transport: r.transport}
	return newSession(cfg, r.cfg, client), nil
}

// Close marks the runtime unusable.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
