package playwright

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	pw "github.com/playwright-community/playwright-go"

	"github.com/odvcencio/qapilot/pkg/browser"
)

// Launcher starts a Playwright driver and one browser process.
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
	return "playwright/" + l.cfg.Browser
}

// Launch starts the driver and the browser. Any failure here is fatal to
// the run and is reported as browser.ErrUnavailable.
func (l *Launcher) Launch(ctx context.Context) (browser.Runtime, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrUnavailable, err)
	}
	if l.cfg.Install {
		if err := pw.Install(&pw.RunOptions{Browsers: []string{l.cfg.Browser}}); err != nil {
			return nil, fmt.Errorf("%w: install playwright: %v", browser.ErrUnavailable, err)
		}
	}
	driver, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: start playwright: %v", browser.ErrUnavailable, err)
	}

	var engine pw.BrowserType
	switch l.cfg.Browser {
	case EngineFirefox:
		engine = driver.Firefox
	case EngineWebKit:
		engine = driver.WebKit
	default:
		engine = driver.Chromium
	}
	opts := pw.BrowserTypeLaunchOptions{Headless: pw.Bool(l.cfg.Headless)}
	if l.cfg.SlowMo > 0 {
		opts.SlowMo = pw.Float(l.cfg.SlowMo)
	}
	b, err := engine.Launch(opts)
	if err != nil {
		_ = driver.Stop()
		return nil, fmt.Errorf("%w: launch %s: %v", browser.ErrUnavailable, l.cfg.Browser, err)
	}
	return &Runtime{driver: driver, browser: b}, nil
}

// Runtime owns the browser process. Sessions are isolated browser contexts.
type Runtime struct {
	driver  *pw.Playwright
	browser pw.Browser

	mu     sync.Mutex
	closed bool
}

// NewSession opens a fresh browser context and page.
func (r *Runtime) NewSession(ctx context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, browser.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, browser.Timeout("Opening browser session timed out", err)
	}
	if !r.browser.IsConnected() {
		return nil, browser.WrapDriverError("crashed", "Browser is no longer connected", browser.ErrCrashed)
	}

	size := &pw.Size{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height}
	opts := pw.BrowserNewContextOptions{Viewport: size}
	if cfg.RecordVideo && cfg.ArtifactDir != "" {
		opts.RecordVideo = &pw.RecordVideo{
			Dir:  filepath.Join(cfg.ArtifactDir, ".video"),
			Size: size,
		}
	}
	bctx, err := r.browser.NewContext(opts)
	if err != nil {
		return nil, translate(err, "Opening browser context", r.browser)
	}
	bctx.SetDefaultTimeout(millis(cfg.ActionTimeout))
	bctx.SetDefaultNavigationTimeout(millis(cfg.NavigationTimeout))

	if cfg.Trace && cfg.ArtifactDir != "" {
		if err := bctx.Tracing().Start(pw.TracingStartOptions{
			Screenshots: pw.Bool(true),
			Snapshots:   pw.Bool(true),
		}); err != nil {
			_ = bctx.Close()
			return nil, translate(err, "Starting trace", r.browser)
		}
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, translate(err, "Opening page", r.browser)
	}
	return &Session{id: cfg.SessionID, cfg: cfg, browser: r.browser, context: bctx, page: page}, nil
}

// Close shuts down the browser and the driver.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	if err := r.browser.Close(); err != nil && !errors.Is(err, pw.ErrTargetClosed) {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := r.driver.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}
