package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/qapilot/pkg/apirun"
	"github.com/odvcencio/qapilot/pkg/browser"
	"github.com/odvcencio/qapilot/pkg/browser/adapters/playwright"
	"github.com/odvcencio/qapilot/pkg/browser/adapters/static"
	"github.com/odvcencio/qapilot/pkg/config"
	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/logging"
	"github.com/odvcencio/qapilot/pkg/observability"
	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/runner"
	"github.com/odvcencio/qapilot/pkg/runstore"
	"github.com/odvcencio/qapilot/pkg/telemetry"
)

const staticEnvTag = "Static/HTML"

// app holds the dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	hub       *telemetry.Hub
	metrics   *browser.Metrics
	tracer    *observability.TracerProvider
	traceFile *os.File
	store     *runstore.Store
}

func newApp(cfg *config.Config, name string, errOut io.Writer) (*app, error) {
	a := &app{
		cfg:     cfg,
		hub:     telemetry.NewHub(),
		metrics: browser.NewMetrics(),
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, fmt.Sprintf("%s-%s", name, time.Now().UTC().Format("20060102")))
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeConfigInvalid, "failed to open log directory").
			WithContext("dir", cfg.Logging.Dir)
	}
	logger.SetMinLevel(logging.ParseLevel(strings.ToLower(cfg.Logging.Level)))
	if cfg.Logging.Console {
		logger.SetConsole(errOut)
	}
	a.logger = logger

	if cfg.Telemetry.Tracing {
		var w io.Writer = errOut
		if cfg.Telemetry.TraceFile != "" {
			if err := os.MkdirAll(filepath.Dir(cfg.Telemetry.TraceFile), 0o755); err != nil {
				a.Close()
				return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageWrite, "failed to create trace directory")
			}
			f, err := os.OpenFile(cfg.Telemetry.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				a.Close()
				return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageWrite, "failed to open trace file")
			}
			a.traceFile = f
			w = f
		}
		tp, err := observability.NewTracerProvider("qapilot", version, w)
		if err != nil {
			a.Close()
			return nil, qerrors.Wrap(err, qerrors.ErrCodeInternal, "failed to start tracing")
		}
		a.tracer = tp
	}

	if cfg.Store.Enabled {
		store, err := runstore.Open(cfg.Store.Path)
		if err != nil {
			_ = logger.Warn(logging.CategoryStore, "store.unavailable", err.Error(), map[string]any{"path": cfg.Store.Path})
		} else {
			a.store = store
		}
	}
	return a, nil
}

func (a *app) launcher() (browser.Launcher, error) {
	switch a.cfg.Browser.Driver {
	case config.DriverStatic:
		l, err := static.NewLauncher(static.DefaultConfig())
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.DriverPlaywright:
		l, err := playwright.NewLauncher(playwright.Config{
			Browser:  a.cfg.Browser.Engine,
			Headless: a.cfg.Browser.Headless,
			Install:  a.cfg.Browser.Install,
			SlowMo:   a.cfg.Browser.SlowMo,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, qerrors.Newf(qerrors.ErrCodeConfigInvalid, "unknown browser driver %q", a.cfg.Browser.Driver)
	}
}

func (a *app) webRunner() (*runner.Runner, error) {
	launcher, err := a.launcher()
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeConfigInvalid, "invalid browser configuration")
	}
	env := a.cfg.Runner.EnvTag
	if a.cfg.Browser.Driver == config.DriverStatic && env == config.DefaultConfig().Runner.EnvTag {
		env = staticEnvTag
	}
	cfg := runner.Config{
		RunsDir: a.cfg.Runner.RunsDir,
		Env:     env,
		Session: browser.SessionConfig{
			Viewport: browser.Viewport{
				Width:  a.cfg.Browser.Viewport.Width,
				Height: a.cfg.Browser.Viewport.Height,
			},
			RecordVideo:       a.cfg.Browser.RecordVideo,
			Trace:             a.cfg.Browser.Trace,
			ActionTimeout:     a.cfg.Runner.ActionTimeout,
			NavigationTimeout: a.cfg.Runner.NavigationTimeout,
		},
	}
	return runner.New(cfg, launcher,
		runner.WithLogger(a.logger),
		runner.WithHub(a.hub),
		runner.WithBrowserMetrics(a.metrics),
	)
}

func (a *app) apiRunner() (*apirun.Runner, error) {
	return apirun.New(apirun.Config{
		RunsDir: a.cfg.Runner.RunsDir,
		Timeout: a.cfg.API.Timeout,
	},
		apirun.WithLogger(a.logger),
		apirun.WithHub(a.hub),
	)
}

// record stores summary in the run history. Failures are logged only.
func (a *app) record(ctx context.Context, summary *report.RunSummary) {
	if a.store == nil || summary == nil {
		return
	}
	if _, err := a.store.Save(ctx, summary); err != nil {
		_ = a.logger.Warn(logging.CategoryStore, "run.save_failed", err.Error(), map[string]any{"run_id": summary.RunID})
	}
}

func (a *app) Close() error {
	var errs []error
	if a.hub != nil {
		a.hub.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.tracer.Shutdown(ctx))
		cancel()
	}
	if a.traceFile != nil {
		errs = append(errs, a.traceFile.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}
