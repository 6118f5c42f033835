// Package runner executes UI test cases against a browser runtime: one
// isolated session per case, strictly one case at a time, with screenshots
// after every step and an issue report at the end of the run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/qapilot/pkg/artifact"
	"github.com/odvcencio/qapilot/pkg/browser"
	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/logging"
	"github.com/odvcencio/qapilot/pkg/observability"
	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/telemetry"
	"github.com/odvcencio/qapilot/pkg/testcase"
)

// Config holds the settings of the web runner.
type Config struct {
	// RunsDir is the parent of every run directory.
	RunsDir string
	// Env is the environment tag stamped on issues.
	Env string
	// Session is the template for every per-case browser session.
	Session browser.SessionConfig
}

// DefaultConfig returns a config writing runs to ./runs.
func DefaultConfig() Config {
	return Config{
		RunsDir: "runs",
		Env:     report.DefaultEnv,
		Session: browser.DefaultSessionConfig(),
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithHub publishes progress events to hub.
func WithHub(hub *telemetry.Hub) Option {
	return func(r *Runner) { r.hub = hub }
}

// WithBrowserMetrics records per-action browser metrics.
func WithBrowserMetrics(m *browser.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithCaseHook is called with the result of every case as it completes.
func WithCaseHook(fn func(CaseResult)) Option {
	return func(r *Runner) { r.onCase = fn }
}

// Runner runs web test suites. A Runner may be reused for several runs but
// runs must not overlap.
type Runner struct {
	cfg      Config
	launcher browser.Launcher
	logger   *logging.Logger
	hub      *telemetry.Hub
	metrics  *browser.Metrics
	now      func() time.Time
	onCase   func(CaseResult)
}

// New creates a runner that launches browsers through launcher.
func New(cfg Config, launcher browser.Launcher, opts ...Option) (*Runner, error) {
	if launcher == nil {
		return nil, qerrors.New(qerrors.ErrCodeConfigInvalid, "browser launcher is required")
	}
	if cfg.RunsDir == "" {
		return nil, qerrors.New(qerrors.ErrCodeConfigInvalid, "runs directory is required")
	}
	if cfg.Env == "" {
		cfg.Env = report.DefaultEnv
	}
	cfg.Session = cfg.Session.Normalize()

	r := &Runner{
		cfg:      cfg,
		launcher: launcher,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	if r.metrics == nil {
		r.metrics = browser.NewMetrics()
	}
	return r, nil
}

// Run executes cases in order and returns the run summary. It returns a nil
// summary and an error when the run could not complete: the browser failed
// to launch or crashed, the context was cancelled, or the report could not
// be written. Failing test cases are not errors.
func (r *Runner) Run(ctx context.Context, cases []testcase.TestCase) (summary *report.RunSummary, err error) {
	started := r.now()
	layout, err := artifact.NewLayout(r.cfg.RunsDir, report.KindWeb, started)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageWrite, "failed to create run directory")
	}
	runID := layout.RunID
	r.logger.SetRunID(runID)
	r.metrics.EnableTelemetry(r.hub, runID)

	ctx, span := observability.StartSpan(ctx, "run",
		observability.AttrRunID.String(runID),
		observability.AttrRunKind.String(report.KindWeb),
	)
	defer func() {
		observability.EndSpan(span, err)
		observability.RecordRun(report.KindWeb, err != nil, r.now().Sub(started))
		if err != nil {
			_ = r.logger.Error(logging.CategoryRun, "run.failed", qerrors.UserMessageOf(err), map[string]any{"error": err.Error()})
			r.publish(telemetry.EventRunFailed, runID, "", map[string]any{"error": qerrors.UserMessageOf(err)})
		}
	}()

	_ = r.logger.Info(logging.CategoryRun, "run.started", fmt.Sprintf("Starting run with %d test cases", len(cases)), map[string]any{
		"dir":    layout.Dir,
		"driver": r.launcher.Name(),
	})
	r.publish(telemetry.EventRunStarted, runID, "", map[string]any{"total": len(cases), "dir": layout.Dir})

	rt, err := r.launcher.Launch(ctx)
	if err != nil {
		return nil, fatal(err, "Browser failed to launch")
	}
	mgr := browser.NewManager(rt, r.metrics)
	defer func() {
		if cerr := mgr.Close(); cerr != nil {
			_ = r.logger.Warn(logging.CategorySession, "runtime.close_failed", "Closing the browser failed", map[string]any{"error": cerr.Error()})
		}
	}()

	var (
		outcomes = make([]report.Outcome, 0, len(cases))
		passed   int
		failed   int
	)
	for _, tc := range cases {
		if cerr := ctx.Err(); cerr != nil {
			return nil, fatal(cerr, "Run cancelled")
		}
		outcome, cerr := r.runCase(ctx, mgr, layout, tc)
		if cerr != nil {
			return nil, cerr
		}
		if outcome.Passed {
			passed++
		} else {
			failed++
		}
		outcomes = append(outcomes, outcome)
	}

	issues := report.BuildIssues(outcomes, r.cfg.Env)
	if failed != len(issues) || passed+failed != len(cases) {
		return nil, qerrors.Newf(qerrors.ErrCodeInternal, "counter mismatch: passed=%d failed=%d issues=%d cases=%d",
			passed, failed, len(issues), len(cases))
	}

	reportPath := layout.Path(artifact.ReportWeb)
	if err := report.WriteWebIssues(reportPath, issues); err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeReportWrite, "failed to write issue report")
	}
	_ = r.logger.Info(logging.CategoryReport, "report.written", "Wrote issue report", map[string]any{"path": reportPath, "issues": len(issues)})
	r.publish(telemetry.EventReportWritten, runID, "", map[string]any{"path": reportPath, "issues": len(issues)})

	summary = &report.RunSummary{
		RunID:      runID,
		RunDir:     layout.Dir,
		Kind:       report.KindWeb,
		Total:      len(cases),
		Passed:     passed,
		Failed:     failed,
		ReportPath: reportPath,
		StartedAt:  started.UTC(),
		FinishedAt: r.now().UTC(),
		Issues:     issues,
	}
	if err := report.WriteSummary(layout.Path(artifact.SummaryFile), summary); err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeReportWrite, "failed to write run summary")
	}

	_ = r.logger.Info(logging.CategoryRun, "run.completed", fmt.Sprintf("%d passed, %d failed", passed, failed), map[string]any{
		"total":  len(cases),
		"passed": passed,
		"failed": failed,
	})
	r.publish(telemetry.EventRunCompleted, runID, "", map[string]any{
		"total":  len(cases),
		"passed": passed,
		"failed": failed,
		"report": reportPath,
	})
	return summary, nil
}

func (r *Runner) publish(eventType telemetry.EventType, runID, testID string, data map[string]any) {
	r.hub.Publish(telemetry.Event{
		Type:      eventType,
		Timestamp: r.now(),
		RunID:     runID,
		TestID:    testID,
		Data:      data,
	})
}

// fatal wraps err as a run-level failure.
func fatal(err error, message string) error {
	if qerrors.IsCode(err, qerrors.ErrCodeRunnerFatal) {
		return err
	}
	user := message
	if detail := browser.MessageOf(err); detail != "" && !errors.Is(err, context.Canceled) {
		user = message + ": " + detail
	}
	return qerrors.Wrap(err, qerrors.ErrCodeRunnerFatal, message).WithUserMessage(user)
}
