package apirun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/odvcencio/qapilot/pkg/artifact"
	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/logging"
	"github.com/odvcencio/qapilot/pkg/observability"
	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/telemetry"
)

const (
	// DefaultTimeout bounds each request.
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 10 << 20
)

// Config holds the settings of the API runner.
type Config struct {
	RunsDir string
	Timeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.client = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithHub publishes progress events to hub.
func WithHub(hub *telemetry.Hub) Option {
	return func(r *Runner) { r.hub = hub }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes API test suites sequentially.
type Runner struct {
	cfg    Config
	client *http.Client
	logger *logging.Logger
	hub    *telemetry.Hub
	now    func() time.Time
}

// New creates an API runner.
func New(cfg Config, opts ...Option) (*Runner, error) {
	if cfg.RunsDir == "" {
		return nil, qerrors.New(qerrors.ErrCodeConfigInvalid, "runs directory is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	r := &Runner{cfg: cfg, client: &http.Client{}, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	return r, nil
}

type outcome struct {
	test TestCase
	err  error
	at   time.Time
}

// Run executes every test and writes API_Issues.xlsx and summary.json into
// a fresh run directory.
func (r *Runner) Run(ctx context.Context, tests []TestCase) (summary *report.RunSummary, err error) {
	started := r.now()
	layout, err := artifact.NewLayout(r.cfg.RunsDir, report.KindAPI, started)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageWrite, "failed to create run directory")
	}
	runID := layout.RunID
	r.logger.SetRunID(runID)

	ctx, span := observability.StartSpan(ctx, "api_run",
		observability.AttrRunID.String(runID),
		observability.AttrRunKind.String(report.KindAPI),
	)
	defer func() {
		observability.EndSpan(span, err)
		observability.RecordRun(report.KindAPI, err != nil, r.now().Sub(started))
		if err != nil {
			r.publish(telemetry.EventRunFailed, runID, "", map[string]any{"error": qerrors.UserMessageOf(err)})
		}
	}()
	r.publish(telemetry.EventRunStarted, runID, "", map[string]any{"total": len(tests), "dir": layout.Dir})

	outcomes := make([]outcome, 0, len(tests))
	passed, failed := 0, 0
	for _, tc := range tests {
		if cerr := ctx.Err(); cerr != nil {
			return nil, qerrors.Wrap(cerr, qerrors.ErrCodeRunnerFatal, "run cancelled").WithUserMessage("Run cancelled")
		}
		r.publish(telemetry.EventCaseStarted, runID, tc.ID, map[string]any{"title": tc.displayName()})
		checkErr := r.check(ctx, tc)
		outcomes = append(outcomes, outcome{test: tc, err: checkErr, at: r.now()})
		observability.RecordCase(report.KindAPI, checkErr == nil)
		if checkErr == nil {
			passed++
			_ = r.logger.Info(logging.CategoryAPI, "case.passed", tc.displayName(), map[string]any{"test_id": tc.ID})
			r.publish(telemetry.EventCasePassed, runID, tc.ID, nil)
			continue
		}
		failed++
		_ = r.logger.Warn(logging.CategoryAPI, "case.failed", qerrors.UserMessageOf(checkErr), map[string]any{
			"test_id": tc.ID,
			"method":  tc.method(),
			"url":     tc.URL,
		})
		r.publish(telemetry.EventCaseFailed, runID, tc.ID, map[string]any{"error": qerrors.UserMessageOf(checkErr)})
	}

	issues := buildIssues(outcomes)
	if failed != len(issues) {
		return nil, qerrors.Newf(qerrors.ErrCodeInternal, "counter mismatch: failed=%d issues=%d", failed, len(issues))
	}
	reportPath := layout.Path(artifact.ReportAPI)
	if err := report.WriteAPIIssues(reportPath, issues); err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeReportWrite, "failed to write API issue report")
	}
	r.publish(telemetry.EventReportWritten, runID, "", map[string]any{"path": reportPath, "issues": len(issues)})

	summary = &report.RunSummary{
		RunID:      runID,
		RunDir:     layout.Dir,
		Kind:       report.KindAPI,
		Total:      passed + failed,
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
	_ = r.logger.Info(logging.CategoryAPI, "run.completed", fmt.Sprintf("%d passed, %d failed", passed, failed), nil)
	r.publish(telemetry.EventRunCompleted, runID, "", map[string]any{
		"total":  summary.Total,
		"passed": passed,
		"failed": failed,
		"report": reportPath,
	})
	return summary, nil
}

// buildIssues numbers failures API-1, API-2, ... in input order.
func buildIssues(outcomes []outcome) []report.Issue {
	issues := make([]report.Issue, 0)
	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		issues = append(issues, report.Issue{
			BugID:    report.BugID("API", len(issues)+1),
			Title:    "API Fail: " + o.test.displayName(),
			Severity: "Major",
			Priority: "P2",
			Request:  o.test.requestText(),
			Expected: compactJSON(o.test.Expect),
			Actual:   qerrors.UserMessageOf(o.err),
			Endpoint: o.test.URL,
			Method:   o.test.method(),
			TestID:   o.test.ID,
			TS:       o.at.UTC(),
		})
	}
	return issues
}

// check sends the request and applies the expectations. Without an
// expected status any non-2xx response fails.
func (r *Runner) check(ctx context.Context, tc TestCase) (err error) {
	ctx, span := observability.StartSpan(ctx, "api_case",
		observability.AttrTestID.String(tc.ID),
		observability.AttrEndpoint.String(tc.URL),
	)
	defer func() { observability.EndSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := r.newRequest(ctx, tc)
	if err != nil {
		return qerrors.Wrap(err, qerrors.ErrCodeInvalidInput, "invalid request").WithUserMessage("Invalid request: " + err.Error())
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return qerrors.Wrap(err, qerrors.ErrCodeActionTimeout, "request timed out").
				WithUserMessage(fmt.Sprintf("Request timed out after %s", r.cfg.Timeout))
		}
		return qerrors.Wrap(err, qerrors.ErrCodeActionFailed, "request failed").WithUserMessage("Request failed: " + err.Error())
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return qerrors.Wrap(err, qerrors.ErrCodeActionFailed, "reading response failed").WithUserMessage("Reading response failed: " + err.Error())
	}

	exp := tc.Expect
	switch {
	case exp.Status != 0 && resp.StatusCode != exp.Status:
		return assertion(fmt.Sprintf("Expected status %d but got %d", exp.Status, resp.StatusCode))
	case exp.Status == 0 && (resp.StatusCode < 200 || resp.StatusCode > 299):
		return assertion(fmt.Sprintf("Request failed with status code %d", resp.StatusCode))
	}

	if len(exp.JSONPathEquals) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return assertion("Response body is not JSON: " + err.Error())
	}
	paths := make([]string, 0, len(exp.JSONPathEquals))
	for p := range exp.JSONPathEquals {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		expected := exp.JSONPathEquals[p]
		actual, err := lookup(ctx, p, data)
		if err != nil {
			return assertion(fmt.Sprintf("Invalid path %s: %v", p, err))
		}
		if !sameJSON(expected, actual) {
			return assertion(mismatch(p, expected, actual))
		}
	}
	return nil
}

func (r *Runner) newRequest(ctx context.Context, tc TestCase) (*http.Request, error) {
	if strings.TrimSpace(tc.URL) == "" {
		return nil, errors.New("url is required")
	}
	var body io.Reader
	contentType := ""
	switch b := tc.Body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = strings.NewReader(string(data))
		contentType = "application/json"
	}
	req, err := http.NewRequestWithContext(ctx, tc.method(), tc.URL, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range tc.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func assertion(message string) error {
	return qerrors.New(qerrors.ErrCodeAssertionFailed, "api expectation failed").WithUserMessage(message)
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
