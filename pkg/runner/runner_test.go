package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/qapilot/pkg/artifact"
	"github.com/odvcencio/qapilot/pkg/browser"
	"github.com/odvcencio/qapilot/pkg/browser/adapters/static"
	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/telemetry"
	"github.com/odvcencio/qapilot/pkg/testcase"
)

func newApp(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<h1>Example Domain</h1>
<a href="/login">Sign in</a>
</body></html>`)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<form action="/welcome" method="get">
  <label for="user">Username</label><input id="user" name="user">
  <button type="submit">Log in</button>
</form>
</body></html>`)
	})
	mux.HandleFunc("/welcome", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><h2>Welcome %s</h2></body></html>`, r.URL.Query().Get("user"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRunner(t *testing.T, opts ...Option) (*Runner, string) {
	t.Helper()
	launcher, err := static.NewLauncher(static.Config{})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RunsDir = t.TempDir()
	cfg.Session.ActionTimeout = 2 * time.Second
	cfg.Session.NavigationTimeout = 2 * time.Second
	cfg.Session.Viewport = browser.Viewport{Width: 320, Height: 240}
	r, err := New(cfg, launcher, opts...)
	require.NoError(t, err)
	return r, cfg.RunsDir
}

func TestRunPassingCase(t *testing.T) {
	srv := newApp(t)
	r, _ := newRunner(t)

	summary, err := r.Run(context.Background(), []testcase.TestCase{{
		ID:       "TC-001",
		Title:    "Home page",
		Priority: testcase.PriorityP1,
		Steps:    []string{"Go to " + srv.URL},
		Expected: []string{"URL contains 127.0.0.1", "Text 'Example Domain' visible"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.Issues)
	assert.True(t, summary.Consistent())
	assert.Equal(t, report.KindWeb, summary.Kind)

	assert.FileExists(t, filepath.Join(summary.RunDir, "TC-001", artifact.StepLabel(0, "Go to "+srv.URL)+".png"))
	assert.FileExists(t, filepath.Join(summary.RunDir, "TC-001", "video.gif"))
	assert.FileExists(t, filepath.Join(summary.RunDir, artifact.SummaryFile))
	assert.NoFileExists(t, filepath.Join(summary.RunDir, "TC-001", artifact.FailureScreenshot))

	rows, err := report.ReadRows(summary.ReportPath, report.SheetWeb)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, report.WebHeaders(), rows[0])
}

func TestRunFormFlowWithInlineAssertions(t *testing.T) {
	srv := newApp(t)
	r, _ := newRunner(t)

	summary, err := r.Run(context.Background(), []testcase.TestCase{{
		ID:       "TC-LOGIN",
		Title:    "Login",
		Priority: testcase.PriorityP2,
		Steps: []string{
			"Go to " + srv.URL,
			"Click 'Sign in'",
			"Fill 'Username' with 'ada'",
			"Click 'Log in'",
			"Expect url contains /welcome",
			"Expect text 'Welcome ada'",
		},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
}

func TestRunIsolatesFailuresAndNumbersIssues(t *testing.T) {
	srv := newApp(t)
	var results []CaseResult
	r, _ := newRunner(t, WithCaseHook(func(res CaseResult) { results = append(results, res) }))

	cases := []testcase.TestCase{
		{
			ID:       "TC-1",
			Title:    "Missing button",
			Priority: testcase.PriorityP1,
			Steps:    []string{"Go to " + srv.URL, "Click 'NoSuchButton'", "Go to " + srv.URL + "/login"},
		},
		{
			ID:       "TC-2",
			Title:    "Passes",
			Priority: testcase.PriorityP2,
			Steps:    []string{"Go to " + srv.URL},
			Expected: []string{"URL contains 127.0.0.1"},
		},
		{
			ID:       "TC-3",
			Title:    "Missing text",
			Priority: testcase.PriorityP3,
			Steps:    []string{"Go to " + srv.URL},
			Expected: []string{"Text 'Welcome' visible", "URL contains nowhere"},
		},
	}
	summary, err := r.Run(context.Background(), cases)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Issues, 2)

	first := summary.Issues[0]
	assert.Equal(t, "BUG-1", first.BugID)
	assert.Equal(t, "TC-1", first.TestID)
	assert.Equal(t, "Critical", first.Severity)
	assert.Equal(t, "No element matching 'NoSuchButton' to click", first.Actual)
	assert.Equal(t, "1. Go to "+srv.URL+"\n2. Click 'NoSuchButton'", first.Steps)
	assert.Equal(t, "TC-1/failure.png", first.Screenshot)
	assert.Equal(t, "TC-1/video.gif", first.Video)
	assert.Equal(t, "TC-1/trace.json", first.Trace)
	for _, rel := range []string{first.Screenshot, first.Video, first.Trace} {
		assert.FileExists(t, filepath.Join(summary.RunDir, filepath.FromSlash(rel)))
	}

	second := summary.Issues[1]
	assert.Equal(t, "BUG-2", second.BugID)
	assert.Equal(t, "TC-3", second.TestID)
	assert.Equal(t, "Minor", second.Severity)
	assert.Equal(t, "Text 'Welcome' not visible", second.Actual)
	assert.Equal(t, "Text 'Welcome' visible|URL contains nowhere", second.Expected)

	rows, err := report.ReadRows(summary.ReportPath, report.SheetWeb)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "BUG-1", rows[1][0])
	assert.Equal(t, "TC-3", rows[2][11])

	require.Len(t, results, 3)
	assert.Equal(t, State{Phase: PhaseFailed, Step: 1}, results[0].Final)
	assert.Equal(t, 1, results[0].FailedStep)
	assert.Equal(t, []State{
		{Phase: PhaseIdle},
		{Phase: PhaseSessionOpen},
		{Phase: PhaseExecuting, Step: 0},
		{Phase: PhaseExecuting, Step: 1},
		{Phase: PhaseFailed, Step: 1},
	}, results[0].History)
	assert.Equal(t, PhasePassed, results[1].Final.Phase)
	assert.Equal(t, PhaseFailed, results[2].Final.Phase)
	assert.Equal(t, -1, results[2].FailedStep)

	assert.NoFileExists(t, filepath.Join(summary.RunDir, "TC-1", artifact.StepLabel(2, cases[0].Steps[2])+".png"))
}

func TestNavigationTimeoutFailsOnlyThatCase(t *testing.T) {
	srv := newApp(t)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	launcher, err := static.NewLauncher(static.Config{})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RunsDir = t.TempDir()
	cfg.Session.NavigationTimeout = 100 * time.Millisecond
	cfg.Session.Viewport = browser.Viewport{Width: 320, Height: 240}
	r, err := New(cfg, launcher)
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), []testcase.TestCase{
		{
			ID:       "TC-SLOW",
			Title:    "Slow page",
			Priority: testcase.PriorityP2,
			Steps:    []string{"Go to " + slow.URL + "/slow", "Click 'Never reached'"},
		},
		{
			ID:       "TC-FAST",
			Title:    "Fast page",
			Priority: testcase.PriorityP1,
			Steps:    []string{"Go to " + srv.URL},
			Expected: []string{"Text 'Example Domain' visible"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Issues, 1)
	issue := summary.Issues[0]
	assert.Equal(t, "TC-SLOW", issue.TestID)
	assert.Equal(t, "Major", issue.Severity)
	assert.Equal(t, "Navigation to "+slow.URL+"/slow timed out", issue.Actual)
	assert.Equal(t, "1. Go to "+slow.URL+"/slow", issue.Steps)
}

func TestTimeoutClassifiesAsActionTimeout(t *testing.T) {
	err := browser.Timeout("Navigation to http://app.test timed out", context.DeadlineExceeded)
	assert.False(t, browser.IsFatal(err))

	failure := classify(err)
	assert.Equal(t, qerrors.ErrCodeActionTimeout, failure.Code)
	assert.Equal(t, "Navigation to http://app.test timed out", failure.UserMessage)
}

func TestClosedPageFailsOnlyThatCase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunsDir = t.TempDir()
	launcher := &crashingLauncher{
		clickErr: browser.WrapDriverError("target_closed", "Click on 'Close window' failed: page was closed", errors.New("target closed")),
	}
	r, err := New(cfg, launcher)
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), []testcase.TestCase{
		{ID: "TC-1", Steps: []string{"Click 'Close window'"}},
		{ID: "TC-2", Steps: []string{"Go to about:blank"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, launcher.sessions)
	assert.Equal(t, 1, summary.Passed)
	require.Len(t, summary.Issues, 1)
	assert.Equal(t, "TC-1", summary.Issues[0].TestID)
	assert.Equal(t, "Click on 'Close window' failed: page was closed", summary.Issues[0].Actual)
}

func TestEmptyCasePasses(t *testing.T) {
	r, _ := newRunner(t)

	summary, err := r.Run(context.Background(), []testcase.TestCase{{ID: "TC-EMPTY"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 0, summary.Failed)
	assert.Empty(t, summary.Issues)
}

func TestUnrecognizedStepIsSkippedButScreenshotted(t *testing.T) {
	srv := newApp(t)
	r, _ := newRunner(t)

	summary, err := r.Run(context.Background(), []testcase.TestCase{{
		ID:       "TC-W",
		Priority: testcase.PriorityP2,
		Steps:    []string{"Go to " + srv.URL, "Do something weird"},
		Expected: []string{"Text 'Example Domain' visible", "Something unparseable"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 0, summary.Failed)
	assert.FileExists(t, filepath.Join(summary.RunDir, "TC-W", artifact.StepLabel(1, "Do something weird")+".png"))
}

func TestRunsNeverShareDirectories(t *testing.T) {
	srv := newApp(t)
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	r, runsDir := newRunner(t, WithClock(func() time.Time { return fixed }))
	cases := []testcase.TestCase{{ID: "TC-1", Steps: []string{"Go to " + srv.URL}}}

	first, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), cases)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.NotEqual(t, first.RunDir, second.RunDir)
	entries, err := os.ReadDir(runsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDuplicateTestIDsGetSeparateDirectories(t *testing.T) {
	srv := newApp(t)
	r, _ := newRunner(t)
	cases := []testcase.TestCase{
		{ID: "TC 1", Steps: []string{"Go to " + srv.URL}, Expected: []string{"Text 'Nope' visible"}},
		{ID: "TC 1", Steps: []string{"Go to " + srv.URL}, Expected: []string{"Text 'Nope' visible"}},
	}
	summary, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Len(t, summary.Issues, 2)
	assert.Equal(t, "TC_1/failure.png", summary.Issues[0].Screenshot)
	assert.Equal(t, "TC_1-2/failure.png", summary.Issues[1].Screenshot)
}

func TestLaunchFailureIsRunnerFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunsDir = t.TempDir()
	r, err := New(cfg, failingLauncher{})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), []testcase.TestCase{{ID: "TC-1"}})
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeRunnerFatal))
	assert.ErrorIs(t, err, browser.ErrUnavailable)
}

func TestCrashMidRunIsRunnerFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunsDir = t.TempDir()
	crash := &crashingLauncher{}
	r, err := New(cfg, crash)
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), []testcase.TestCase{
		{ID: "TC-1", Steps: []string{"Click 'Anything'"}},
		{ID: "TC-2", Steps: []string{"Click 'Anything'"}},
	})
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeRunnerFatal))
	assert.Equal(t, 1, crash.sessions, "the run must stop at the first crash")
	assert.True(t, crash.runtimeClosed)
}

func TestCancelledContextStopsBeforeNextCase(t *testing.T) {
	srv := newApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	r, _ := newRunner(t, WithCaseHook(func(CaseResult) { cancel() }))

	summary, err := r.Run(ctx, []testcase.TestCase{
		{ID: "TC-1", Steps: []string{"Go to " + srv.URL}},
		{ID: "TC-2", Steps: []string{"Go to " + srv.URL}},
	})
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeRunnerFatal))
}

func TestRunPublishesProgress(t *testing.T) {
	srv := newApp(t)
	hub := telemetry.NewHub()
	defer hub.Close()
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	metrics := browser.NewMetrics()
	r, _ := newRunner(t, WithHub(hub), WithBrowserMetrics(metrics))
	_, err := r.Run(context.Background(), []testcase.TestCase{{ID: "TC-1", Steps: []string{"Go to " + srv.URL}}})
	require.NoError(t, err)

	var types []telemetry.EventType
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, telemetry.EventRunStarted, types[0])
	assert.Contains(t, types, telemetry.EventCasePassed)
	assert.Contains(t, types, telemetry.EventStepExecuted)
	assert.Equal(t, telemetry.EventRunCompleted, types[len(types)-1])

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.SessionsCreated)
	assert.Equal(t, int64(1), snap.SessionsClosed)
	assert.Equal(t, int64(0), snap.ActiveSessions)
}

func TestNewValidatesInput(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeConfigInvalid))

	launcher, err := static.NewLauncher(static.Config{})
	require.NoError(t, err)
	_, err = New(Config{}, launcher)
	assert.True(t, qerrors.IsCode(err, qerrors.ErrCodeConfigInvalid))
}

type failingLauncher struct{}

func (failingLauncher) Name() string { return "failing" }
func (failingLauncher) Launch(context.Context) (browser.Runtime, error) {
	return nil, fmt.Errorf("%w: executable not found", browser.ErrUnavailable)
}

type crashingLauncher struct {
	sessions      int
	runtimeClosed bool
	// clickErr replaces the crash returned by Click when set.
	clickErr error
}

func (l *crashingLauncher) Name() string { return "crashing" }
func (l *crashingLauncher) Launch(context.Context) (browser.Runtime, error) {
	return l, nil
}
func (l *crashingLauncher) NewSession(_ context.Context, cfg browser.SessionConfig) (browser.Session, error) {
	l.sessions++
	return &crashingSession{id: cfg.SessionID, clickErr: l.clickErr}, nil
}
func (l *crashingLauncher) Close() error {
	l.runtimeClosed = true
	return nil
}

type crashingSession struct {
	id       string
	clickErr error
}

func (s *crashingSession) ID() string { return s.id }
func (s *crashingSession) Navigate(context.Context, string) error { return nil }
func (s *crashingSession) Click(context.Context, string) error {
	if s.clickErr != nil {
		return s.clickErr
	}
	return browser.WrapDriverError("crashed", "Browser closed unexpectedly", browser.ErrCrashed)
}
func (s *crashingSession) Fill(context.Context, string, string) error { return nil }
func (s *crashingSession) Select(context.Context, string, string) error { return nil }
func (s *crashingSession) URL() string { return "about:blank" }
func (s *crashingSession) TextVisible(context.Context, string) (bool, error) { return false, nil }
func (s *crashingSession) Screenshot(context.Context, string) error { return nil }
func (s *crashingSession) Close() (browser.Artifacts, error) { return browser.Artifacts{}, nil }
