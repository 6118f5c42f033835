package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/qapilot/pkg/apirun"
	apperrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/runstore"
	"github.com/odvcencio/qapilot/pkg/testcase"
)

type fakeWeb struct {
	started chan struct{}
	release chan struct{}
	got     []testcase.TestCase
	err     error
}

func (f *fakeWeb) Run(ctx context.Context, cases []testcase.TestCase) (*report.RunSummary, error) {
	f.got = cases
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &report.RunSummary{
		RunID:      "web-run-1",
		Kind:       report.KindWeb,
		Total:      len(cases),
		Passed:     len(cases) - 1,
		Failed:     1,
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
		Issues:     []report.Issue{{BugID: "BUG-1", TestID: cases[0].ID}},
	}, nil
}

type fakeAPI struct {
	got []apirun.TestCase
}

func (f *fakeAPI) Run(ctx context.Context, tests []apirun.TestCase) (*report.RunSummary, error) {
	f.got = tests
	return &report.RunSummary{
		RunID:  "api-run-1",
		Kind:   report.KindAPI,
		Total:  len(tests),
		Passed: len(tests),
		Issues: []report.Issue{},
	}, nil
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *runstore.Store) {
	t.Helper()
	store, err := runstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runsDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(runsDir, "web-run-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runsDir, "web-run-1", "summary.json"), []byte(`{"runId":"web-run-1"}`), 0o644))

	opts = append([]Option{WithStore(store)}, opts...)
	srv := New(Config{BindAddress: "127.0.0.1:0", RunsDir: runsDir}, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, true, body["ok"])
}

func TestRunWebRecordsHistory(t *testing.T) {
	web := &fakeWeb{}
	ts, _ := newTestServer(t, WithWebRunner(web))

	suite := `{"tests":[{"id":"TC-1","title":"Login","priority":"P1","steps":["Go to https://example.com"],"expected":[]},{"title":"No id"}]}`
	resp, err := http.Post(ts.URL+"/api/runs/web", "application/json", strings.NewReader(suite))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary report.RunSummary
	decode(t, resp, &summary)
	assert.Equal(t, "web-run-1", summary.RunID)
	assert.Equal(t, 2, summary.Total)
	require.Len(t, web.got, 2)
	assert.Equal(t, "TC-002", web.got[1].ID)

	resp, err = http.Get(ts.URL + "/api/summary")
	require.NoError(t, err)
	var agg runstore.Aggregate
	decode(t, resp, &agg)
	assert.Equal(t, 1, agg.Runs)
	assert.Equal(t, 2, agg.Total)
	assert.Equal(t, 1, agg.Failed)
	require.Len(t, agg.Recent, 1)

	resp, err = http.Get(ts.URL + "/api/runs/web-run-1")
	require.NoError(t, err)
	var stored report.RunSummary
	decode(t, resp, &stored)
	require.Len(t, stored.Issues, 1)
	assert.Equal(t, "TC-1", stored.Issues[0].TestID)

	resp, err = http.Get(ts.URL + "/api/runs?kind=web&limit=5")
	require.NoError(t, err)
	var listed struct {
		Runs []runstore.Record `json:"runs"`
	}
	decode(t, resp, &listed)
	require.Len(t, listed.Runs, 1)
	assert.Equal(t, report.KindWeb, listed.Runs[0].Kind)
}

func TestRunAPI(t *testing.T) {
	api := &fakeAPI{}
	ts, _ := newTestServer(t, WithAPIRunner(api))

	suite := `{"apiTests":[{"id":"API-T1","method":"GET","url":"http://localhost/health","expect":{"status":200}}]}`
	resp, err := http.Post(ts.URL+"/api/runs/api", "application/json", strings.NewReader(suite))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	require.Len(t, api.got, 1)
	assert.Equal(t, 200, api.got[0].Expect.Status)
}

func TestRunRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t, WithWebRunner(&fakeWeb{}), WithAPIRunner(&fakeAPI{}))

	cases := []struct {
		name string
		path string
		body string
	}{
		{name: "malformed web suite", path: "/api/runs/web", body: `{"tests":`},
		{name: "empty web suite", path: "/api/runs/web", body: `{"tests":[]}`},
		{name: "empty api suite", path: "/api/runs/api", body: `[]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+tc.path, "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			var body struct {
				Code string `json:"code"`
			}
			decode(t, resp, &body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, string(apperrors.ErrCodeInvalidInput), body.Code)
		})
	}
}

func TestRunnerFatalIsServerError(t *testing.T) {
	fatal := apperrors.New(apperrors.ErrCodeRunnerFatal, "launch").WithUserMessage("Browser failed to launch")
	ts, store := newTestServer(t, WithWebRunner(&fakeWeb{err: fatal}))

	resp, err := http.Post(ts.URL+"/api/runs/web", "application/json", strings.NewReader(`[{"id":"TC-1"}]`))
	require.NoError(t, err)
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	decode(t, resp, &body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, string(apperrors.ErrCodeRunnerFatal), body.Code)
	assert.Equal(t, "Browser failed to launch", body.Message)

	agg, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.Zero(t, agg.Runs)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	web := &fakeWeb{started: make(chan struct{}), release: make(chan struct{})}
	ts, _ := newTestServer(t, WithWebRunner(web))

	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/api/runs/web", "application/json", strings.NewReader(`[{"id":"TC-1"}]`))
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-web.started

	resp, err := http.Post(ts.URL+"/api/runs/web", "application/json", strings.NewReader(`[{"id":"TC-2"}]`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(web.release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestUnknownRunAndUnconfiguredRunner(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/runs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/runs/web", "application/json", strings.NewReader(`[]`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/runs?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServesRunArtifactsAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/runs/web-run-1/summary.json")
	require.NoError(t, err)
	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "web-run-1", body["runId"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartRequiresBindAddress(t *testing.T) {
	err := New(Config{}).Start(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid))
}
