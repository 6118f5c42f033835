package apirun

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/qapilot/pkg/report"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok","version":2,"items":[{"id":1},{"id":2}]}`)
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"method":%q,"token":%q,"body":%s}`, r.Method, r.Header.Get("X-Token"), data)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPathExpression(t *testing.T) {
	tests := map[string]string{
		"status":          "`status`",
		"data.items.0.id": "`data`.`items`[0].`id`",
		"$count(items)":   "$count(items)",
	}
	for in, want := range tests {
		assert.Equal(t, want, pathExpression(in), in)
	}
}

func TestRunAPIChecks(t *testing.T) {
	srv := newAPI(t)
	r, err := New(Config{RunsDir: t.TempDir()})
	require.NoError(t, err)

	tests := []TestCase{
		{
			ID:     "API-TC-1",
			Title:  "health",
			URL:    srv.URL + "/health",
			Expect: Expect{Status: 200, JSONPathEquals: map[string]any{"status": "ok", "version": 2.0, "items.1.id": 2}},
		},
		{
			ID:      "API-TC-2",
			Title:   "echo",
			Method:  "post",
			URL:     srv.URL + "/echo",
			Headers: map[string]string{"X-Token": "abc"},
			Body:    map[string]any{"name": "ada"},
			Expect:  Expect{JSONPathEquals: map[string]any{"method": "POST", "token": "abc", "body.name": "ada"}},
		},
		{
			ID:     "API-TC-3",
			Title:  "wrong status",
			URL:    srv.URL + "/missing",
			Expect: Expect{Status: 200},
		},
		{
			ID:     "API-TC-4",
			URL:    srv.URL + "/health",
			Expect: Expect{JSONPathEquals: map[string]any{"status": "down"}},
		},
		{
			ID:     "API-TC-5",
			Title:  "expected 404",
			URL:    srv.URL + "/missing",
			Expect: Expect{Status: 404},
		},
	}

	summary, err := r.Run(context.Background(), tests)
	require.NoError(t, err)
	assert.Equal(t, report.KindAPI, summary.Kind)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 3, summary.Passed)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Issues, 2)

	first := summary.Issues[0]
	assert.Equal(t, "API-1", first.BugID)
	assert.Equal(t, "API Fail: wrong status", first.Title)
	assert.Equal(t, "Major", first.Severity)
	assert.Equal(t, "P2", first.Priority)
	assert.Equal(t, "Expected status 200 but got 404", first.Actual)
	assert.Equal(t, "GET "+srv.URL+"/missing\nheaders={}\nbody={}", first.Request)
	assert.Equal(t, `{"status":200}`, first.Expected)
	assert.Equal(t, "GET", first.Method)

	second := summary.Issues[1]
	assert.Equal(t, "API-2", second.BugID)
	assert.Equal(t, "API Fail: API-TC-4", second.Title)
	assert.Equal(t, "Expected status=down but got ok", second.Actual)

	rows, err := report.ReadRows(summary.ReportPath, report.SheetAPI)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, report.APIHeaders(), rows[0])
}

func TestRunAPINon2xxWithoutExpectedStatusFails(t *testing.T) {
	srv := newAPI(t)
	r, err := New(Config{RunsDir: t.TempDir()})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), []TestCase{{ID: "x", URL: srv.URL + "/missing"}})
	require.NoError(t, err)
	require.Len(t, summary.Issues, 1)
	assert.Equal(t, "Request failed with status code 404", summary.Issues[0].Actual)
}

func TestRunAPIExpectedStatusOverridesNon2xxRule(t *testing.T) {
	srv := newAPI(t)
	r, err := New(Config{RunsDir: t.TempDir()})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), []TestCase{
		{ID: "gone", URL: srv.URL + "/missing", Expect: Expect{Status: http.StatusNotFound}},
		{ID: "created", URL: srv.URL + "/health", Expect: Expect{Status: http.StatusCreated}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Issues, 1)
	assert.Equal(t, "created", summary.Issues[0].TestID)
	assert.Equal(t, "Expected status 201 but got 200", summary.Issues[0].Actual)
}

func TestRunAPITimeout(t *testing.T) {
	srv := newAPI(t)
	r, err := New(Config{RunsDir: t.TempDir(), Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), []TestCase{{ID: "slow", URL: srv.URL + "/slow"}})
	require.NoError(t, err)
	require.Len(t, summary.Issues, 1)
	assert.Equal(t, "Request timed out after 50ms", summary.Issues[0].Actual)
}

func TestDecode(t *testing.T) {
	tests, err := Decode([]byte(`{"apiTests":[{"id":"a","url":"http://x"}]}`))
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "GET", tests[0].method())

	tests, err = Decode([]byte(`[{"id":"b","method":"delete","url":"http://x","expect":{"status":204}}]`))
	require.NoError(t, err)
	assert.Equal(t, "DELETE", tests[0].method())
	assert.Equal(t, 204, tests[0].Expect.Status)

	_, err = Decode([]byte("  "))
	assert.Error(t, err)
}

func TestSameJSON(t *testing.T) {
	assert.True(t, sameJSON(2, 2.0))
	assert.True(t, sameJSON(map[string]any{"a": 1, "b": "x"}, map[string]any{"b": "x", "a": 1.0}))
	assert.False(t, sameJSON("2", 2))
	assert.True(t, sameJSON(nil, nil))
	assert.Equal(t, "undefined", display(nil))
}
