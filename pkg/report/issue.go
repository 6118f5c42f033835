// Package report turns test outcomes into issue records, the run summary
// and the XLSX issue reports.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/qapilot/pkg/testcase"
)

// Run kinds.
const (
	KindWeb = "web"
	KindAPI = "api"
)

// DefaultEnv tags issues produced by the browser runner.
const DefaultEnv = "Chromium/Playwright"

// Issue is one failed test case. The request, endpoint and method fields are
// only set for API runs.
type Issue struct {
	BugID      string    `json:"bugId"`
	Title      string    `json:"title"`
	Severity   string    `json:"severity"`
	Priority   string    `json:"priority"`
	Steps      string    `json:"steps,omitempty"`
	Expected   string    `json:"expected"`
	Actual     string    `json:"actual"`
	Screenshot string    `json:"screenshot,omitempty"`
	Video      string    `json:"video,omitempty"`
	Trace      string    `json:"trace,omitempty"`
	Env        string    `json:"env,omitempty"`
	TestID     string    `json:"testId"`
	TS         time.Time `json:"ts"`

	Request  string `json:"request,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Method   string `json:"method,omitempty"`
}

// RunSummary is the result of one run.
type RunSummary struct {
	RunID      string    `json:"runId"`
	RunDir     string    `json:"runDir"`
	Kind       string    `json:"kind"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	ReportPath string    `json:"reportPath"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Issues     []Issue   `json:"issues"`
}

// Consistent reports whether the counters agree with each other and with
// the issue list.
func (s *RunSummary) Consistent() bool {
	return s.Total == s.Passed+s.Failed && s.Failed == len(s.Issues)
}

// Outcome is the terminal result of one web test case.
type Outcome struct {
	Case   testcase.TestCase
	Passed bool
	// Executed holds the text of every step that was attempted, in order.
	Executed []string
	Actual   string
	// Artifact paths relative to the run directory.
	Screenshot string
	Video      string
	Trace      string
	At         time.Time
}

// Severity maps a priority onto an issue severity.
func Severity(p testcase.Priority) string {
	switch p {
	case testcase.PriorityP1:
		return "Critical"
	case testcase.PriorityP2:
		return "Major"
	case testcase.PriorityP3:
		return "Minor"
	default:
		return "Major"
	}
}

// BugID formats the n-th (1-based) issue identifier of a run.
func BugID(prefix string, n int) string {
	return prefix + "-" + strconv.Itoa(n)
}

// BuildIssues folds ordered outcomes into issues. The n-th failure becomes
// BUG-n; passed outcomes produce nothing.
func BuildIssues(outcomes []Outcome, env string) []Issue {
	if env == "" {
		env = DefaultEnv
	}
	issues := make([]Issue, 0)
	for _, o := range outcomes {
		if o.Passed {
			continue
		}
		issues = append(issues, Issue{
			BugID:      BugID("BUG", len(issues)+1),
			Title:      issueTitle(o.Case),
			Severity:   Severity(o.Case.Priority),
			Priority:   string(o.Case.Priority),
			Steps:      NumberSteps(o.Executed),
			Expected:   strings.Join(o.Case.Expected, "|"),
			Actual:     o.Actual,
			Screenshot: o.Screenshot,
			Video:      o.Video,
			Trace:      o.Trace,
			Env:        env,
			TestID:     o.Case.ID,
			TS:         o.At.UTC(),
		})
	}
	return issues
}

// NumberSteps renders steps as "1. first\n2. second".
func NumberSteps(steps []string) string {
	lines := make([]string, len(steps))
	for i, s := range steps {
		lines[i] = fmt.Sprintf("%d. %s", i+1, s)
	}
	return strings.Join(lines, "\n")
}

func issueTitle(tc testcase.TestCase) string {
	if tc.Title != "" {
		return tc.Title
	}
	return tc.ID
}
