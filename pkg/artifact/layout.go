// Package artifact owns the on-disk layout of a run: the run directory, one
// directory per test case, and the names of screenshots, videos and traces
// inside them.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	maxIDLength    = 60
	maxLabelLength = 40

	FailureScreenshot = "failure.png"
	ReportWeb         = "Issues.xlsx"
	ReportAPI         = "API_Issues.xlsx"
	SummaryFile       = "summary.json"
)

// SafeID maps s onto [A-Za-z0-9_-], replacing everything else with '_',
// and caps the result at 60 characters.
func SafeID(s string) string {
	return sanitize(s, maxIDLength, "test")
}

// StepLabel names the screenshot taken after step index (0-based).
func StepLabel(index int, stepText string) string {
	return fmt.Sprintf("%02d-%s", index+1, sanitize(stepText, maxLabelLength, "step"))
}

func sanitize(s string, limit int, fallback string) string {
	var out strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			out.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				out.WriteRune('_')
			}
			lastUnderscore = true
		}
		if out.Len() >= limit {
			break
		}
	}
	res := strings.Trim(out.String(), "_")
	if len(res) > limit {
		res = res[:limit]
	}
	if res == "" {
		return fallback
	}
	return res
}

// NewRunID returns "<kind>-<utc timestamp>-<ulid>". The ULID keeps two runs
// started in the same instant apart.
func NewRunID(kind string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return fmt.Sprintf("%s-%s-%s", kind, now.UTC().Format("20060102T150405Z"), id.String())
}

// Layout is the directory tree of one run.
type Layout struct {
	RunID string
	Dir   string

	mu   sync.Mutex
	used map[string]int
}

// NewLayout creates a fresh run directory under runsDir. The run directory
// itself must not exist yet, so an earlier run is never written into.
func NewLayout(runsDir, kind string, now time.Time) (*Layout, error) {
	if strings.TrimSpace(runsDir) == "" {
		return nil, errors.New("runs directory is required")
	}
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	runID := NewRunID(kind, now)
	dir := filepath.Join(runsDir, runID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Layout{RunID: runID, Dir: dir, used: make(map[string]int)}, nil
}

// CaseDir creates and returns the directory for one test case. Duplicate
// test identifiers get a numeric suffix instead of sharing a directory.
func (l *Layout) CaseDir(testID string) (string, error) {
	l.mu.Lock()
	base := SafeID(testID)
	name := base
	if n := l.used[base]; n > 0 {
		name = fmt.Sprintf("%s-%d", base, n+1)
	}
	l.used[base]++
	l.mu.Unlock()

	dir := filepath.Join(l.Dir, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create case dir: %w", err)
	}
	return dir, nil
}

// Path joins name onto the run directory.
func (l *Layout) Path(name string) string {
	return filepath.Join(l.Dir, name)
}

// Rel returns path relative to the run directory using forward slashes.
// Empty input stays empty.
func (l *Layout) Rel(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(l.Dir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
