package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestNewLogger tests logger construction with temp directories
func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		baseDir string
		runID   string
		file    string
	}{
		{
			name:    "valid directory and run ID",
			baseDir: t.TempDir(),
			runID:   "web-20260101T000000Z-01HX",
			file:    "web-20260101T000000Z-01HX.jsonl",
		},
		{
			name:    "creates directories if not exist",
			baseDir: filepath.Join(t.TempDir(), "nested", "path"),
			runID:   "run-456",
			file:    "run-456.jsonl",
		},
		{
			name:    "empty run ID",
			baseDir: t.TempDir(),
			runID:   "",
			file:    "default.jsonl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.baseDir, tt.runID)
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			defer logger.Close()

			if logger.minLevel != LevelInfo {
				t.Errorf("minLevel = %v, want %v", logger.minLevel, LevelInfo)
			}
			if _, err := os.Stat(filepath.Join(tt.baseDir, "runs", tt.file)); err != nil {
				t.Errorf("run log file not created: %v", err)
			}
			if _, err := os.Stat(filepath.Join(tt.baseDir, "errors.jsonl")); err != nil {
				t.Errorf("errors.jsonl not created: %v", err)
			}
		})
	}
}

func TestLoggerStampsRunAndTest(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "run-1")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.SetTestID("TC-001")
	if err := logger.Info(CategoryStep, "step.executed", "Go to https://example.com", map[string]any{"index": 0}); err != nil {
		t.Fatalf("Info: %v", err)
	}
	logger.SetTestID("")
	if err := logger.Error(CategoryRun, "run.fatal", "browser crashed", nil); err != nil {
		t.Fatalf("Error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := ReadEvents(filepath.Join(dir, "runs", "run-1.jsonl"))
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].RunID != "run-1" || events[0].TestID != "TC-001" {
		t.Errorf("first event ids = %q/%q", events[0].RunID, events[0].TestID)
	}
	if events[1].TestID != "" {
		t.Errorf("test id should be cleared, got %q", events[1].TestID)
	}

	errEvents, err := ReadEvents(filepath.Join(dir, "errors.jsonl"))
	if err != nil {
		t.Fatalf("ReadEvents errors: %v", err)
	}
	if len(errEvents) != 1 || errEvents[0].EventType != "run.fatal" {
		t.Errorf("unexpected error log contents: %+v", errEvents)
	}
}

func TestMinLevelFilters(t *testing.T) {
	logger, err := NewLogger(t.TempDir(), "levels")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	var buf bytes.Buffer
	logger.SetConsole(&buf)
	logger.SetMinLevel(LevelWarn)

	_ = logger.Debug(CategoryRun, "debug", "hidden", nil)
	_ = logger.Info(CategoryRun, "info", "hidden", nil)
	_ = logger.Warn(CategoryRun, "warn", "shown", nil)

	out := buf.String()
	if strings.Count(out, "\n") != 1 || !strings.Contains(out, `"type":"warn"`) {
		t.Errorf("console output = %q", out)
	}
}

func TestNilAndNopLoggerAreSafe(t *testing.T) {
	var nilLogger *Logger
	if err := nilLogger.Info(CategoryRun, "x", "y", nil); err != nil {
		t.Errorf("nil logger returned error: %v", err)
	}
	nilLogger.SetTestID("x")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}

	nop := Nop()
	if err := nop.Error(CategoryRun, "x", "y", nil); err != nil {
		t.Errorf("nop logger returned error: %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != LevelDebug {
		t.Error("debug should parse")
	}
	if ParseLevel("verbose") != LevelInfo {
		t.Error("unknown levels should fall back to info")
	}
}
