// Package testcase defines the UI test-case input contract and loaders for
// JSON and YAML suite files.
package testcase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Priority is the ordered importance level of a test case.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Valid reports whether p is one of the three known levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// TestCase is one declarative UI test. It is read-only to the runner.
type TestCase struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Priority Priority `json:"priority" yaml:"priority"`
	Steps    []string `json:"steps" yaml:"steps"`
	Expected []string `json:"expected" yaml:"expected"`
}

// Suite is the on-disk envelope {"tests": [...]}.
type Suite struct {
	Tests []TestCase `json:"tests" yaml:"tests"`
}

// Normalize fills identifiers and titles the author left out and replaces
// nil slices. Priority is kept as given; unknown priorities are reported
// with default severity downstream.
func Normalize(cases []TestCase) []TestCase {
	out := make([]TestCase, len(cases))
	for i, tc := range cases {
		tc.ID = strings.TrimSpace(tc.ID)
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("TC-%03d", i+1)
		}
		tc.Title = strings.TrimSpace(tc.Title)
		if tc.Title == "" {
			tc.Title = fmt.Sprintf("Test %d", i+1)
		}
		tc.Priority = Priority(strings.ToUpper(strings.TrimSpace(string(tc.Priority))))
		tc.Steps = append([]string{}, tc.Steps...)
		tc.Expected = append([]string{}, tc.Expected...)
		out[i] = tc
	}
	return out
}

// Decode parses test cases from JSON or YAML. Both the {"tests": [...]}
// envelope and a bare list are accepted.
func Decode(data []byte, format string) ([]TestCase, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty test suite")
	}

	switch strings.ToLower(format) {
	case "yaml", "yml":
		return decodeYAML(trimmed)
	case "json":
		return decodeJSON(trimmed)
	default:
		if trimmed[0] == '{' || trimmed[0] == '[' {
			return decodeJSON(trimmed)
		}
		return decodeYAML(trimmed)
	}
}

func decodeJSON(data []byte) ([]TestCase, error) {
	if data[0] == '[' {
		var cases []TestCase
		if err := json.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("parsing JSON test list: %w", err)
		}
		return Normalize(cases), nil
	}
	var suite Suite
	if err := json.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parsing JSON test suite: %w", err)
	}
	return Normalize(suite.Tests), nil
}

func decodeYAML(data []byte) ([]TestCase, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parsing YAML test suite: %w", err)
	}
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
		var cases []TestCase
		if err := node.Content[0].Decode(&cases); err != nil {
			return nil, fmt.Errorf("parsing YAML test list: %w", err)
		}
		return Normalize(cases), nil
	}
	var suite Suite
	if err := node.Decode(&suite); err != nil {
		return nil, fmt.Errorf("parsing YAML test suite: %w", err)
	}
	return Normalize(suite.Tests), nil
}

// LoadFile reads a suite file, picking the format from the extension.
func LoadFile(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading test suite: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Decode(data, format)
}
