// Package apirun executes HTTP API checks and reports failures in the same
// RunSummary shape as the web runner.
package apirun

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Expect lists the checks applied to a response.
type Expect struct {
	Status int `json:"status,omitempty"`
	// JSONPathEquals maps dot paths (or JSONata expressions starting with
	// '$') to the value they must produce.
	JSONPathEquals map[string]any `json:"jsonPathEquals,omitempty"`
}

// TestCase is one API request and its expectations.
type TestCase struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
	Expect  Expect            `json:"expect"`
}

func (tc TestCase) method() string {
	if m := strings.ToUpper(strings.TrimSpace(tc.Method)); m != "" {
		return m
	}
	return "GET"
}

func (tc TestCase) displayName() string {
	switch {
	case tc.Title != "":
		return tc.Title
	case tc.ID != "":
		return tc.ID
	default:
		return tc.URL
	}
}

// requestText renders the request for the report.
func (tc TestCase) requestText() string {
	headers := tc.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	var body any = map[string]any{}
	if tc.Body != nil {
		body = tc.Body
	}
	return fmt.Sprintf("%s %s\nheaders=%s\nbody=%s", tc.method(), tc.URL, compactJSON(headers), compactJSON(body))
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Decode accepts {"apiTests": [...]}, {"tests": [...]} or a bare list.
func Decode(data []byte) ([]TestCase, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty API test suite")
	}
	if trimmed[0] == '[' {
		var tests []TestCase
		if err := json.Unmarshal(trimmed, &tests); err != nil {
			return nil, fmt.Errorf("parsing API test list: %w", err)
		}
		return tests, nil
	}
	var envelope struct {
		APITests []TestCase `json:"apiTests"`
		Tests    []TestCase `json:"tests"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("parsing API test suite: %w", err)
	}
	if envelope.APITests != nil {
		return envelope.APITests, nil
	}
	return envelope.Tests, nil
}

// LoadFile reads an API suite from a JSON file.
func LoadFile(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading API test suite: %w", err)
	}
	return Decode(data)
}
