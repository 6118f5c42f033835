// Package step interprets single lines of the test-script grammar into typed
// actions.
//
// Steps:
//
//	Go to <url>
//	Click '<label>'
//	Fill '<label>' with '<value>'
//	Select '<option>' in '<label>'
//	Expect url contains <fragment>
//	Expect text '<text>'
//
// Expectations:
//
//	URL contains <fragment>
//	Text '<text>' visible
//
// Matching is case-insensitive on the keywords; arguments keep their case.
// Quoted arguments cannot contain a single quote.
// Anything that does not match yields an Unrecognized action, never an error.
package step

import (
	"regexp"
	"strings"
)

// Kind tags the variant held by an Action.
type Kind int

const (
	Unrecognized Kind = iota
	Navigate
	Click
	Fill
	Select
	AssertURLContains
	AssertTextVisible
)

func (k Kind) String() string {
	switch k {
	case Navigate:
		return "navigate"
	case Click:
		return "click"
	case Fill:
		return "fill"
	case Select:
		return "select"
	case AssertURLContains:
		return "assert_url_contains"
	case AssertTextVisible:
		return "assert_text_visible"
	default:
		return "unrecognized"
	}
}

// IsAssertion reports whether the kind is a post-condition check.
func (k Kind) IsAssertion() bool {
	return k == AssertURLContains || k == AssertTextVisible
}

// Action is the parsed form of a step. Only the fields relevant to Kind are set.
type Action struct {
	Kind     Kind
	URL      string // Navigate
	Label    string // Click, Fill, Select
	Value    string // Fill
	Option   string // Select
	Fragment string // AssertURLContains
	Text     string // AssertTextVisible
	Raw      string
}

type rule struct {
	prefix string
	re     *regexp.Regexp
	build  func(raw string, m []string) Action
}

// Order matters: the first rule whose prefix matches decides the outcome.
var stepRules = []rule{
	{
		prefix: "go to ",
		re:     regexp.MustCompile(`(?is)^go to\s+(\S.*)$`),
		build: func(raw string, m []string) Action {
			return Action{Kind: Navigate, URL: strings.TrimSpace(m[1]), Raw: raw}
		},
	},
	{
		prefix: "click '",
		re:     regexp.MustCompile(`(?is)^click\s+'([^']+)'$`),
		build: func(raw string, m []string) Action {
			return Action{Kind: Click, Label: m[1], Raw: raw}
		},
	},
	{
		prefix: "fill '",
		re:     regexp.MustCompile(`(?is)^fill\s+'([^']+)'\s+with\s+'([^']*)'$`),
		build: func(raw string, m []string) Action {
			return Action{Kind: Fill, Label: m[1], Value: m[2], Raw: raw}
		},
	},
	{
		prefix: "select '",
		re:     regexp.MustCompile(`(?is)^select\s+'([^']+)'\s+in\s+'([^']+)'$`),
		build: func(raw string, m []string) Action {
			return Action{Kind: Select, Option: m[1], Label: m[2], Raw: raw}
		},
	},
	{
		prefix: "expect url contains",
		re:     regexp.MustCompile(`(?is)^expect\s+url\s+contains\s+(\S.*)$`),
		build: func(raw string, m []string) Action {
			return Action{Kind: AssertURLContains, Fragment: strings.TrimSpace(m[1]), Raw: raw}
		},
	},
	{
		prefix: "expect text '",
		re:     regexp.MustCompile(`(?is)^expect\s+text\s+'([^']+)'$`),
		build: func(raw string, m []string) Action {
			return Action{Kind: AssertTextVisible, Text: m[1], Raw: raw}
		},
	},
}

var expectationRules = []rule{
	{
		prefix: "url contains",
		re:     regexp.MustCompile(`(?is)^url\s+contains\s+(\S.*)$`),
		build: func(raw string, m []string) Action {
			return Action{Kind: AssertURLContains, Fragment: strings.TrimSpace(m[1]), Raw: raw}
		},
	},
	{
		prefix: "text '",
		re:     regexp.MustCompile(`(?is)^text\s+'([^']+)'\s+visible$`),
		build: func(raw string, m []string) Action {
			return Action{Kind: AssertTextVisible, Text: m[1], Raw: raw}
		},
	},
}

// Parse interprets one step line.
func Parse(text string) Action {
	return match(stepRules, text)
}

// ParseExpectation interprets one entry of a test case's expected list.
func ParseExpectation(text string) Action {
	return match(expectationRules, text)
}

func match(rules []rule, text string) Action {
	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)
	for _, r := range rules {
		if !strings.HasPrefix(lower, r.prefix) {
			continue
		}
		m := r.re.FindStringSubmatch(raw)
		if m == nil {
			return Action{Kind: Unrecognized, Raw: raw}
		}
		return r.build(raw, m)
	}
	return Action{Kind: Unrecognized, Raw: raw}
}
