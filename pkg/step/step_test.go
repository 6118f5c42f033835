package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Action
	}{
		{
			name: "navigate",
			in:   "Go to https://example.com/login",
			want: Action{Kind: Navigate, URL: "https://example.com/login"},
		},
		{
			name: "navigate is case-insensitive and trimmed",
			in:   "   GO TO   https://Example.com  ",
			want: Action{Kind: Navigate, URL: "https://Example.com"},
		},
		{
			name: "click keeps label case",
			in:   "Click 'Add to Cart'",
			want: Action{Kind: Click, Label: "Add to Cart"},
		},
		{
			name: "fill",
			in:   "Fill 'Username' with 'standard_user'",
			want: Action{Kind: Fill, Label: "Username", Value: "standard_user"},
		},
		{
			name: "fill with empty value",
			in:   "fill 'Search' with ''",
			want: Action{Kind: Fill, Label: "Search", Value: ""},
		},
		{
			name: "select",
			in:   "Select 'Germany' in 'Country'",
			want: Action{Kind: Select, Option: "Germany", Label: "Country"},
		},
		{
			name: "inline url assertion",
			in:   "Expect url contains /inventory",
			want: Action{Kind: AssertURLContains, Fragment: "/inventory"},
		},
		{
			name: "inline text assertion",
			in:   "expect TEXT 'Products'",
			want: Action{Kind: AssertTextVisible, Text: "Products"},
		},
		{
			name: "unknown verb",
			in:   "Do something weird",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "click without closing quote",
			in:   "Click 'Login",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "click without quotes",
			in:   "Click Login",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "fill without value clause",
			in:   "Fill 'Username'",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "select without label",
			in:   "Select 'Germany'",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "navigate without url",
			in:   "Go to ",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "url assertion without fragment",
			in:   "Expect url contains",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "click with extra quoted segment",
			in:   "Click 'a' and 'b'",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "select with extra in clause",
			in:   "Select 'x' in 'y' in 'z'",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "fill with quote inside value",
			in:   "Fill 'Name' with 'O'Brien'",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "text assertion with extra quoted segment",
			in:   "Expect text 'a' or 'b'",
			want: Action{Kind: Unrecognized},
		},
		{
			name: "empty line",
			in:   "",
			want: Action{Kind: Unrecognized},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.in)
			got.Raw = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKeepsRawText(t *testing.T) {
	got := Parse("  Do something weird ")
	assert.Equal(t, Unrecognized, got.Kind)
	assert.Equal(t, "Do something weird", got.Raw)
}

func TestParseExpectation(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{in: "URL contains example.com", want: Action{Kind: AssertURLContains, Fragment: "example.com"}},
		{in: "url CONTAINS /inventory.html", want: Action{Kind: AssertURLContains, Fragment: "/inventory.html"}},
		{in: "Text 'Welcome' visible", want: Action{Kind: AssertTextVisible, Text: "Welcome"}},
		{in: "text 'Swag Labs' VISIBLE", want: Action{Kind: AssertTextVisible, Text: "Swag Labs"}},
		{in: "Text 'Welcome'", want: Action{Kind: Unrecognized}},
		{in: "Title is Home", want: Action{Kind: Unrecognized}},
		{in: "Text 'a' and 'b' visible", want: Action{Kind: Unrecognized}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseExpectation(tt.in)
			got.Raw = ""
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStepGrammarDoesNotAcceptExpectationForms(t *testing.T) {
	// Expected-list phrasing is not a step.
	assert.Equal(t, Unrecognized, Parse("URL contains example.com").Kind)
	assert.Equal(t, Unrecognized, Parse("Text 'Welcome' visible").Kind)
}

func TestKind(t *testing.T) {
	assert.True(t, AssertURLContains.IsAssertion())
	assert.True(t, AssertTextVisible.IsAssertion())
	assert.False(t, Click.IsAssertion())
	assert.Equal(t, "fill", Fill.String())
	assert.Equal(t, "unrecognized", Kind(99).String())
}
