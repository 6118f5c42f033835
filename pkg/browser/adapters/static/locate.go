package static

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	clickableSelector = "a[href], button, input[type=submit], input[type=button], input[type=reset], input[type=image], [role=button], [role=link], summary"
	fillableSelector  = "input, textarea, [contenteditable]"
	selectSelector    = "select"
)

var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"template": true,
	"noscript": true,
	"head":     true,
}

// normalize collapses whitespace runs and trims.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(normalize(needle)))
}

// textOf returns the rendered text of sel, ignoring script-like elements.
func textOf(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		collectText(n, &b)
	}
	return normalize(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.ElementNode:
		if skippedTags[n.Data] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// accessibleName approximates the accessible name of a control.
func accessibleName(sel *goquery.Selection) string {
	if v, ok := sel.Attr("aria-label"); ok && strings.TrimSpace(v) != "" {
		return normalize(v)
	}
	if goquery.NodeName(sel) == "input" {
		if v, ok := sel.Attr("value"); ok && strings.TrimSpace(v) != "" {
			return normalize(v)
		}
		if v, ok := sel.Attr("alt"); ok {
			return normalize(v)
		}
		if strings.EqualFold(sel.AttrOr("type", ""), "submit") {
			return "Submit"
		}
		return ""
	}
	if text := textOf(sel); text != "" {
		return text
	}
	if alt, ok := sel.Find("img[alt]").First().Attr("alt"); ok {
		return normalize(alt)
	}
	return normalize(sel.AttrOr("title", ""))
}

// isVisible reports whether sel and all its ancestors are rendered.
func isVisible(sel *goquery.Selection) bool {
	if sel == nil || sel.Length() == 0 {
		return false
	}
	for n := sel.Nodes[0]; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if skippedTags[n.Data] {
			return false
		}
		el := goquery.NewDocumentFromNode(n).Selection
		if _, hidden := el.Attr("hidden"); hidden {
			return false
		}
		if n.Data == "input" && strings.EqualFold(el.AttrOr("type", ""), "hidden") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(el.AttrOr("style", ""), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func isDisabled(sel *goquery.Selection) bool {
	_, disabled := sel.Attr("disabled")
	return disabled
}

// findByRole returns the first visible control whose accessible name
// contains label.
func findByRole(doc *goquery.Document, label string) *goquery.Selection {
	match := doc.Find(clickableSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return isVisible(s) && containsFold(accessibleName(s), label)
	})
	if match.Length() == 0 {
		return nil
	}
	return match.First()
}

// findByText returns the innermost element, in document order, whose text
// contains text. Visibility is not considered.
func findByText(doc *goquery.Document, text string) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("body *").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if skippedTags[goquery.NodeName(el)] {
			return true
		}
		if !containsFold(textOf(el), text) {
			return true
		}
		deeper := false
		el.Children().EachWithBreak(func(_ int, c *goquery.Selection) bool {
			if containsFold(textOf(c), text) {
				deeper = true
				return false
			}
			return true
		})
		if deeper {
			return true
		}
		found = el
		return false
	})
	if found == nil {
		body := doc.Find("body").First()
		if body.Length() > 0 && containsFold(textOf(body), text) {
			found = body
		}
	}
	return found
}

// findByLabel resolves a form control through <label> text or aria-label.
func findByLabel(doc *goquery.Document, label, fieldSelector string) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("label").EachWithBreak(func(_ int, l *goquery.Selection) bool {
		if !containsFold(textOf(l), label) {
			return true
		}
		if id, ok := l.Attr("for"); ok && id != "" {
			target := doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
				return s.AttrOr("id", "") == id
			}).Filter(fieldSelector).First()
			if target.Length() > 0 {
				found = target
				return false
			}
		}
		nested := l.Find(fieldSelector).First()
		if nested.Length() > 0 {
			found = nested
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	aria := doc.Find(fieldSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr("aria-label")
		return ok && containsFold(v, label)
	}).First()
	if aria.Length() > 0 {
		return aria
	}
	return nil
}

// findByPlaceholder resolves a form control by its placeholder text.
func findByPlaceholder(doc *goquery.Document, label, fieldSelector string) *goquery.Selection {
	match := doc.Find(fieldSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr("placeholder")
		return ok && containsFold(v, label)
	}).First()
	if match.Length() == 0 {
		return nil
	}
	return match
}

// findByName resolves a form control by its name attribute.
func findByName(doc *goquery.Document, name, fieldSelector string) *goquery.Selection {
	match := doc.Find(fieldSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.EqualFold(s.AttrOr("name", ""), strings.TrimSpace(name))
	}).First()
	if match.Length() == 0 {
		return nil
	}
	return match
}

// isFillable excludes inputs a user cannot type into.
func isFillable(sel *goquery.Selection) bool {
	if goquery.NodeName(sel) != "input" {
		return true
	}
	switch strings.ToLower(sel.AttrOr("type", "text")) {
	case "hidden", "submit", "button", "reset", "image", "checkbox", "radio", "file":
		return false
	}
	return true
}
