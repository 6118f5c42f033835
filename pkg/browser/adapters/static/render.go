package static

import (
	"encoding/json"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/net/html"

	"github.com/odvcencio/qapilot/pkg/browser"
)

const (
	videoFile = "video.gif"
	traceFile = "trace.json"

	lineHeight = 15
	charWidth  = 7
	margin     = 8
	barHeight  = 24
)

var (
	colorPage  = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	colorBar   = color.RGBA{R: 0xe8, G: 0xea, B: 0xed, A: 0xff}
	colorText  = color.RGBA{R: 0x20, G: 0x21, B: 0x24, A: 0xff}
	colorMuted = color.RGBA{R: 0x5f, G: 0x63, B: 0x68, A: 0xff}
	colorField = color.RGBA{R: 0x1a, G: 0x73, B: 0xe8, A: 0xff}
)

type line struct {
	text  string
	color color.Color
}

// renderPage draws a text-mode approximation of the document: an address
// bar, the title and one line per block of visible text or form control.
func renderPage(vp browser.Viewport, address string, doc *goquery.Document, values map[*html.Node]string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, vp.Width, vp.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(colorPage), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, vp.Width, barHeight), image.NewUniform(colorBar), image.Point{}, draw.Src)

	cols := (vp.Width - 2*margin) / charWidth
	if cols < 8 {
		cols = 8
	}
	drawText(img, margin, barHeight-8, truncate(address, cols), colorMuted)

	var lines []line
	if title := normalize(doc.Find("title").First().Text()); title != "" {
		lines = append(lines, line{text: title, color: colorText}, line{})
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		for _, n := range body.Nodes {
			lines = collectLines(n, values, lines)
		}
	}

	y := barHeight + lineHeight + 4
	for _, l := range lines {
		for _, chunk := range wrap(l.text, cols) {
			if y > vp.Height-4 {
				return img
			}
			c := l.color
			if c == nil {
				c = colorText
			}
			drawText(img, margin, y, chunk, c)
			y += lineHeight
		}
	}
	return img
}

func collectLines(n *html.Node, values map[*html.Node]string, lines []line) []line {
	switch n.Type {
	case html.TextNode:
		if text := normalize(n.Data); text != "" {
			lines = append(lines, line{text: text})
		}
		return lines
	case html.ElementNode:
		if skippedTags[n.Data] {
			return lines
		}
		sel := goquery.NewDocumentFromNode(n).Selection
		if !isVisible(sel) {
			return lines
		}
		switch n.Data {
		case "input", "textarea", "select":
			return append(lines, line{text: describeField(sel, values), color: colorField})
		case "img":
			if alt := normalize(sel.AttrOr("alt", "")); alt != "" {
				return append(lines, line{text: "[image: " + alt + "]", color: colorMuted})
			}
			return lines
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		lines = collectLines(c, values, lines)
	}
	return lines
}

func describeField(sel *goquery.Selection, values map[*html.Node]string) string {
	name := sel.AttrOr("aria-label", "")
	if name == "" {
		name = sel.AttrOr("placeholder", "")
	}
	if name == "" {
		name = sel.AttrOr("name", goquery.NodeName(sel))
	}
	value, ok := values[sel.Nodes[0]]
	if !ok {
		switch goquery.NodeName(sel) {
		case "textarea":
			value = sel.Text()
		case "select":
			opt := sel.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = sel.Find("option").First()
			}
			value = textOf(opt)
		default:
			value = sel.AttrOr("value", "")
		}
	}
	if strings.EqualFold(sel.AttrOr("type", ""), "password") {
		value = strings.Repeat("*", len(value))
	}
	return "[" + normalize(name) + ": " + value + "]"
}

func drawText(dst draw.Image, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func wrap(text string, cols int) []string {
	if text == "" {
		return []string{""}
	}
	var out []string
	runes := []rune(text)
	for len(runes) > cols {
		cut := cols
		for i := cols; i > cols/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = []rune(strings.TrimLeft(string(runes[cut:]), " "))
	}
	return append(out, string(runes))
}

func truncate(s string, cols int) string {
	runes := []rune(s)
	if len(runes) <= cols {
		return s
	}
	return string(runes[:cols-3]) + "..."
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func toPaletted(img image.Image) *image.Paletted {
	p := image.NewPaletted(img.Bounds(), palette.WebSafe)
	draw.Draw(p, p.Bounds(), img, img.Bounds().Min, draw.Src)
	return p
}

// writeGIF stores frames as an animated GIF and returns its path.
func writeGIF(dir string, frames []*image.Paletted, delay time.Duration) (string, error) {
	anim := &gif.GIF{}
	centis := int(delay / (10 * time.Millisecond))
	if centis <= 0 {
		centis = 100
	}
	for _, frame := range frames {
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, centis)
	}
	path := filepath.Join(dir, videoFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func writeTrace(dir string, entries []traceEntry) (string, error) {
	if entries == nil {
		entries = []traceEntry{}
	}
	data, err := json.MarshalIndent(map[string]any{"actions": entries}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, traceFile)
	return path, os.WriteFile(path, data, 0o644)
}
