package static

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/odvcencio/qapilot/pkg/browser"
)

const blankPage = "<html><head><title></title></head><body></body></html>"

// Session is one isolated page: its own cookies, history and form state.
type Session struct {
	id      string
	cfg     browser.SessionConfig
	runtime Config
	client  *http.Client

	mu     sync.Mutex
	url    *url.URL
	doc    *goquery.Document
	status int
	values map[*html.Node]string
	frames []*image.Paletted
	trace  []traceEntry
	closed bool
}

type traceEntry struct {
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	URL    string    `json:"url"`
	Status int       `json:"status,omitempty"`
	Error  string    `json:"error,omitempty"`
}

func newSession(cfg browser.SessionConfig, rt Config, client *http.Client) *Session {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader(blankPage))
	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	blank, _ := url.Parse("about:blank")
	return &Session{
		id:      id,
		cfg:     cfg,
		runtime: rt,
		client:  client,
		url:     blank,
		doc:     doc,
		values:  make(map[*html.Node]string),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// URL returns the address of the current document.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url.String()
}

// Navigate loads rawURL, resolved against the current document.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	target, err := s.url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return s.record("navigate", rawURL, browser.WrapDriverError("navigation", fmt.Sprintf("Invalid URL '%s'", rawURL), err))
	}
	return s.record("navigate", target.String(), s.load(ctx, http.MethodGet, target, nil))
}

// Click follows links and submits forms. Other elements are accepted
// without effect since scripts are not run.
func (s *Session) Click(ctx context.Context, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	target := findByRole(s.doc, label)
	if target == nil {
		target = findByText(s.doc, label)
	}
	if target == nil {
		return s.record("click", label, browser.LocatorNotFound(fmt.Sprintf("No element matching '%s' to click", label)))
	}
	return s.record("click", label, s.activate(ctx, target))
}

// Fill records value for the field resolved by label, then placeholder.
func (s *Session) Fill(ctx context.Context, label, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	field := findByLabel(s.doc, label, fillableSelector)
	if field == nil || !isFillable(field) {
		field = findByPlaceholder(s.doc, label, fillableSelector)
	}
	if field == nil || !isFillable(field) {
		return s.record("fill", label, browser.LocatorNotFound(fmt.Sprintf("No field labelled '%s' to fill", label)))
	}
	if isDisabled(field) {
		return s.record("fill", label, browser.NewDriverError("not_editable", fmt.Sprintf("Field '%s' is disabled", label)))
	}
	if _, ro := field.Attr("readonly"); ro {
		return s.record("fill", label, browser.NewDriverError("not_editable", fmt.Sprintf("Field '%s' is read-only", label)))
	}
	s.values[field.Nodes[0]] = value
	return s.record("fill", label, nil)
}

// Select picks option by visible text or value in the resolved select.
func (s *Session) Select(ctx context.Context, option, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	sel := findByLabel(s.doc, label, selectSelector)
	if sel == nil {
		sel = findByName(s.doc, label, selectSelector)
	}
	if sel == nil {
		return s.record("select", label, browser.LocatorNotFound(fmt.Sprintf("No select labelled '%s'", label)))
	}
	var picked string
	found := false
	sel.Find("option").EachWithBreak(func(_ int, o *goquery.Selection) bool {
		text := textOf(o)
		value := o.AttrOr("value", text)
		if strings.EqualFold(text, normalize(option)) || value == option {
			picked = value
			found = true
			return false
		}
		return true
	})
	if !found {
		return s.record("select", label, browser.LocatorNotFound(fmt.Sprintf("Option '%s' not found in '%s'", option, label)))
	}
	s.values[sel.Nodes[0]] = picked
	return s.record("select", label, nil)
}

// TextVisible checks the first element containing text.
func (s *Session) TextVisible(ctx context.Context, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	el := findByText(s.doc, text)
	visible := el != nil && isVisible(el)
	_ = s.record("text_visible", text, nil)
	return visible, nil
}

// Screenshot renders the current document to a PNG file at path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	img := renderPage(s.cfg.Viewport, s.url.String(), s.doc, s.values)
	if err := writePNG(path, img); err != nil {
		return browser.WrapDriverError("screenshot", "Screenshot failed", err)
	}
	if s.cfg.RecordVideo && len(s.frames) < s.runtime.MaxFrames {
		s.frames = append(s.frames, toPaletted(img))
	}
	return nil
}

// Close writes the session video and trace into the artifact directory.
func (s *Session) Close() (browser.Artifacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.Artifacts{}, browser.ErrSessionClosed
	}
	s.closed = true
	s.client.CloseIdleConnections()

	var arts browser.Artifacts
	if s.cfg.ArtifactDir == "" {
		return arts, nil
	}
	if s.cfg.RecordVideo && len(s.frames) > 0 {
		path, err := writeGIF(s.cfg.ArtifactDir, s.frames, s.runtime.FrameDelay)
		if err != nil {
			return arts, browser.WrapDriverError("video", "Writing session video failed", err)
		}
		arts.Video = path
	}
	if s.cfg.Trace {
		path, err := writeTrace(s.cfg.ArtifactDir, s.trace)
		if err != nil {
			return arts, browser.WrapDriverError("trace", "Writing session trace failed", err)
		}
		arts.Trace = path
	}
	return arts, nil
}

func (s *Session) ready(ctx context.Context) error {
	if s.closed {
		return browser.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return browser.Timeout("Action timed out", err)
	}
	return nil
}

func (s *Session) record(action, target string, err error) error {
	entry := traceEntry{
		Time:   time.Now(),
		Action: action,
		Target: target,
		URL:    s.url.String(),
		Status: s.status,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	s.trace = append(s.trace, entry)
	return err
}

func (s *Session) load(ctx context.Context, method string, target *url.URL, form url.Values) error {
	var body io.Reader
	if form != nil && method == http.MethodPost {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return browser.WrapDriverError("navigation", fmt.Sprintf("Invalid request to %s", target), err)
	}
	req.Header.Set("User-Agent", s.runtime.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if browser.IsTimeout(err) {
			return browser.Timeout(fmt.Sprintf("Navigation to %s timed out", target), err)
		}
		return browser.WrapDriverError("navigation", fmt.Sprintf("Navigation to %s failed", target), err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, s.runtime.MaxBodyBytes))
	if err != nil {
		if browser.IsTimeout(err) {
			return browser.Timeout(fmt.Sprintf("Loading %s timed out", target), err)
		}
		return browser.WrapDriverError("navigation", fmt.Sprintf("Could not parse %s", target), err)
	}
	s.url = resp.Request.URL
	s.doc = doc
	s.status = resp.StatusCode
	s.values = make(map[*html.Node]string)
	return nil
}

func (s *Session) activate(ctx context.Context, target *goquery.Selection) error {
	if isDisabled(target) {
		return browser.NewDriverError("not_clickable", fmt.Sprintf("Element '%s' is disabled", accessibleName(target)))
	}
	if link := target.Closest("a[href]"); link.Length() > 0 {
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return nil
		}
		next, err := s.url.Parse(href)
		if err != nil {
			return browser.WrapDriverError("navigation", fmt.Sprintf("Invalid link '%s'", href), err)
		}
		if strings.HasPrefix(href, "#") {
			s.url = next
			return nil
		}
		return s.load(ctx, http.MethodGet, next, nil)
	}
	submitter := target.Closest("button, input[type=submit], input[type=image]")
	if submitter.Length() == 0 {
		return nil
	}
	if goquery.NodeName(submitter) == "button" {
		if t := strings.ToLower(submitter.AttrOr("type", "submit")); t != "submit" {
			return nil
		}
	}
	form := submitter.Closest("form")
	if formID, ok := submitter.Attr("form"); ok {
		form = s.doc.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
			return f.AttrOr("id", "") == formID
		}).First()
	}
	if form.Length() == 0 {
		return nil
	}
	return s.submit(ctx, form, submitter)
}

func (s *Session) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, f *goquery.Selection) {
		name := f.AttrOr("name", "")
		if name == "" || isDisabled(f) {
			return
		}
		override, hasOverride := s.values[f.Nodes[0]]
		switch goquery.NodeName(f) {
		case "input":
			switch strings.ToLower(f.AttrOr("type", "text")) {
			case "submit", "button", "image", "reset", "file":
				return
			case "checkbox", "radio":
				if _, checked := f.Attr("checked"); checked {
					values.Add(name, f.AttrOr("value", "on"))
				}
				return
			}
			if hasOverride {
				values.Add(name, override)
			} else {
				values.Add(name, f.AttrOr("value", ""))
			}
		case "textarea":
			if hasOverride {
				values.Add(name, override)
			} else {
				values.Add(name, f.Text())
			}
		case "select":
			if hasOverride {
				values.Add(name, override)
				return
			}
			opt := f.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = f.Find("option").First()
			}
			if opt.Length() > 0 {
				values.Add(name, opt.AttrOr("value", textOf(opt)))
			}
		}
	})
	if name := submitter.AttrOr("name", ""); name != "" {
		values.Add(name, submitter.AttrOr("value", ""))
	}

	action, err := s.url.Parse(strings.TrimSpace(form.AttrOr("action", "")))
	if err != nil {
		return browser.WrapDriverError("navigation", "Invalid form action", err)
	}
	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", http.MethodGet)))
	if method != http.MethodPost {
		method = http.MethodGet
		action.RawQuery = values.Encode()
		return s.load(ctx, method, action, nil)
	}
	return s.load(ctx, method, action, values)
}
