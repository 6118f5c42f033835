package playwright

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/odvcencio/qapilot/pkg/browser"
)

const (
	videoFile = "video.webm"
	traceFile = "trace.zip"
)

// Session is one browser context with a single page.
type Session struct {
	id      string
	cfg     browser.SessionConfig
	browser pw.Browser
	context pw.BrowserContext
	page    pw.Page

	mu     sync.Mutex
	closed bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// URL returns the page URL.
func (s *Session) URL() string {
	return s.page.URL()
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout, err := s.budget(ctx, s.cfg.NavigationTimeout)
	if err != nil {
		return err
	}
	_, err = s.page.Goto(url, pw.PageGotoOptions{
		Timeout:   pw.Float(timeout),
		WaitUntil: pw.WaitUntilStateLoad,
	})
	if err != nil {
		return s.translate(err, fmt.Sprintf("Navigation to %s", url))
	}
	return nil
}

// Click resolves label as a button, then a link, then any text.
func (s *Session) Click(ctx context.Context, label string) error {
	timeout, err := s.budget(ctx, s.cfg.ActionTimeout)
	if err != nil {
		return err
	}
	target, err := s.resolve(timeout, fmt.Sprintf("No element matching '%s' to click", label),
		s.page.GetByRole(*pw.AriaRoleButton, pw.PageGetByRoleOptions{Name: label}),
		s.page.GetByRole(*pw.AriaRoleLink, pw.PageGetByRoleOptions{Name: label}),
		s.page.GetByText(label),
	)
	if err != nil {
		return err
	}
	if err := target.Click(pw.LocatorClickOptions{Timeout: pw.Float(timeout)}); err != nil {
		return s.translate(err, fmt.Sprintf("Click on '%s'", label))
	}
	return nil
}

// Fill resolves label through form labels, then placeholders.
func (s *Session) Fill(ctx context.Context, label, value string) error {
	timeout, err := s.budget(ctx, s.cfg.ActionTimeout)
	if err != nil {
		return err
	}
	target, err := s.resolve(timeout, fmt.Sprintf("No field labelled '%s' to fill", label),
		s.page.GetByLabel(label),
		s.page.GetByPlaceholder(label),
	)
	if err != nil {
		return err
	}
	if err := target.Fill(value, pw.LocatorFillOptions{Timeout: pw.Float(timeout)}); err != nil {
		return s.translate(err, fmt.Sprintf("Fill of '%s'", label))
	}
	return nil
}

// Select picks option by its label, falling back to its value.
func (s *Session) Select(ctx context.Context, option, label string) error {
	timeout, err := s.budget(ctx, s.cfg.ActionTimeout)
	if err != nil {
		return err
	}
	target, err := s.resolve(timeout, fmt.Sprintf("No select labelled '%s'", label),
		s.page.GetByLabel(label),
		s.page.GetByRole(*pw.AriaRoleCombobox, pw.PageGetByRoleOptions{Name: label}),
	)
	if err != nil {
		return err
	}
	opts := pw.LocatorSelectOptionOptions{Timeout: pw.Float(timeout)}
	if _, err := target.SelectOption(pw.SelectOptionValues{Labels: &[]string{option}}, opts); err == nil {
		return nil
	}
	if _, err := target.SelectOption(pw.SelectOptionValues{Values: &[]string{option}}, opts); err != nil {
		if errors.Is(err, pw.ErrTimeout) {
			return browser.LocatorNotFound(fmt.Sprintf("Option '%s' not found in '%s'", option, label))
		}
		return s.translate(err, fmt.Sprintf("Select in '%s'", label))
	}
	return nil
}

// TextVisible waits up to the action timeout for text to become visible.
func (s *Session) TextVisible(ctx context.Context, text string) (bool, error) {
	timeout, err := s.budget(ctx, s.cfg.ActionTimeout)
	if err != nil {
		return false, err
	}
	err = s.page.GetByText(text).First().WaitFor(pw.LocatorWaitForOptions{
		State:   pw.WaitForSelectorStateVisible,
		Timeout: pw.Float(timeout),
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pw.ErrTimeout) {
		return false, nil
	}
	return false, s.translate(err, "Text check")
}

// Screenshot captures the viewport to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	timeout, err := s.budget(ctx, s.cfg.ActionTimeout)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return browser.WrapDriverError("screenshot", "Screenshot failed", err)
	}
	if _, err := s.page.Screenshot(pw.PageScreenshotOptions{
		Path:    pw.String(path),
		Timeout: pw.Float(timeout),
	}); err != nil {
		return s.translate(err, "Screenshot")
	}
	return nil
}

// Close stops tracing, closes the context and moves the recorded video into
// the artifact directory.
func (s *Session) Close() (browser.Artifacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.Artifacts{}, browser.ErrSessionClosed
	}
	s.closed = true

	var (
		arts browser.Artifacts
		errs []error
	)
	if s.cfg.Trace && s.cfg.ArtifactDir != "" {
		path := filepath.Join(s.cfg.ArtifactDir, traceFile)
		if err := s.context.Tracing().Stop(path); err != nil {
			errs = append(errs, s.translate(err, "Saving trace"))
		} else {
			arts.Trace = path
		}
	}
	video := s.page.Video()
	if err := s.context.Close(); err != nil && !errors.Is(err, pw.ErrTargetClosed) {
		errs = append(errs, s.translate(err, "Closing browser context"))
	}
	if s.cfg.RecordVideo && video != nil && s.cfg.ArtifactDir != "" {
		path := filepath.Join(s.cfg.ArtifactDir, videoFile)
		if err := video.SaveAs(path); err != nil {
			errs = append(errs, s.translate(err, "Saving video"))
		} else {
			arts.Video = path
			_ = video.Delete()
		}
		_ = os.RemoveAll(filepath.Join(s.cfg.ArtifactDir, ".video"))
	}
	return arts, errors.Join(errs...)
}

// budget returns the Playwright timeout in milliseconds: the smaller of
// fallback and the time left on ctx.
func (s *Session) budget(ctx context.Context, fallback time.Duration) (float64, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, browser.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return 0, browser.Timeout("Action timed out", err)
	}
	return remaining(ctx, fallback), nil
}

// resolve waits for any tier to attach, then returns the first tier, in
// order, that matched.
func (s *Session) resolve(timeout float64, notFound string, tiers ...pw.Locator) (pw.Locator, error) {
	combined := tiers[0].First()
	for _, t := range tiers[1:] {
		combined = combined.Or(t.First())
	}
	err := combined.First().WaitFor(pw.LocatorWaitForOptions{
		State:   pw.WaitForSelectorStateAttached,
		Timeout: pw.Float(timeout),
	})
	if err != nil {
		if errors.Is(err, pw.ErrTimeout) {
			return nil, browser.LocatorNotFound(notFound)
		}
		return nil, s.translate(err, "Locating element")
	}
	for _, t := range tiers {
		n, err := t.Count()
		if err != nil {
			return nil, s.translate(err, "Locating element")
		}
		if n > 0 {
			return t.First(), nil
		}
	}
	return nil, browser.LocatorNotFound(notFound)
}

func remaining(ctx context.Context, fallback time.Duration) float64 {
	limit := fallback
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < limit || limit <= 0 {
			limit = left
		}
	}
	if limit < time.Millisecond {
		limit = time.Millisecond
	}
	return millis(limit)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (s *Session) translate(err error, what string) error {
	return translate(err, what, s.browser)
}

// translate maps Playwright errors onto the browser package's taxonomy. A
// closed page or context fails the action; only a disconnected browser is
// reported as a crash.
func translate(err error, what string, b pw.Browser) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pw.ErrTimeout):
		return browser.Timeout(what+" timed out", err)
	case errors.Is(err, pw.ErrTargetClosed) && !connected(b):
		return browser.WrapDriverError("crashed", "Browser closed unexpectedly", fmt.Errorf("%w: %w", browser.ErrCrashed, err))
	case errors.Is(err, pw.ErrTargetClosed):
		return browser.WrapDriverError("target_closed", what+" failed: page was closed", err)
	default:
		return browser.WrapDriverError("action_failed", what+" failed", err)
	}
}

func connected(b pw.Browser) bool {
	return b != nil && b.IsConnected()
}
