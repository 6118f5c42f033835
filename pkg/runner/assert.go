package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/odvcencio/qapilot/pkg/browser"
	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/step"
)

// evaluateAssertion checks a URL or text post-condition against the
// session's current page.
func (r *Runner) evaluateAssertion(ctx context.Context, sess browser.Session, act step.Action) error {
	switch act.Kind {
	case step.AssertURLContains:
		current := sess.URL()
		if strings.Contains(current, act.Fragment) {
			return nil
		}
		return qerrors.New(qerrors.ErrCodeAssertionFailed, "url assertion failed").
			WithContext("url", current).
			WithContext("fragment", act.Fragment).
			WithUserMessage(fmt.Sprintf("URL '%s' does not contain '%s'", current, act.Fragment))
	case step.AssertTextVisible:
		actx, cancel := context.WithTimeout(ctx, r.cfg.Session.ActionTimeout)
		defer cancel()
		visible, err := sess.TextVisible(actx, act.Text)
		if err != nil {
			return err
		}
		if visible {
			return nil
		}
		return qerrors.New(qerrors.ErrCodeAssertionFailed, "text assertion failed").
			WithContext("text", act.Text).
			WithUserMessage(fmt.Sprintf("Text '%s' not visible", act.Text))
	default:
		return qerrors.Newf(qerrors.ErrCodeInternal, "%s is not an assertion", act.Kind)
	}
}

// classify maps a per-case error onto an error code and a report message.
func classify(err error) *qerrors.Error {
	if qErr, ok := qerrors.As(err); ok && qErr.UserMessage != "" {
		return qErr
	}
	message := browser.MessageOf(err)
	switch {
	case browser.IsLocatorNotFound(err):
		return qerrors.Wrap(err, qerrors.ErrCodeLocatorNotFound, "target element not found").WithUserMessage(message)
	case browser.IsTimeout(err):
		return qerrors.Wrap(err, qerrors.ErrCodeActionTimeout, "browser action timed out").WithUserMessage(message)
	default:
		return qerrors.Wrap(err, qerrors.ErrCodeActionFailed, "browser action failed").WithUserMessage(message)
	}
}
