package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/odvcencio/qapilot/pkg/artifact"
	"github.com/odvcencio/qapilot/pkg/browser"
	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/logging"
	"github.com/odvcencio/qapilot/pkg/observability"
	"github.com/odvcencio/qapilot/pkg/report"
	"github.com/odvcencio/qapilot/pkg/step"
	"github.com/odvcencio/qapilot/pkg/telemetry"
	"github.com/odvcencio/qapilot/pkg/testcase"
)

// failureShotTimeout bounds the failure screenshot, which is taken even
// when the run context has expired.
const failureShotTimeout = 5 * time.Second

// caseRun carries the mutable state of one test case.
type caseRun struct {
	tc       testcase.TestCase
	runID    string
	dir      string
	state    State
	history  []State
	executed []string
	failStep int
}

func (c *caseRun) moveTo(phase Phase, stepIndex int) {
	if !canTransition(c.state.Phase, phase) {
		panic(fmt.Sprintf("runner: illegal transition %s -> %s", c.state, phase))
	}
	c.state = State{Phase: phase, Step: stepIndex}
	c.history = append(c.history, c.state)
}

// runCase drives one test case through its states. The returned error is
// only non-nil for run-level failures; a failing case is reported through
// the outcome.
func (r *Runner) runCase(ctx context.Context, mgr *browser.Manager, layout *artifact.Layout, tc testcase.TestCase) (outcome report.Outcome, err error) {
	c := &caseRun{
		tc:       tc,
		runID:    layout.RunID,
		state:    State{Phase: PhaseIdle},
		history:  []State{{Phase: PhaseIdle}},
		failStep: -1,
	}
	outcome = report.Outcome{Case: tc}

	r.logger.SetTestID(tc.ID)
	defer r.logger.SetTestID("")
	_ = r.logger.Info(logging.CategoryRun, "case.started", tc.Title, map[string]any{"priority": string(tc.Priority)})
	r.publish(telemetry.EventCaseStarted, c.runID, tc.ID, map[string]any{"title": tc.Title})

	ctx, span := observability.StartSpan(ctx, "case", observability.AttrTestID.String(tc.ID))
	defer func() {
		span.SetAttributes(observability.AttrPassed.Bool(outcome.Passed))
		observability.EndSpan(span, err)
	}()

	c.dir, err = layout.CaseDir(tc.ID)
	if err != nil {
		return outcome, qerrors.Wrap(err, qerrors.ErrCodeStorageWrite, "failed to create test case directory")
	}

	sessCfg := r.cfg.Session
	sessCfg.SessionID = c.runID + "/" + filepath.Base(c.dir)
	sessCfg.ArtifactDir = c.dir
	sess, err := mgr.OpenSession(ctx, sessCfg)
	if err != nil {
		if browser.IsFatal(err) {
			return outcome, fatal(err, "Browser session could not be opened")
		}
		c.moveTo(PhaseFailed, 0)
		r.finishCase(c, &outcome, classify(err))
		return outcome, nil
	}
	c.moveTo(PhaseSessionOpen, 0)

	closed := false
	defer func() {
		if !closed {
			_, _ = mgr.CloseSession(sess)
		}
	}()

	failure, fatalErr := r.execute(ctx, sess, c)
	if fatalErr != nil {
		return outcome, fatalErr
	}

	failurePath := ""
	if failure != nil {
		failurePath = filepath.Join(c.dir, artifact.FailureScreenshot)
		r.captureFailure(ctx, sess, failurePath)
		c.moveTo(PhaseFailed, c.state.Step)
	} else {
		c.moveTo(PhasePassed, 0)
	}

	closed = true
	arts, closeErr := mgr.CloseSession(sess)
	if closeErr != nil {
		_ = r.logger.Warn(logging.CategorySession, "session.close_failed", "Closing the browser session failed", map[string]any{"error": closeErr.Error()})
	}

	outcome.Video = existingRel(layout, arts.Video)
	outcome.Trace = existingRel(layout, arts.Trace)
	outcome.Screenshot = existingRel(layout, failurePath)
	r.finishCase(c, &outcome, failure)
	return outcome, nil
}

// execute runs the steps and then the expectations, stopping at the first
// failure. A non-nil second return aborts the run.
func (r *Runner) execute(ctx context.Context, sess browser.Session, c *caseRun) (*qerrors.Error, error) {
	for i, raw := range c.tc.Steps {
		c.moveTo(PhaseExecuting, i)
		c.executed = append(c.executed, raw)
		act := step.Parse(raw)

		start := time.Now()
		stepErr := r.perform(ctx, sess, act)
		if stepErr == nil {
			shot := filepath.Join(c.dir, artifact.StepLabel(i, raw)+".png")
			stepErr = r.screenshot(ctx, sess, shot)
		}
		observability.RecordStep(act.Kind.String(), stepErr == nil, time.Since(start))

		if stepErr != nil {
			if browser.IsFatal(stepErr) {
				return nil, fatal(stepErr, "Browser crashed")
			}
			failure := classify(stepErr).WithContext("step", i+1)
			c.failStep = i
			_ = r.logger.Warn(logging.CategoryStep, "step.failed", qerrors.UserMessageOf(failure), map[string]any{
				"index":  i,
				"step":   raw,
				"action": act.Kind.String(),
			})
			r.publish(telemetry.EventStepFailed, c.runID, c.tc.ID, map[string]any{"index": i, "step": raw, "error": qerrors.UserMessageOf(failure)})
			return failure, nil
		}
		if act.Kind == step.Unrecognized {
			_ = r.logger.Warn(logging.CategoryStep, "step.unrecognized", "Skipping unrecognized step", map[string]any{"index": i, "step": raw})
			r.publish(telemetry.EventStepSkipped, c.runID, c.tc.ID, map[string]any{"index": i, "step": raw})
			continue
		}
		_ = r.logger.Info(logging.CategoryStep, "step.executed", raw, map[string]any{"index": i, "action": act.Kind.String()})
		r.publish(telemetry.EventStepExecuted, c.runID, c.tc.ID, map[string]any{"index": i, "step": raw})
	}

	c.moveTo(PhaseAsserting, 0)
	for _, raw := range c.tc.Expected {
		act := step.ParseExpectation(raw)
		if act.Kind == step.Unrecognized {
			_ = r.logger.Warn(logging.CategoryAssert, "expectation.unrecognized", "Skipping unrecognized expectation", map[string]any{"expected": raw})
			continue
		}
		if err := r.evaluateAssertion(ctx, sess, act); err != nil {
			if browser.IsFatal(err) {
				return nil, fatal(err, "Browser crashed")
			}
			failure := classify(err)
			_ = r.logger.Warn(logging.CategoryAssert, "assertion.failed", qerrors.UserMessageOf(failure), map[string]any{"expected": raw})
			return failure, nil
		}
		_ = r.logger.Debug(logging.CategoryAssert, "assertion.passed", raw, nil)
	}
	return nil, nil
}

// perform executes one parsed step with the matching timeout.
func (r *Runner) perform(ctx context.Context, sess browser.Session, act step.Action) error {
	switch act.Kind {
	case step.Navigate:
		actx, cancel := context.WithTimeout(ctx, r.cfg.Session.NavigationTimeout)
		defer cancel()
		return sess.Navigate(actx, act.URL)
	case step.Click:
		actx, cancel := context.WithTimeout(ctx, r.cfg.Session.ActionTimeout)
		defer cancel()
		return sess.Click(actx, act.Label)
	case step.Fill:
		actx, cancel := context.WithTimeout(ctx, r.cfg.Session.ActionTimeout)
		defer cancel()
		return sess.Fill(actx, act.Label, act.Value)
	case step.Select:
		actx, cancel := context.WithTimeout(ctx, r.cfg.Session.ActionTimeout)
		defer cancel()
		return sess.Select(actx, act.Option, act.Label)
	case step.AssertURLContains, step.AssertTextVisible:
		return r.evaluateAssertion(ctx, sess, act)
	case step.Unrecognized:
		return nil
	default:
		return qerrors.Newf(qerrors.ErrCodeInternal, "unhandled step kind %s", act.Kind)
	}
}

func (r *Runner) screenshot(ctx context.Context, sess browser.Session, path string) error {
	actx, cancel := context.WithTimeout(ctx, r.cfg.Session.ActionTimeout)
	defer cancel()
	return sess.Screenshot(actx, path)
}

// captureFailure is best effort: a missing failure screenshot does not
// change the outcome, and the issue then carries no screenshot path.
func (r *Runner) captureFailure(ctx context.Context, sess browser.Session, path string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureShotTimeout)
	defer cancel()
	if err := sess.Screenshot(actx, path); err != nil {
		_ = r.logger.Warn(logging.CategorySession, "failure_screenshot.failed", "Could not capture failure screenshot", map[string]any{"error": err.Error()})
	}
}

func (r *Runner) finishCase(c *caseRun, outcome *report.Outcome, failure *qerrors.Error) {
	outcome.Executed = append([]string{}, c.executed...)
	outcome.At = r.now()
	outcome.Passed = failure == nil
	if failure != nil {
		outcome.Actual = qerrors.UserMessageOf(failure)
	}
	observability.RecordCase(report.KindWeb, outcome.Passed)

	if outcome.Passed {
		_ = r.logger.Info(logging.CategoryRun, "case.passed", c.tc.Title, nil)
		r.publish(telemetry.EventCasePassed, c.runID, c.tc.ID, nil)
	} else {
		_ = r.logger.Warn(logging.CategoryRun, "case.failed", outcome.Actual, map[string]any{
			"code":  string(failure.Code),
			"state": c.history[len(c.history)-2].String(),
		})
		r.publish(telemetry.EventCaseFailed, c.runID, c.tc.ID, map[string]any{"error": outcome.Actual})
	}

	if r.onCase != nil {
		r.onCase(CaseResult{
			TestID:     c.tc.ID,
			Final:      c.state,
			FailedStep: c.failStep,
			History:    append([]State{}, c.history...),
		})
	}
}

func existingRel(layout *artifact.Layout, path string) string {
	if !artifact.Exists(path) {
		return ""
	}
	return layout.Rel(path)
}
