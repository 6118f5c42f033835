package runner

import "fmt"

// Phase is the coarse state of a test case.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSessionOpen
	PhaseExecuting
	PhaseAsserting
	PhasePassed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSessionOpen:
		return "session_open"
	case PhaseExecuting:
		return "executing"
	case PhaseAsserting:
		return "asserting"
	case PhasePassed:
		return "completed_pass"
	case PhaseFailed:
		return "completed_fail"
	default:
		return "unknown"
	}
}

// State is the position of a test case in its lifecycle. Step is only
// meaningful while executing.
type State struct {
	Phase Phase
	Step  int
}

func (s State) String() string {
	if s.Phase == PhaseExecuting {
		return fmt.Sprintf("executing(%d)", s.Step)
	}
	return s.Phase.String()
}

// Terminal reports whether s is one of the completed states.
func (s State) Terminal() bool {
	return s.Phase == PhasePassed || s.Phase == PhaseFailed
}

// transitions lists the legal successor phases.
var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseSessionOpen, PhaseFailed},
	PhaseSessionOpen: {PhaseExecuting, PhaseAsserting, PhaseFailed},
	PhaseExecuting:   {PhaseExecuting, PhaseAsserting, PhaseFailed},
	PhaseAsserting:   {PhasePassed, PhaseFailed},
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CaseResult is reported for every test case once it reaches a terminal
// state.
type CaseResult struct {
	TestID string
	Final  State
	// FailedStep is the index of the step that failed, or -1 when the case
	// passed or failed during assertions.
	FailedStep int
	// History holds every state the case passed through, in order.
	History []State
}
