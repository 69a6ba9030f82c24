package pipeline

import "fmt"

// Phase is the lifecycle position of a pipeline run. A run moves through the
// active phases in step order and ends in exactly one terminal phase.
type Phase string

const (
	// PhasePending is the initial phase before any step has started.
	PhasePending Phase = "pending"
	// PhaseFetching covers the issue fetch step.
	PhaseFetching Phase = "fetching"
	// PhaseSelecting covers repository selection.
	PhaseSelecting Phase = "selecting"
	// PhaseInvestigating covers the root cause investigation session work.
	PhaseInvestigating Phase = "investigating"
	// PhaseReviewing covers the specification completeness review.
	PhaseReviewing Phase = "reviewing"
	// PhaseDesigning covers solution design.
	PhaseDesigning Phase = "designing"
	// PhaseImplementing covers implementation and pull request creation.
	PhaseImplementing Phase = "implementing"
	// PhaseUpdating covers writing results back to the issue tracker.
	PhaseUpdating Phase = "updating"

	// PhaseCompleted is the terminal phase of a fully successful run.
	PhaseCompleted Phase = "completed"
	// PhaseFailed is the terminal phase of an aborted run.
	PhaseFailed Phase = "failed"
	// PhaseClarification is the terminal phase of a run halted because the
	// specification review asked for human input.
	PhaseClarification Phase = "clarification"
)

// allowedTransitions encodes the legal phase moves. Every active phase may
// abort to failed; only reviewing may divert to clarification.
var allowedTransitions = map[Phase]map[Phase]struct{}{
	PhasePending: {
		PhaseFetching: {},
		PhaseFailed:   {},
	},
	PhaseFetching: {
		PhaseSelecting: {},
		PhaseFailed:    {},
	},
	PhaseSelecting: {
		PhaseInvestigating: {},
		PhaseFailed:        {},
	},
	PhaseInvestigating: {
		PhaseReviewing: {},
		PhaseFailed:    {},
	},
	PhaseReviewing: {
		PhaseDesigning:     {},
		PhaseClarification: {},
		PhaseFailed:        {},
	},
	PhaseDesigning: {
		PhaseImplementing: {},
		PhaseFailed:       {},
	},
	PhaseImplementing: {
		PhaseUpdating: {},
		PhaseFailed:   {},
	},
	PhaseUpdating: {
		PhaseCompleted: {},
		PhaseFailed:    {},
	},
}

// CanTransition reports whether a run may move from one phase to another.
func CanTransition(from, to Phase) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// IsTerminal reports whether the phase ends a run. Terminal phases have no
// outgoing transitions.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseClarification:
		return true
	default:
		return false
	}
}

// PhaseTransitionError reports an attempted move the phase graph forbids.
type PhaseTransitionError struct {
	RunID string
	From  Phase
	To    Phase
}

func (e *PhaseTransitionError) Error() string {
	return fmt.Sprintf("cannot move run %q from phase %q to %q", e.RunID, e.From, e.To)
}

// Is enables errors.Is checks against any PhaseTransitionError.
func (e *PhaseTransitionError) Is(target error) bool {
	_, ok := target.(*PhaseTransitionError)
	return ok
}
