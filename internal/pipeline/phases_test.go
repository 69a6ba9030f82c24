package pipeline

import (
	"errors"
	"testing"
)

func TestCanTransitionFollowsStepOrder(t *testing.T) {
	t.Parallel()

	legal := [][2]Phase{
		{PhasePending, PhaseFetching},
		{PhaseFetching, PhaseSelecting},
		{PhaseSelecting, PhaseInvestigating},
		{PhaseInvestigating, PhaseReviewing},
		{PhaseReviewing, PhaseDesigning},
		{PhaseReviewing, PhaseClarification},
		{PhaseDesigning, PhaseImplementing},
		{PhaseImplementing, PhaseUpdating},
		{PhaseUpdating, PhaseCompleted},
		{PhasePending, PhaseFailed},
		{PhaseImplementing, PhaseFailed},
	}
	for _, pair := range legal {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be legal", pair[0], pair[1])
		}
	}

	illegal := [][2]Phase{
		{PhasePending, PhaseDesigning},
		{PhaseFetching, PhaseInvestigating},
		{PhaseDesigning, PhaseClarification},
		{PhaseCompleted, PhaseFetching},
		{PhaseFailed, PhaseFetching},
		{PhaseClarification, PhaseDesigning},
		{PhaseReviewing, PhaseReviewing},
	}
	for _, pair := range illegal {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be illegal", pair[0], pair[1])
		}
	}
}

func TestTerminalPhasesHaveNoExits(t *testing.T) {
	t.Parallel()

	for _, phase := range []Phase{PhaseCompleted, PhaseFailed, PhaseClarification} {
		if !phase.IsTerminal() {
			t.Fatalf("%s should be terminal", phase)
		}
		if len(allowedTransitions[phase]) != 0 {
			t.Fatalf("%s has outgoing transitions", phase)
		}
	}
	for _, phase := range []Phase{PhasePending, PhaseFetching, PhaseReviewing, PhaseUpdating} {
		if phase.IsTerminal() {
			t.Fatalf("%s should not be terminal", phase)
		}
	}
}

func TestPhaseTransitionErrorMatching(t *testing.T) {
	t.Parallel()

	err := &PhaseTransitionError{RunID: "run-1", From: PhaseCompleted, To: PhaseFetching}
	if !errors.Is(err, &PhaseTransitionError{}) {
		t.Fatal("errors.Is failed to match PhaseTransitionError")
	}

	want := `cannot move run "run-1" from phase "completed" to "fetching"`
	if err.Error() != want {
		t.Fatalf("error = %q, want %q", err.Error(), want)
	}
}
