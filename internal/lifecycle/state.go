// Package lifecycle coordinates a decision from its in-memory draft through
// analysis, the weighted flip and the optional final choice.
package lifecycle

import (
	"errors"
	"fmt"

	"decision-flip/backend/internal/store"
)

// State is a step in a decision's life. States are entered in order, once each.
type State int

const (
	StateCreated State = iota
	StateInitialChoiceSet
	StateClarifyingAnswered
	StateAnalyzed
	StateFlipped
	StateFinalized
)

var stateNames = [...]string{
	StateCreated:            "CREATED",
	StateInitialChoiceSet:   "INITIAL_CHOICE_SET",
	StateClarifyingAnswered: "CLARIFYING_ANSWERED",
	StateAnalyzed:           "ANALYZED",
	StateFlipped:            "FLIPPED",
	StateFinalized:          "FINALIZED",
}

func (s State) String() string {
	if s < StateCreated || s > StateFinalized {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

var (
	// ErrInvalidInput marks caller input that fails validation before any work runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when a step is attempted out of order.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrAlreadyFinalized is returned when a final choice is already recorded.
	ErrAlreadyFinalized = store.ErrAlreadyFinalized
)

// canAdvance checks that to is the state immediately after from.
func canAdvance(id string, from, to State) error {
	if from == StateFinalized {
		return fmt.Errorf("%w: decision %s is finalized", ErrAlreadyFinalized, id)
	}
	if to != from+1 {
		return fmt.Errorf("%w: decision %s cannot move from %s to %s", ErrInvalidTransition, id, from, to)
	}
	return nil
}

// StateOf reports the state of a persisted decision. Only flipped decisions are
// ever written, so a stored record is either FLIPPED or FINALIZED.
func StateOf(d *store.Decision) State {
	if d != nil && d.Finalized() {
		return StateFinalized
	}
	return StateFlipped
}
