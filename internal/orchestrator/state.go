package orchestrator

import (
	"fmt"
)

// State is the lifecycle state of the runtime.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateRunning       State = "running"
	StatePausing       State = "pausing"
	StatePaused        State = "paused"
	StateResuming      State = "resuming"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
	StateFailed        State = "failed"
)

// TransitionError is returned when a lifecycle operation is not allowed in
// the current state.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid runtime transition: %s -> %s", e.From, e.To)
}

// validTransitions defines which lifecycle transitions are allowed.
// Failed and Stopped are terminal.
var validTransitions = map[State]map[State]bool{
	StateUninitialized: {
		StateStarting: true,
	},
	StateStarting: {
		StateRunning: true,
		StateFailed:  true,
	},
	StateRunning: {
		StatePausing:  true,
		StateStopping: true,
		StateFailed:   true,
	},
	StatePausing: {
		StatePaused: true,
		StateFailed: true,
	},
	StatePaused: {
		StateResuming: true,
		StateStopping: true,
		StateFailed:   true,
	},
	StateResuming: {
		StateRunning: true,
		StateFailed:  true,
	},
	StateStopping: {
		StateStopped: true,
		StateFailed:  true,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	return validTransitions[from][to]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// Serving reports whether facade operations are accepted.
func (s State) Serving() bool {
	return s == StateRunning || s == StatePaused
}
