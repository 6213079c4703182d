// Package workflow tracks the lifecycle of a pipeline run.
package workflow

import "errors"

// State represents a stage in the run lifecycle
type State string

const (
	StateReceived    State = "RECEIVED"
	StateExtracted   State = "EXTRACTED"
	StateBuilding    State = "BUILDING"
	StateDispatching State = "DISPATCHING"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
)

var validStates = map[State]bool{
	StateReceived:    true,
	StateExtracted:   true,
	StateBuilding:    true,
	StateDispatching: true,
	StateCompleted:   true,
	StateFailed:      true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
}

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid run state
func (s State) IsValid() bool {
	return validStates[s]
}

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerExtract       Trigger = "EXTRACT"
	TriggerStartBuild    Trigger = "START_BUILD"
	TriggerStartDispatch Trigger = "START_DISPATCH"
	TriggerComplete      Trigger = "COMPLETE"
	TriggerFail          Trigger = "FAIL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// ErrInvalidTransition is returned when a state transition is not allowed
var ErrInvalidTransition = errors.New("invalid state transition")
