package models

import (
	"fmt"
)

// PositionState represents the current lifecycle state of a position.
type PositionState string

const (
	// StateOpen means the position is filled and under management.
	StateOpen PositionState = "open"
	// StateClosing means a close order is in flight for the position.
	StateClosing PositionState = "closing"
	// StateClosed is terminal: the close order filled and realized P&L is set.
	StateClosed PositionState = "closed"
	// StateCloseFailed means the last close attempt was rejected or timed out;
	// the position is eligible for another close attempt.
	StateCloseFailed PositionState = "close_failed_retrying"
)

// Transition conditions.
const (
	ConditionExitTriggered = "exit_triggered"
	ConditionCloseFilled   = "close_filled"
	ConditionCloseFailed   = "close_failed"
	ConditionCloseRetry    = "close_retry"
)

// StateTransition defines a valid state transition.
type StateTransition struct {
	From      PositionState
	To        PositionState
	Condition string
}

// ValidTransitions is the complete lifecycle transition table. The only
// back-edge is CloseFailed -> Closing (a retried close); everything else is
// monotonic. There is deliberately no edge that skips Closing.
var ValidTransitions = []StateTransition{
	{StateOpen, StateClosing, ConditionExitTriggered},
	{StateClosing, StateClosed, ConditionCloseFilled},
	{StateClosing, StateCloseFailed, ConditionCloseFailed},
	{StateCloseFailed, StateClosing, ConditionCloseRetry},
}

// IsTerminal reports whether the state ends the position lifecycle.
func (s PositionState) IsTerminal() bool {
	return s == StateClosed
}

// CanBeginClose reports whether a close may be initiated from this state.
// Open and CloseFailed are the only states from which BeginClose succeeds.
func (s PositionState) CanBeginClose() bool {
	return s == StateOpen || s == StateCloseFailed
}

// ValidateTransition checks the transition table for from -> to with condition.
func ValidateTransition(from, to PositionState, condition string) error {
	for _, tr := range ValidTransitions {
		if tr.From == from && tr.To == to && tr.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition %q", from, to, condition)
}
