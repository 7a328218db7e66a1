package models

import (
	"testing"
)

func TestValidateTransition_HappyPath(t *testing.T) {
	steps := []struct {
		from      PositionState
		to        PositionState
		condition string
	}{
		{StateOpen, StateClosing, ConditionExitTriggered},
		{StateClosing, StateClosed, ConditionCloseFilled},
	}
	for _, s := range steps {
		if err := ValidateTransition(s.from, s.to, s.condition); err != nil {
			t.Errorf("transition %s -> %s (%s) should be valid: %v", s.from, s.to, s.condition, err)
		}
	}
}

func TestValidateTransition_RetryBackEdge(t *testing.T) {
	// close_failed_retrying -> closing is the only way back into the close path.
	if err := ValidateTransition(StateClosing, StateCloseFailed, ConditionCloseFailed); err != nil {
		t.Fatalf("closing -> close_failed should be valid: %v", err)
	}
	if err := ValidateTransition(StateCloseFailed, StateClosing, ConditionCloseRetry); err != nil {
		t.Fatalf("close_failed -> closing retry should be valid: %v", err)
	}
}

func TestValidateTransition_Invalid(t *testing.T) {
	invalid := []struct {
		from PositionState
		to   PositionState
	}{
		{StateOpen, StateClosed},       // must pass through closing
		{StateClosed, StateOpen},       // terminal
		{StateClosed, StateClosing},    // terminal
		{StateCloseFailed, StateOpen},  // no reopening
		{StateOpen, StateCloseFailed},  // failure only follows a close attempt
		{StateClosing, StateOpen},      // no abandoning an in-flight close
	}
	for _, s := range invalid {
		if err := ValidateTransition(s.from, s.to, "whatever"); err == nil {
			t.Errorf("transition %s -> %s should be rejected", s.from, s.to)
		}
	}
}

func TestValidateTransition_WrongCondition(t *testing.T) {
	if err := ValidateTransition(StateOpen, StateClosing, ConditionCloseFilled); err == nil {
		t.Error("open -> closing with a fill condition should be rejected")
	}
}

func TestIsTerminal(t *testing.T) {
	if !StateClosed.IsTerminal() {
		t.Error("closed should be terminal")
	}
	for _, s := range []PositionState{StateOpen, StateClosing, StateCloseFailed} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCanBeginClose(t *testing.T) {
	if !StateOpen.CanBeginClose() || !StateCloseFailed.CanBeginClose() {
		t.Error("open and close_failed_retrying must be closeable")
	}
	if StateClosing.CanBeginClose() {
		t.Error("closing must not begin a second close")
	}
	if StateClosed.CanBeginClose() {
		t.Error("closed must not begin a close")
	}
}
