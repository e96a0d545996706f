package models

import (
	"fmt"
	"sync"
	"time"
)

// EngineState represents the current state of the strategy engine.
type EngineState string

const (
	// StateWaitingEntry means no basket is live and the entry gate has not fired.
	StateWaitingEntry EngineState = "waiting_entry"
	// StateEntering means leg orders are being placed.
	StateEntering EngineState = "entering"
	// StateMonitoring means a complete basket is live and being polled.
	StateMonitoring EngineState = "monitoring"
	// StateExiting means the closing basket is being placed.
	StateExiting EngineState = "exiting"
	// StateDone means the day's cycle finished cleanly.
	StateDone EngineState = "done"
	// StateFailed is the absorbing state after a partial basket. Manual
	// intervention is required; the engine never retries remaining legs.
	StateFailed EngineState = "failed"
)

// Transition conditions.
const (
	ConditionEntryGate      = "entry_gate"
	ConditionBasketComplete = "basket_complete"
	ConditionBasketPartial  = "basket_partial"
	ConditionExitSignal     = "exit_signal"
	ConditionExitConfirmed  = "exit_confirmed"
)

// EngineTransition defines one valid state transition.
type EngineTransition struct {
	From        EngineState
	To          EngineState
	Condition   string
	Description string
}

// ValidEngineTransitions is the transition table for the engine state
// machine. There is no path out of done or failed: the engine runs at
// most one entry cycle per trading day.
var ValidEngineTransitions = []EngineTransition{
	{StateWaitingEntry, StateEntering, ConditionEntryGate, "Entry gate satisfied, placing basket legs"},
	{StateEntering, StateMonitoring, ConditionBasketComplete, "Every leg accepted, monitoring P&L"},
	{StateEntering, StateFailed, ConditionBasketPartial, "Leg rejected, basket is partial"},
	{StateMonitoring, StateExiting, ConditionExitSignal, "Exit condition fired, closing basket"},
	{StateExiting, StateDone, ConditionExitConfirmed, "Closing basket confirmed"},
}

// EngineStateMachine manages strategy engine state transitions. It is
// safe for concurrent reads while the engine drives transitions.
type EngineStateMachine struct {
	mu             sync.RWMutex
	current        EngineState
	previous       EngineState
	transitionTime time.Time
}

// NewEngineStateMachine creates a state machine in waiting_entry.
func NewEngineStateMachine() *EngineStateMachine {
	return &EngineStateMachine{
		current:        StateWaitingEntry,
		previous:       StateWaitingEntry,
		transitionTime: time.Now().UTC(),
	}
}

// Current returns the current state.
func (sm *EngineStateMachine) Current() EngineState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Previous returns the state before the last transition.
func (sm *EngineStateMachine) Previous() EngineState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.previous
}

// TransitionTime returns when the last transition happened.
func (sm *EngineStateMachine) TransitionTime() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.transitionTime
}

// CanTransition checks whether a transition is defined without
// performing it.
func (sm *EngineStateMachine) CanTransition(to EngineState, condition string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.canTransitionLocked(to, condition)
}

func (sm *EngineStateMachine) canTransitionLocked(to EngineState, condition string) bool {
	for _, t := range ValidEngineTransitions {
		if t.From == sm.current && t.To == to && t.Condition == condition {
			return true
		}
	}
	return false
}

// Transition moves to a new state, or errors if the transition is not in
// the table.
func (sm *EngineStateMachine) Transition(to EngineState, condition string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.canTransitionLocked(to, condition) {
		return fmt.Errorf("invalid transition from %s to %s with condition %q", sm.current, to, condition)
	}
	sm.previous = sm.current
	sm.current = to
	sm.transitionTime = time.Now().UTC()
	return nil
}

// Terminal reports whether the engine has finished for the day.
func (sm *EngineStateMachine) Terminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current == StateDone || sm.current == StateFailed
}

// Description returns a human-readable description of the current state.
func (sm *EngineStateMachine) Description() string {
	switch sm.Current() {
	case StateWaitingEntry:
		return "Waiting for entry gate (weekday, entry time, market open)"
	case StateEntering:
		return "Placing basket legs"
	case StateMonitoring:
		return "Basket live, polling P&L against target and stop-loss"
	case StateExiting:
		return "Placing closing basket"
	case StateDone:
		return "Cycle complete for the day"
	case StateFailed:
		return "Partial basket - manual intervention required"
	default:
		return "Unknown state"
	}
}
