package models

import (
	"fmt"
	"time"
)

// EngineState represents the current state of the strategy engine.
type EngineState string

const (
	// StateIdle means the engine is flat and may look for a new entry.
	StateIdle EngineState = "idle"
	// StateEntering means the four leg orders are in flight.
	StateEntering EngineState = "entering"
	// StateActive means the spread is held and being monitored.
	StateActive EngineState = "active"
	// StateClosing means exit orders are in flight.
	StateClosing EngineState = "closing"
	// StateCooldown means a stop-triggered exit completed and re-entry is
	// forbidden until the cooldown delay elapses.
	StateCooldown EngineState = "cooldown"
)

// Transition conditions. Every transition in ValidTransitions names the
// condition under which it fires.
const (
	ConditionEntryStarted    = "entry_started"
	ConditionLegsFilled      = "legs_filled"
	ConditionLegFailed       = "leg_failed"
	ConditionStopBreached    = "stop_breached"
	ConditionForcedExit      = "forced_exit"
	ConditionManualClose     = "manual_close"
	ConditionStopExitDone    = "stop_exit_done"
	ConditionExitDone        = "exit_done"
	ConditionCooldownElapsed = "cooldown_elapsed"
)

// AllStates lists every engine state.
var AllStates = []EngineState{StateIdle, StateEntering, StateActive, StateClosing, StateCooldown}

// StateTransition defines one valid engine state transition.
type StateTransition struct {
	From        EngineState
	To          EngineState
	Condition   string
	Description string
}

// ValidTransitions enumerates every legal engine transition.
var ValidTransitions = []StateTransition{
	{StateIdle, StateEntering, ConditionEntryStarted, "Entry conditions met, placing four legs"},
	{StateEntering, StateActive, ConditionLegsFilled, "All four legs filled"},
	{StateEntering, StateIdle, ConditionLegFailed, "A leg failed, cycle abandoned"},

	{StateActive, StateClosing, ConditionStopBreached, "Trailing stop breached"},
	{StateActive, StateClosing, ConditionForcedExit, "Expiry-day forced exit"},
	{StateActive, StateClosing, ConditionManualClose, "Operator or shutdown close"},

	{StateClosing, StateCooldown, ConditionStopExitDone, "Stop-triggered close complete, cooldown begins"},
	{StateClosing, StateIdle, ConditionExitDone, "Forced or manual close complete"},

	{StateCooldown, StateIdle, ConditionCooldownElapsed, "Re-entry delay elapsed"},
}

// StateMachine tracks the engine's state and enforces ValidTransitions.
type StateMachine struct {
	currentState    EngineState
	previousState   EngineState
	transitionTime  time.Time
	transitionCount map[EngineState]int
}

// NewStateMachine creates a state machine in StateIdle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:    StateIdle,
		previousState:   StateIdle,
		transitionTime:  time.Now().UTC(),
		transitionCount: make(map[EngineState]int),
	}
}

// Current returns the current state.
func (sm *StateMachine) Current() EngineState {
	return sm.currentState
}

// Previous returns the state before the most recent transition.
func (sm *StateMachine) Previous() EngineState {
	return sm.previousState
}

// CanTransition reports whether moving to the given state under the given
// condition is legal from the current state.
func (sm *StateMachine) CanTransition(to EngineState, condition string) bool {
	for _, t := range ValidTransitions {
		if t.From == sm.currentState && t.To == to && t.Condition == condition {
			return true
		}
	}
	return false
}

// Transition moves to a new state, or returns an error if the transition is
// not in ValidTransitions.
func (sm *StateMachine) Transition(to EngineState, condition string) error {
	if !sm.CanTransition(to, condition) {
		return fmt.Errorf("invalid transition from %s to %s with condition %q",
			sm.currentState, to, condition)
	}
	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	sm.transitionCount[to]++
	return nil
}

// TransitionCount returns how many times the machine has entered a state.
func (sm *StateMachine) TransitionCount(state EngineState) int {
	return sm.transitionCount[state]
}

// Describe returns a human-readable description of the current state.
func (sm *StateMachine) Describe() string {
	switch sm.currentState {
	case StateIdle:
		return "Flat, watching for entry conditions"
	case StateEntering:
		return "Entering: four leg orders in flight"
	case StateActive:
		return "Active: spread held, monitoring P&L and trailing stop"
	case StateClosing:
		return "Closing: exit orders in flight"
	case StateCooldown:
		return "Cooldown: waiting out re-entry delay after stop exit"
	default:
		return "Unknown state"
	}
}
