package agent

import (
	"sync"
	"time"

	"github.com/kubeadapt/gpumon/internal/errors"
)

// PipelineState represents the current lifecycle state of the pipeline.
type PipelineState string

// Pipeline lifecycle states.
const (
	StateStarting PipelineState = "starting"
	StateRunning  PipelineState = "running"
	StateDegraded PipelineState = "degraded"
	StateStopped  PipelineState = "stopped"
)

// AllStates lists every state, in lifecycle order.
var AllStates = []PipelineState{StateStarting, StateRunning, StateDegraded, StateStopped}

// StateMachine tracks the pipeline's lifecycle state. Degraded means at least
// one streaming source terminated while the rest keep running; stopped means
// the pipeline shut down. Stopped is terminal.
type StateMachine struct {
	mu          sync.RWMutex
	state       PipelineState
	stateReason string
	since       time.Time
	clock       errors.Clock
}

// NewStateMachine creates a StateMachine starting in StateStarting.
func NewStateMachine(clock errors.Clock) *StateMachine {
	return &StateMachine{
		state: StateStarting,
		since: clock.Now(),
		clock: clock,
	}
}

// State returns the current pipeline state.
func (sm *StateMachine) State() PipelineState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// StateReason returns the human-readable reason for the current state.
func (sm *StateMachine) StateReason() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.stateReason
}

// Since returns when the current state was entered.
func (sm *StateMachine) Since() time.Time {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.since
}

// TransitionTo sets the state with a reason and reports whether it was
// applied. Transitions out of StateStopped are refused.
func (sm *StateMachine) TransitionTo(state PipelineState, reason string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.state == StateStopped {
		return false
	}
	if sm.state != state {
		sm.since = sm.clock.Now()
	}
	sm.state = state
	sm.stateReason = reason
	return true
}
