package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration
}

// StateMachine tracks the current state and validates transitions. It is
// safe for concurrent use.
type StateMachine interface {
	State() State
	CanFire(trigger Trigger) bool
	// Fire transitions to the state permitted for trigger
	Fire(trigger Trigger) error
	PermittedTriggers() []Trigger
}

type stateConfig struct {
	transitions map[Trigger]State
}

type stateMachineBuilder struct {
	configurations map[State]*stateConfig
}

type stateMachine struct {
	mu             sync.RWMutex
	currentState   State
	configurations map[State]*stateConfig
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		configurations: make(map[State]*stateConfig),
	}
}

func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{transitions: make(map[Trigger]State)}
		b.configurations[state] = config
	}
	return config
}

func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	// copy so later Configure calls don't leak into built machines
	configs := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		transitions := make(map[Trigger]State, len(config.transitions))
		for trigger, to := range config.transitions {
			transitions[trigger] = to
		}
		configs[state] = &stateConfig{transitions: transitions}
	}

	return &stateMachine{
		currentState:   initialState,
		configurations: configs,
	}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.transitions[trigger] = toState
	return c
}

func (m *stateMachine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.target(trigger)
	return ok
}

func (m *stateMachine) Fire(trigger Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, ok := m.target(trigger)
	if !ok {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.currentState)
	}
	m.currentState = to
	return nil
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	config, exists := m.configurations[m.currentState]
	if !exists {
		return []Trigger{}
	}
	triggers := make([]Trigger, 0, len(config.transitions))
	for trigger := range config.transitions {
		triggers = append(triggers, trigger)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

func (m *stateMachine) target(trigger Trigger) (State, bool) {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return "", false
	}
	to, ok := config.transitions[trigger]
	return to, ok
}

// NewRunMachine returns a machine for one run:
//
//	RECEIVED -> EXTRACTED -> BUILDING -> DISPATCHING -> COMPLETED
//
// Any non-terminal state may move to FAILED.
func NewRunMachine() StateMachine {
	b := NewBuilder()

	b.Configure(StateReceived).
		Permit(TriggerExtract, StateExtracted).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateExtracted).
		Permit(TriggerStartBuild, StateBuilding).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateBuilding).
		Permit(TriggerStartDispatch, StateDispatching).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateDispatching).
		Permit(TriggerComplete, StateCompleted).
		Permit(TriggerFail, StateFailed)

	return b.Build(StateReceived)
}
