package app

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

type State string

const (
	StateUnconfigured    State = "unconfigured"
	StateConnectingDB    State = "connecting-db"
	StateMigratingSchema State = "migrating-schema"
	StateInitializing    State = "initializing-subsystems"
	StateServing         State = "serving"
	StateCrashed         State = "crashed"
)

var ErrIllegalTransition = errors.New("app: illegal state transition")

// crashed is reachable from every startup state; serving is terminal.
var transitions = map[State][]State{
	StateUnconfigured:    {StateConnectingDB, StateCrashed},
	StateConnectingDB:    {StateMigratingSchema, StateInitializing, StateCrashed},
	StateMigratingSchema: {StateInitializing, StateCrashed},
	StateInitializing:    {StateServing, StateCrashed},
}

type stateMachine struct {
	mu  sync.Mutex
	cur State
}

func newStateMachine() *stateMachine {
	return &stateMachine{cur: StateUnconfigured}
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *stateMachine) advance(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(transitions[m.cur], to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.cur, to)
	}
	m.cur = to
	return nil
}
