package transaction

import (
	"errors"
	"fmt"
)

var ErrInvalidStateTransition = errors.New("invalid state transition")

// State is the phase a transaction is in.
type State int32

const (
	StatePending State = iota
	StateValidating
	StateExecuting
	StateCommitted
	StateRolledBack
	StateDryRunComplete
	StateRejected
)

var stateNames = map[State]string{
	StatePending:        "pending",
	StateValidating:     "validating",
	StateExecuting:      "executing",
	StateCommitted:      "committed",
	StateRolledBack:     "rolled_back",
	StateDryRunComplete: "dry_run_complete",
	StateRejected:       "rejected",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	StatePending:        {StateValidating, StateRejected},
	StateValidating:     {StateExecuting, StateRejected},
	StateExecuting:      {StateCommitted, StateRolledBack, StateDryRunComplete, StateRejected},
	StateCommitted:      {},
	StateRolledBack:     {},
	StateDryRunComplete: {},
	StateRejected:       {},
}

func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

func (s State) CanTransitionTo(target State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// machine tracks one transaction's state along with the path it took.
type machine struct {
	state State
	trail []State
}

func newMachine() *machine {
	return &machine{state: StatePending, trail: []State{StatePending}}
}

func (m *machine) State() State {
	return m.state
}

func (m *machine) transitionTo(next State) error {
	if !m.state.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, m.state, next)
	}
	m.state = next
	m.trail = append(m.trail, next)
	return nil
}
