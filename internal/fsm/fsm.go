// Package fsm provides a small transition-table finite state machine.
//
// The machine is parameterized by a state type S and a transition-data type D
// so the same engine drives order, payment, and refund lifecycles with
// different state enumerations. Behaviour is supplied as three plain function
// values rather than by subclassing: a start guard that can veto a
// transition, an end hook for side effects, and an error hook that shapes
// the error surfaced to the caller.
package fsm

import "github.com/go-faster/errors"

// Transitions maps each state to the set of states it may legally move to.
// A state with no entry (or an empty slice) is terminal.
type Transitions[S comparable] map[S][]S

// Config assembles a state machine.
//
// OnTransitionStart runs before the state changes; returning a non-nil error
// rejects the transition and leaves the state untouched. OnTransitionEnd runs
// after the state has changed, so it may safely re-read the new state; if it
// returns an error the state change is reverted and the error propagated,
// allowing the hosting transaction to roll back side effects together with
// the transition. OnError builds the error returned for rejected transitions;
// msg is empty when the transition table itself forbids the move.
type Config[S comparable, D any] struct {
	Transitions       Transitions[S]
	OnTransitionStart func(from, to S, data D) error
	OnTransitionEnd   func(from, to S, data D) error
	OnError           func(from, to S, msg string) error
}

// FSM tracks a current state and applies transitions against a Config.
type FSM[S comparable, D any] struct {
	cfg   Config[S, D]
	state S
}

// New returns a machine positioned at the initial state.
func New[S comparable, D any](cfg Config[S, D], initial S) *FSM[S, D] {
	return &FSM[S, D]{cfg: cfg, state: initial}
}

// State returns the current state.
func (m *FSM[S, D]) State() S {
	return m.state
}

// CanTransitionTo reports whether the transition table permits moving from
// the current state to the given state. It has no side effects.
func (m *FSM[S, D]) CanTransitionTo(to S) bool {
	for _, s := range m.cfg.Transitions[m.state] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStates returns a copy of the states reachable from the current state.
func (m *FSM[S, D]) NextStates() []S {
	allowed := m.cfg.Transitions[m.state]
	out := make([]S, len(allowed))
	copy(out, allowed)
	return out
}

// TransitionTo moves the machine to the given state.
//
// Order of operations: table check, start guard, state change, end hook.
// Any rejection leaves the state unchanged; an end-hook failure reverts it.
func (m *FSM[S, D]) TransitionTo(to S, data D) error {
	from := m.state

	if !m.CanTransitionTo(to) {
		return m.fail(from, to, "")
	}

	if m.cfg.OnTransitionStart != nil {
		if err := m.cfg.OnTransitionStart(from, to, data); err != nil {
			return m.fail(from, to, err.Error())
		}
	}

	m.state = to

	if m.cfg.OnTransitionEnd != nil {
		if err := m.cfg.OnTransitionEnd(from, to, data); err != nil {
			m.state = from
			return errors.Wrap(err, "transition end hook")
		}
	}

	return nil
}

func (m *FSM[S, D]) fail(from, to S, msg string) error {
	if m.cfg.OnError != nil {
		return m.cfg.OnError(from, to, msg)
	}
	if msg == "" {
		return errors.Errorf("transition from %v to %v is not allowed", from, to)
	}
	return errors.Errorf("transition from %v to %v rejected: %s", from, to, msg)
}
