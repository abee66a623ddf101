// Package fsm provides a small finite-state-machine primitive used by the
// machine state aggregator.
package fsm

import (
	"fmt"
	"log/slog"
)

// Callback runs on state entry or exit.
type Callback func()

// Predicate guards a transition. The first transition of the current state
// whose predicate returns true is taken.
type Predicate func() bool

type state struct {
	tag     string
	onEnter Callback
	onExit  Callback
}

type transition struct {
	from string
	to   string
	cond Predicate
}

// FSM evaluates transitions of the current state in insertion order on every
// Step. There are no implicit self-transitions.
type FSM struct {
	states      map[string]*state
	transitions map[string][]transition
	current     string
	initial     string
	logger      *slog.Logger
}

// New creates an empty state machine.
func New(logger *slog.Logger) *FSM {
	return &FSM{
		states:      make(map[string]*state),
		transitions: make(map[string][]transition),
		logger:      logger.With("component", "fsm"),
	}
}

// StateOption configures a state added with AddState.
type StateOption func(*state, *FSM)

// OnEnter sets the callback invoked when the state is entered.
func OnEnter(cb Callback) StateOption {
	return func(s *state, _ *FSM) { s.onEnter = cb }
}

// OnExit sets the callback invoked when the state is exited.
func OnExit(cb Callback) StateOption {
	return func(s *state, _ *FSM) { s.onExit = cb }
}

// Initial marks the state as the starting state.
func Initial() StateOption {
	return func(s *state, f *FSM) {
		if f.initial != "" {
			f.logger.Warn("Initial state already set, overriding",
				"previous", f.initial, "new", s.tag)
		}
		f.initial = s.tag
		f.current = s.tag
	}
}

// AddState registers a state. Re-adding an existing tag replaces its callbacks.
func (f *FSM) AddState(tag string, opts ...StateOption) {
	s := &state{tag: tag}
	for _, opt := range opts {
		opt(s, f)
	}
	f.states[tag] = s
}

// AddTransition registers a transition guarded by cond. Transitions out of a
// state are evaluated in the order they were added. Returns an error when
// either endpoint is unknown.
func (f *FSM) AddTransition(from, to string, cond Predicate) error {
	if _, ok := f.states[from]; !ok {
		return fmt.Errorf("transition from unknown state %q", from)
	}
	if _, ok := f.states[to]; !ok {
		return fmt.Errorf("transition to unknown state %q", to)
	}
	f.transitions[from] = append(f.transitions[from], transition{from: from, to: to, cond: cond})
	return nil
}

// Current returns the tag of the current state, or "" before any state was
// marked initial.
func (f *FSM) Current() string {
	return f.current
}

// Step evaluates the current state's transitions in insertion order and takes
// the first whose predicate holds: exit callback, commit, enter callback.
// The new state is committed before onEnter runs so that enter callbacks
// observing Current see the state being entered. Returns true when a
// transition was taken.
func (f *FSM) Step() bool {
	if f.current == "" {
		f.logger.Warn("Step with no initial state set")
		return false
	}

	for _, tr := range f.transitions[f.current] {
		if !tr.cond() {
			continue
		}
		cur := f.states[f.current]
		next := f.states[tr.to]
		if cur.onExit != nil {
			cur.onExit()
		}
		f.current = tr.to
		if next.onEnter != nil {
			next.onEnter()
		}
		return true
	}
	return false
}
