package workflow

import (
	"fmt"
	"sort"
)

// Lifecycle is a transition table from (state, trigger) to the next state.
// It is built once at package init and never modified afterwards.
type Lifecycle struct {
	name        string
	transitions map[State]map[Trigger]State
}

func newLifecycle(name string) *Lifecycle {
	return &Lifecycle{name: name, transitions: map[State]map[Trigger]State{}}
}

// permit registers from --trigger--> to. Invalid states panic since the
// tables are static.
func (l *Lifecycle) permit(from State, to State, triggers ...Trigger) *Lifecycle {
	if !from.IsValid() || !to.IsValid() {
		panic(fmt.Sprintf("%s: invalid transition %s -> %s", l.name, from, to))
	}
	row, ok := l.transitions[from]
	if !ok {
		row = map[Trigger]State{}
		l.transitions[from] = row
	}
	for _, t := range triggers {
		row[t] = to
	}
	return l
}

// Name identifies the lifecycle in errors
func (l *Lifecycle) Name() string {
	return l.name
}

// Next returns the state reached by firing trigger from state from
func (l *Lifecycle) Next(from State, trigger Trigger) (State, error) {
	if !from.IsValid() {
		return from, fmt.Errorf("%s: %w: %s", l.name, ErrInvalidState, from)
	}
	to, ok := l.transitions[from][trigger]
	if !ok {
		return from, &TransitionError{Lifecycle: l.name, From: from, Trigger: trigger}
	}
	return to, nil
}

// CanFire reports whether trigger is permitted from state from
func (l *Lifecycle) CanFire(from State, trigger Trigger) bool {
	_, ok := l.transitions[from][trigger]
	return ok
}

// Permitted returns the triggers allowed from state from, sorted
func (l *Lifecycle) Permitted(from State) []Trigger {
	row := l.transitions[from]
	triggers := make([]Trigger, 0, len(row))
	for t := range row {
		triggers = append(triggers, t)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

// Machine tracks one entity's current state within a lifecycle
type Machine struct {
	lifecycle *Lifecycle
	state     State
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// CanFire returns true if the trigger is permitted in the current state
func (m *Machine) CanFire(trigger Trigger) bool {
	return m.lifecycle.CanFire(m.state, trigger)
}

// Fire moves to the next state, or returns an error and stays put
func (m *Machine) Fire(trigger Trigger) error {
	next, err := m.lifecycle.Next(m.state, trigger)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}

// PermittedTriggers returns all triggers that can be fired in the current state
func (m *Machine) PermittedTriggers() []Trigger {
	return m.lifecycle.Permitted(m.state)
}
