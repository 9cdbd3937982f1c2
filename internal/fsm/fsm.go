// Package fsm runs data-driven per-player state machines for interactive
// objects. A Definition names states and the function backing each one; an
// Executor advances one player at a time by resolving those functions
// through a Provider and following the state names they return.
package fsm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Reserved next-state values a Func may return.
const (
	// StateExit ends the walk and keeps the player's current state.
	StateExit = "@exit"
	// StateError sends the player to the walk's fallback state and ends the
	// walk.
	StateError = "@error"
)

// ExitFunc is the name of the built-in function that ends a walk.
const ExitFunc = "exit"

// Info describes the executor and position of the walk calling a Func.
type Info struct {
	Executor string `json:"executor"`
	State    string `json:"state"`
	Step     int    `json:"step"`
}

// Func backs one state. It returns the next state name, StateExit or
// StateError.
type Func func(ctx context.Context, playerID string, params map[string]any, info Info) (string, error)

// State is one entry of a Definition.
type State struct {
	Func   string
	Params map[string]any
}

// Definition is a static machine description.
type Definition struct {
	Name         string
	InitialState string
	States       map[string]State
}

// Validate checks that the initial state exists and every state names a
// function.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.InitialState) == "" {
		return fmt.Errorf("fsm %s: initial state is required", d.Name)
	}
	if _, ok := d.States[d.InitialState]; !ok {
		return fmt.Errorf("fsm %s: initial state %q is not defined", d.Name, d.InitialState)
	}
	for _, name := range d.StateNames() {
		if name == StateExit || name == StateError {
			return fmt.Errorf("fsm %s: state name %q is reserved", d.Name, name)
		}
		if strings.TrimSpace(d.States[name].Func) == "" {
			return fmt.Errorf("fsm %s: state %q has no func", d.Name, name)
		}
	}
	return nil
}

// StateNames lists the defined states in order.
func (d Definition) StateNames() []string {
	names := make([]string, 0, len(d.States))
	for name := range d.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasState reports whether name is a defined state.
func (d Definition) HasState(name string) bool {
	_, ok := d.States[name]
	return ok
}
