package work

import (
	"sync"
)

// Constraint is a condition that must hold before a job may run.
type Constraint string

// Constraint constants.
const (
	RequiresCharging         Constraint = "requires-charging"
	RequiresBatteryNotLow    Constraint = "requires-battery-not-low"
	RequiresDeviceIdle       Constraint = "requires-device-idle"
	RequiresStorageNotLow    Constraint = "requires-storage-not-low"
	RequiresNetwork          Constraint = "requires-network"
	RequiresUnmeteredNetwork Constraint = "requires-unmetered-network"
)

// Evaluator evaluates constraints against the live environment.
type Evaluator interface {
	// Satisfied reports whether the constraint currently holds.
	Satisfied(c Constraint) bool

	// Watch returns a channel that is closed on the next change
	// in the environment.
	Watch() <-chan struct{}
}

// Always is an evaluator where every constraint holds.
var Always Evaluator = always{}

type always struct{}

func (always) Satisfied(Constraint) bool { return true }

func (always) Watch() <-chan struct{} { return nil }

// Environment is a settable Evaluator. Unknown constraints are unmet.
type Environment struct {
	mu      sync.Mutex
	state   map[Constraint]bool
	watchCh chan struct{}
}

// NewEnvironment returns an environment with the given constraints holding.
func NewEnvironment(holding ...Constraint) *Environment {
	env := &Environment{
		state:   make(map[Constraint]bool, len(holding)),
		watchCh: make(chan struct{}),
	}
	for _, c := range holding {
		env.state[c] = true
	}
	return env
}

// Satisfied reports whether the constraint currently holds.
func (e *Environment) Satisfied(c Constraint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state[c]
}

// Set sets the state of the constraint, notifying watchers if it changed.
func (e *Environment) Set(c Constraint, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state[c] == ok {
		return
	}
	e.state[c] = ok

	close(e.watchCh)
	e.watchCh = make(chan struct{})
}

// Watch returns a channel that is closed on the next change.
func (e *Environment) Watch() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.watchCh
}

func satisfied(eval Evaluator, cs []Constraint) bool {
	for _, c := range cs {
		if !eval.Satisfied(c) {
			return false
		}
	}
	return true
}
