// Package requirement defines preconditions that must hold before a job
// attempt proceeds.
//
// A Requirement is evaluated synchronously on the attempt goroutine before
// every attempt, so implementations must be fast and side-effect-free: they
// read state that something else keeps current (a connectivity monitor, a
// key cache) and never perform I/O themselves.
package requirement

import "sync/atomic"

// Job is the view of a job a requirement may inspect.
type Job interface {
	Name() string
}

// Requirement reports whether a precondition currently holds for a job.
type Requirement interface {
	IsPresent(j Job) bool
}

// Func adapts a plain function to the Requirement interface.
type Func func(j Job) bool

// IsPresent calls f(j).
func (f Func) IsPresent(j Job) bool { return f(j) }

// Condition is a cached boolean state owned by some other component.
type Condition interface {
	Satisfied() bool
}

// Flag is a Condition backed by an atomic boolean. The zero value is unset.
// One Flag may be shared by requirements and runner constraints.
type Flag struct {
	v atomic.Bool
}

// NewFlag returns a Flag with the given initial state.
func NewFlag(initial bool) *Flag {
	f := &Flag{}
	f.v.Store(initial)
	return f
}

// Set updates the flag.
func (f *Flag) Set(v bool) { f.v.Store(v) }

// Satisfied implements Condition.
func (f *Flag) Satisfied() bool { return f.v.Load() }

// Always is a Condition that always holds.
var Always Condition = alwaysCondition{}

type alwaysCondition struct{}

func (alwaysCondition) Satisfied() bool { return true }

// conditionRequirement is a named Requirement over a Condition.
type conditionRequirement struct {
	name string
	cond Condition
}

func (r conditionRequirement) IsPresent(Job) bool { return r.cond != nil && r.cond.Satisfied() }

func (r conditionRequirement) String() string { return r.name }

// Network requires a connected network, as reported by c.
func Network(c Condition) Requirement {
	return conditionRequirement{name: "network", cond: c}
}

// MasterSecret requires the local master secret to be unlocked.
func MasterSecret(c Condition) Requirement {
	return conditionRequirement{name: "master-secret", cond: c}
}

// SQLCipher requires the encrypted database to be unlocked.
func SQLCipher(c Condition) Requirement {
	return conditionRequirement{name: "sqlcipher", cond: c}
}
