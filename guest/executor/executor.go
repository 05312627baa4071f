// Package executor runs a single long-lived routine one step at a time.
//
// The routine suspends itself by calling halt; the next call to Run resumes
// it right after that point with its locals intact. There is no preemption:
// a step lasts until the routine halts or returns.
package executor

import "iter"

// State is the lifecycle state of an Executor.
type State uint8

const (
	// Suspended is the state before the first step and between steps.
	Suspended State = iota
	// Running is the state while Run executes the routine.
	Running
	// Done is the state once the routine has returned or was stopped.
	Done
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "invalid"
	}
}

// stopped unwinds a suspended routine when its executor is stopped.
type stopped struct{}

// Executor steps one routine.
type Executor struct {
	next  func() (struct{}, bool)
	stop  func()
	state State
}

// New returns an Executor for routine. The routine does not start until
// the first Run.
func New(routine func(halt func())) *Executor {
	seq := func(yield func(struct{}) bool) {
		defer func() {
			if r := recover(); r != nil {
				if _, ok := r.(stopped); !ok {
					panic(r)
				}
			}
		}()
		routine(func() {
			if !yield(struct{}{}) {
				panic(stopped{})
			}
		})
	}
	next, stop := iter.Pull(seq)
	return &Executor{next: next, stop: stop}
}

// Run advances the routine to its next halt, or to its end. It reports
// whether the routine can be run again, and is a no-op once Done.
func (e *Executor) Run() bool {
	switch e.state {
	case Done:
		return false
	case Running:
		panic("executor: Run called from its own routine")
	}

	e.state = Running
	_, alive := e.next()
	if alive {
		e.state = Suspended
	} else {
		e.state = Done
	}
	return alive
}

// Stop unwinds a suspended routine, running its deferred calls, and marks
// the executor Done.
func (e *Executor) Stop() {
	if e.state == Running {
		panic("executor: Stop called from its own routine")
	}
	e.stop()
	e.state = Done
}

// State returns the current state.
func (e *Executor) State() State {
	return e.state
}
