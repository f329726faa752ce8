// File: evloop/suspension.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Goroutine-backed fibers and the suspension controller. A fiber only
// executes while the scheduler is parked waiting for it, so the loop
// stays single-threaded in effect even though each fiber owns a real
// goroutine stack.

package evloop

import (
	"go.uber.org/atomic"

	"github.com/momentics/hioload-evloop/api"
)

// wakeup carries a resumption into a parked fiber.
type wakeup struct {
	value any
	err   error
}

// Fiber is a stackful cooperative execution context. Control moves
// between a fiber and the scheduler only at suspension points: the
// fiber runs from a wake delivery until its next Suspend or until the
// fiber function returns, and whoever woke it blocks for that span.
type Fiber struct {
	wake   chan wakeup
	parked chan struct{}
	exited chan struct{}

	// active is true while the fiber function is executing between a
	// wake delivery and the next park. Suspend checks it to reject
	// calls from outside the fiber, including the scheduler fiber.
	active atomic.Bool
	done   atomic.Bool
}

// SpawnFiber starts fn on a new fiber and blocks until the fiber either
// suspends for the first time or returns. This preserves the
// cooperative contract: at most one of {caller, fiber} runs at a time.
// fn receives its own fiber handle so it can bind suspensions to it.
func SpawnFiber(fn func(f *Fiber)) *Fiber {
	f := &Fiber{
		wake:   make(chan wakeup),
		parked: make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	go func() {
		defer func() {
			f.active.Store(false)
			f.done.Store(true)
			close(f.exited)
		}()
		f.active.Store(true)
		fn(f)
	}()
	f.awaitParkOrExit()
	return f
}

// Alive reports whether the fiber function has not yet returned.
func (f *Fiber) Alive() bool { return !f.done.Load() }

// awaitParkOrExit blocks the calling context until the fiber parks in a
// Suspend or its function returns.
func (f *Fiber) awaitParkOrExit() {
	select {
	case <-f.parked:
	case <-f.exited:
	}
}

// deliver wakes the parked fiber with w and blocks until it parks again
// or exits. Runs on the scheduler fiber via the microtask queue.
func (f *Fiber) deliver(w wakeup) {
	select {
	case f.wake <- w:
		f.awaitParkOrExit()
	case <-f.exited:
	}
}

var _ api.Fiber = (*Fiber)(nil)

// suspension couples one fiber to the driver's microtask queue.
type suspension struct {
	d *Driver
	f *Fiber

	// pending is set between Resume/Throw and the wake delivery,
	// rejecting double resumption.
	pending atomic.Bool
}

// CreateSuspension binds a suspension controller to f. Passing a fiber
// not created by SpawnFiber yields a controller whose Suspend always
// fails.
func (d *Driver) CreateSuspension(f api.Fiber) api.Suspension {
	fiber, _ := f.(*Fiber)
	return &suspension{d: d, f: fiber}
}

// Suspend parks the fiber and hands control back to the scheduler.
func (s *suspension) Suspend() (any, error) {
	if s.f == nil || !s.f.active.Load() {
		return nil, api.NewError(api.ErrCodeLifecycle,
			"suspend outside the bound fiber: the scheduler fiber cannot suspend")
	}
	s.f.active.Store(false)
	select {
	case s.f.parked <- struct{}{}:
	default:
	}
	w := <-s.f.wake
	s.f.active.Store(true)
	s.pending.Store(false)
	return w.value, w.err
}

// Resume schedules the fiber to wake with value on a later microtask
// drain. Never synchronous with the caller.
func (s *suspension) Resume(value any) error {
	return s.schedule(wakeup{value: value})
}

// Throw schedules the fiber to wake with err raised from Suspend.
func (s *suspension) Throw(err error) error {
	return s.schedule(wakeup{err: err})
}

func (s *suspension) schedule(w wakeup) error {
	if s.f == nil || s.f.done.Load() {
		return api.NewError(api.ErrCodeLifecycle, "suspension fiber already completed")
	}
	if !s.pending.CAS(false, true) {
		return api.NewError(api.ErrCodeLifecycle, "suspension already pending resumption")
	}
	s.d.Queue(func() { s.f.deliver(w) })
	return nil
}
