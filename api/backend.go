// File: api/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pluggable backend contract: the OS-facing half of the loop.

package api

// Dispatcher is the driver-side invocation pipeline handed to a backend.
// Backends never call user code directly; every ready callback funnels
// through InvokeCallback so one-shot cancellation, repeat re-arm and
// error routing stay in one place.
type Dispatcher interface {
	// InvokeCallback runs the callback of rec with the payload implied
	// by its kind. A non-nil return aborts the running dispatch and
	// propagates out of Run.
	InvokeCallback(rec Record) error
}

// Backend multiplexes activated records over an OS readiness primitive.
// Implementations are single-threaded: every method is called from the
// scheduler fiber only.
type Backend interface {
	// Attach binds the driver's invocation pipeline. Called once,
	// before any other method.
	Attach(d Dispatcher)

	// Activate registers a batch of enabled records, in insertion
	// order.
	Activate(recs []Record) error

	// Deactivate removes a record from the backend. Removing a record
	// that was never activated is a no-op.
	Deactivate(rec Record)

	// Dispatch blocks on readiness when blocking is true, polls
	// otherwise, and invokes every ready callback through the attached
	// Dispatcher.
	Dispatch(blocking bool) error

	// Now returns the backend's monotonic clock in fractional seconds.
	Now() float64

	// Handle returns the backend-specific opaque handle, or nil.
	Handle() any

	// SupportsSignals reports whether OnSignal registrations can be
	// serviced.
	SupportsSignals() bool

	// Close releases every OS resource held by the backend.
	Close() error
}

// SignalArmer is implemented by backends whose signal registrations are
// a process-global resource. The driver arms on Run entry and disarms on
// exit; arming is serialized LIFO across loop instances.
type SignalArmer interface {
	ArmSignals()
	DisarmSignals()
}
