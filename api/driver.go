// File: api/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Public driver contract for the cooperative single-threaded event loop.

package api

import "os"

// Callback is invoked for deferred work and timers. Callbacks are
// side-effect only: any non-nil return value is surfaced to the error
// handler as an invalid-callback-return condition.
type Callback func(callbackID string) any

// StreamCallback is invoked when a watched stream becomes ready.
type StreamCallback func(callbackID string, stream Stream) any

// SignalCallback is invoked when a watched POSIX signal is delivered.
type SignalCallback func(callbackID string, sig os.Signal) any

// ErrorHandler receives every error escaping a user callback or produced
// by the driver itself. It runs on the scheduler fiber and must not
// panic; a panicking handler aborts Run.
type ErrorHandler func(err error)

// Driver is the reactor: it multiplexes deferred work, one-shot and
// periodic timers, stream readiness and POSIX signals onto a single
// thread, and drives cooperative fibers through suspensions.
//
// A Driver is not safe for concurrent use. It assumes exclusive
// ownership of its execution thread while Run is active; the only
// sanctioned cross-context interactions are suspension resumptions
// scheduled from fibers the loop itself woke.
type Driver interface {
	// Run enters the loop and returns when Stop is called or when no
	// enabled, referenced callback remains. Re-entry while running
	// fails with a lifecycle error.
	Run() error

	// Stop signals the loop to exit after the current iteration. Safe
	// to call from inside a callback.
	Stop()

	// IsRunning reports whether Run is currently active.
	IsRunning() bool

	// Defer schedules cb to run once in the next iteration.
	Defer(cb Callback) string

	// Delay schedules a one-shot timer after the given number of
	// seconds. The record is cancelled before cb is invoked.
	Delay(seconds float64, cb Callback) (string, error)

	// Repeat schedules a periodic timer. The interval must be greater
	// than zero; the next expiration is re-armed at now()+interval
	// after each invocation returns.
	Repeat(interval float64, cb Callback) (string, error)

	// OnReadable watches stream for level-triggered read readiness.
	OnReadable(stream Stream, cb StreamCallback) (string, error)

	// OnWritable watches stream for level-triggered write readiness.
	OnWritable(stream Stream, cb StreamCallback) (string, error)

	// OnSignal watches a POSIX signal. Fails with an unsupported
	// feature error on backends without signal capability.
	OnSignal(sig os.Signal, cb SignalCallback) (string, error)

	// Enable re-enables a disabled callback. Enabling an enabled id is
	// a no-op. Fails with an invalid callback error on unknown ids.
	Enable(callbackID string) (string, error)

	// Disable removes the callback from the backend without discarding
	// the record. Disabling a disabled id is a no-op. Fails with an
	// invalid callback error on unknown ids.
	Disable(callbackID string) (string, error)

	// Reference marks the callback as keeping the loop alive. Fails
	// with an invalid callback error on unknown ids.
	Reference(callbackID string) (string, error)

	// Unreference allows the loop to exit even while the callback stays
	// enabled. Fails with an invalid callback error on unknown ids.
	Unreference(callbackID string) (string, error)

	// Cancel discards the record entirely. The id is invalid forever
	// after. Unknown ids are a no-op.
	Cancel(callbackID string)

	// Queue enqueues fn as a microtask executed before the next
	// dispatch, in FIFO order. Microtasks are not cancellable.
	Queue(fn func())

	// SetErrorHandler installs the error handler and returns the
	// previously installed one, allowing chaining. A nil handler
	// uninstalls, making callback errors abort Run.
	SetErrorHandler(h ErrorHandler) ErrorHandler

	// Handle returns the backend-specific handle (for example the epoll
	// descriptor) or nil.
	Handle() any

	// CreateSuspension binds a suspension controller to the given
	// fiber.
	CreateSuspension(f Fiber) Suspension
}
