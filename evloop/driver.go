// File: evloop/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend-neutral reactor driver: record ownership, activation and
// microtask pipelines, the scheduling loop and the invocation pipeline.

package evloop

import (
	"errors"
	"fmt"
	"os"

	"github.com/eapache/queue"
	"go.uber.org/atomic"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/internal/ids"
)

// Driver is the concrete reactor. Zero value is not usable; construct
// with New.
type Driver struct {
	backend api.Backend

	// records maps live ids only. Cancelled ids are evicted and never
	// looked up successfully again.
	records map[string]*record

	// pendingActivation holds records awaiting the next activation
	// pass, in insertion order. Entries whose pending flag was cleared
	// in the meantime are skipped at the pass.
	pendingActivation *queue.Queue

	// deferredQueue holds deferred records promoted by the activation
	// pass, invoked once per iteration before dispatch.
	deferredQueue *queue.Queue

	// microtasks run FIFO, drained to empty before every dispatch.
	microtasks *queue.Queue

	errorHandler api.ErrorHandler

	running atomic.Bool
	stopped atomic.Bool

	// aliveCount tracks records that are enabled, referenced and not
	// cancelled. Run returns when it reaches zero.
	aliveCount int
}

var _ api.Driver = (*Driver)(nil)
var _ api.Dispatcher = (*Driver)(nil)

// Option configures a Driver at construction.
type Option func(*Driver)

// WithBackend selects the multiplexing backend. There is no default:
// New fails when no backend is given.
func WithBackend(b api.Backend) Option {
	return func(d *Driver) { d.backend = b }
}

// New constructs a driver. A backend is mandatory; the facade package
// wires the best platform backend for the common path.
func New(opts ...Option) (*Driver, error) {
	d := &Driver{
		records:           make(map[string]*record),
		pendingActivation: queue.New(),
		deferredQueue:     queue.New(),
		microtasks:        queue.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.backend == nil {
		return nil, api.NewError(api.ErrCodeLifecycle, "driver requires a backend")
	}
	d.backend.Attach(d)
	return d, nil
}

// fatalError marks an error that already traversed the error handler
// path and must abort Run as-is.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Run enters the scheduling loop.
func (d *Driver) Run() error {
	if !d.running.CAS(false, true) {
		return api.NewError(api.ErrCodeLifecycle, "event loop already running")
	}
	defer d.running.Store(false)
	d.stopped.Store(false)

	if armer, ok := d.backend.(api.SignalArmer); ok {
		armer.ArmSignals()
		defer armer.DisarmSignals()
	}

	for {
		// Drain before the exit check: a resumption queued by the last
		// firing callback must still wake its fiber.
		if err := d.drainMicrotasks(); err != nil {
			return err
		}
		if d.stopped.Load() || d.aliveCount == 0 {
			return nil
		}
		if err := d.activatePending(); err != nil {
			return err
		}
		if err := d.invokeDeferred(); err != nil {
			return err
		}
		blocking := d.aliveCount > 0 &&
			d.microtasks.Length() == 0 &&
			d.pendingActivation.Length() == 0 &&
			!d.stopped.Load()
		if err := d.backend.Dispatch(blocking); err != nil {
			var fatal *fatalError
			if errors.As(err, &fatal) {
				return fatal.err
			}
			if routed := d.routeError(err); routed != nil {
				return d.unwrapFatal(routed)
			}
		}
	}
}

// Stop signals the loop to exit after the current iteration.
func (d *Driver) Stop() { d.stopped.Store(true) }

// IsRunning reports whether Run is active.
func (d *Driver) IsRunning() bool { return d.running.Load() }

// Defer schedules cb to run once in the next iteration.
func (d *Driver) Defer(cb api.Callback) string {
	r := &record{
		id:         ids.Next(),
		kind:       api.KindDefer,
		callable:   cb,
		enabled:    true,
		referenced: true,
	}
	return d.register(r)
}

// Delay schedules a one-shot timer.
func (d *Driver) Delay(seconds float64, cb api.Callback) (string, error) {
	if seconds < 0 {
		return "", api.NewError(api.ErrCodeInvalidCallback,
			fmt.Sprintf("delay interval must not be negative, got %v", seconds))
	}
	r := &record{
		id:         ids.Next(),
		kind:       api.KindDelay,
		callable:   cb,
		enabled:    true,
		referenced: true,
		interval:   seconds,
		expiration: d.backend.Now() + seconds,
	}
	return d.register(r), nil
}

// Repeat schedules a periodic timer. Zero and negative intervals are
// rejected; per-iteration cadence is expressed with Defer instead.
func (d *Driver) Repeat(interval float64, cb api.Callback) (string, error) {
	if interval <= 0 {
		return "", api.NewError(api.ErrCodeInvalidCallback,
			fmt.Sprintf("repeat interval must be greater than zero, got %v", interval))
	}
	r := &record{
		id:         ids.Next(),
		kind:       api.KindRepeat,
		callable:   cb,
		enabled:    true,
		referenced: true,
		interval:   interval,
		expiration: d.backend.Now() + interval,
	}
	return d.register(r), nil
}

// OnReadable watches stream for read readiness.
func (d *Driver) OnReadable(stream api.Stream, cb api.StreamCallback) (string, error) {
	return d.watchStream(api.KindReadable, stream, cb)
}

// OnWritable watches stream for write readiness.
func (d *Driver) OnWritable(stream api.Stream, cb api.StreamCallback) (string, error) {
	return d.watchStream(api.KindWritable, stream, cb)
}

func (d *Driver) watchStream(kind api.CallbackKind, stream api.Stream, cb api.StreamCallback) (string, error) {
	if stream == nil {
		return "", api.NewError(api.ErrCodeInvalidCallback, "stream handle must not be nil")
	}
	r := &record{
		id:         ids.Next(),
		kind:       kind,
		callable:   cb,
		enabled:    true,
		referenced: true,
		stream:     stream,
	}
	return d.register(r), nil
}

// OnSignal watches a POSIX signal.
func (d *Driver) OnSignal(sig os.Signal, cb api.SignalCallback) (string, error) {
	if !d.backend.SupportsSignals() {
		return "", api.UnsupportedFeatureError("signal dispatch")
	}
	r := &record{
		id:         ids.Next(),
		kind:       api.KindSignal,
		callable:   cb,
		enabled:    true,
		referenced: true,
		sig:        sig,
	}
	return d.register(r), nil
}

func (d *Driver) register(r *record) string {
	d.records[r.id] = r
	r.pending = true
	d.pendingActivation.Add(r)
	d.aliveCount++
	return r.id
}

// Enable re-enables a disabled callback.
func (d *Driver) Enable(callbackID string) (string, error) {
	r, ok := d.records[callbackID]
	if !ok {
		return "", api.InvalidCallbackError(callbackID)
	}
	if r.enabled {
		return callbackID, nil
	}
	before := r.keepsAlive()
	r.enabled = true
	d.adjustAlive(before, r)
	switch r.kind {
	case api.KindDelay, api.KindRepeat:
		r.expiration = d.backend.Now() + r.interval
	}
	if !r.pending {
		r.pending = true
		d.pendingActivation.Add(r)
	}
	return callbackID, nil
}

// Disable removes the callback from the backend, keeping the record.
func (d *Driver) Disable(callbackID string) (string, error) {
	r, ok := d.records[callbackID]
	if !ok {
		return "", api.InvalidCallbackError(callbackID)
	}
	if !r.enabled {
		return callbackID, nil
	}
	before := r.keepsAlive()
	r.enabled = false
	d.adjustAlive(before, r)
	if r.pending {
		// Still queued for activation; the pass will skip it.
		r.pending = false
	} else {
		d.backend.Deactivate(r)
	}
	return callbackID, nil
}

// Reference marks the callback as keeping the loop alive.
func (d *Driver) Reference(callbackID string) (string, error) {
	r, ok := d.records[callbackID]
	if !ok {
		return "", api.InvalidCallbackError(callbackID)
	}
	if !r.referenced {
		before := r.keepsAlive()
		r.referenced = true
		d.adjustAlive(before, r)
	}
	return callbackID, nil
}

// Unreference lets the loop exit while the callback stays enabled.
func (d *Driver) Unreference(callbackID string) (string, error) {
	r, ok := d.records[callbackID]
	if !ok {
		return "", api.InvalidCallbackError(callbackID)
	}
	if r.referenced {
		before := r.keepsAlive()
		r.referenced = false
		d.adjustAlive(before, r)
	}
	return callbackID, nil
}

// Cancel discards the record entirely. Unknown ids are a no-op.
func (d *Driver) Cancel(callbackID string) {
	r, ok := d.records[callbackID]
	if !ok {
		return
	}
	d.cancelRecord(r)
}

func (d *Driver) cancelRecord(r *record) {
	if r.cancelled {
		return
	}
	before := r.keepsAlive()
	r.cancelled = true
	d.adjustAlive(before, r)
	delete(d.records, r.id)
	if r.pending {
		r.pending = false
	} else if r.kind != api.KindDefer {
		d.backend.Deactivate(r)
	}
}

// Queue enqueues a microtask, FIFO, not cancellable.
func (d *Driver) Queue(fn func()) {
	d.microtasks.Add(fn)
}

// SetErrorHandler installs h and returns the previous handler.
func (d *Driver) SetErrorHandler(h api.ErrorHandler) api.ErrorHandler {
	prev := d.errorHandler
	d.errorHandler = h
	return prev
}

// Handle returns the backend-specific handle.
func (d *Driver) Handle() any { return d.backend.Handle() }

func (d *Driver) adjustAlive(before bool, r *record) {
	after := r.keepsAlive()
	if before == after {
		return
	}
	if after {
		d.aliveCount++
	} else {
		d.aliveCount--
	}
}

// drainMicrotasks runs queued microtasks FIFO until the queue is empty,
// including tasks enqueued while draining.
func (d *Driver) drainMicrotasks() error {
	for d.microtasks.Length() > 0 {
		fn := d.microtasks.Remove().(func())
		if err := d.callMicrotask(fn); err != nil {
			if routed := d.routeError(err); routed != nil {
				return d.unwrapFatal(routed)
			}
		}
	}
	return nil
}

func (d *Driver) callMicrotask(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p).WithContext("origin", "microtask")
		}
	}()
	fn()
	return nil
}

// activatePending promotes the pending-activation set: deferred records
// move to the deferred invocation queue, the rest are handed to the
// backend as one batch in insertion order.
func (d *Driver) activatePending() error {
	var batch []api.Record
	for d.pendingActivation.Length() > 0 {
		r := d.pendingActivation.Remove().(*record)
		if !r.pending {
			continue
		}
		r.pending = false
		if r.cancelled || !r.enabled {
			continue
		}
		if r.kind == api.KindDefer {
			d.deferredQueue.Add(r)
			continue
		}
		batch = append(batch, r)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := d.backend.Activate(batch); err != nil {
		if routed := d.routeError(err); routed != nil {
			return d.unwrapFatal(routed)
		}
	}
	return nil
}

// invokeDeferred runs the deferred records promoted by the last
// activation pass. Deferred work registered while draining lands in the
// pending set and fires no earlier than the next iteration.
func (d *Driver) invokeDeferred() error {
	for n := d.deferredQueue.Length(); n > 0; n-- {
		r := d.deferredQueue.Remove().(*record)
		if r.cancelled || !r.enabled || r.pending {
			continue
		}
		if err := d.InvokeCallback(r); err != nil {
			return d.unwrapFatal(err)
		}
	}
	return nil
}

// InvokeCallback implements api.Dispatcher. One-shot records are
// cancelled before the user callable runs; repeating timers are
// re-armed at now()+interval after it returns. Returns a non-nil error
// only when the loop must abort.
func (d *Driver) InvokeCallback(arec api.Record) error {
	r, ok := arec.(*record)
	if !ok || r.cancelled {
		return nil
	}

	switch r.kind {
	case api.KindDefer, api.KindDelay:
		d.cancelRecord(r)
	}

	ret, err := d.callUser(r)
	if err != nil {
		return d.routeError(err)
	}
	if ret != nil {
		err := api.NewError(api.ErrCodeInvalidCallback,
			fmt.Sprintf("callback %s of kind %s returned a non-nil value of type %T; callbacks must be side-effect only",
				r.id, r.kind, ret)).
			WithContext("callback_id", r.id)
		if routed := d.routeError(err); routed != nil {
			return routed
		}
	}

	if r.kind == api.KindRepeat && !r.cancelled && r.enabled {
		r.expiration = d.backend.Now() + r.interval
	}
	return nil
}

func (d *Driver) callUser(r *record) (ret any, err error) {
	defer func() {
		if p := recover(); p != nil {
			ret = nil
			err = panicError(p).WithContext("callback_id", r.id)
		}
	}()
	switch cb := r.callable.(type) {
	case api.Callback:
		return cb(r.id), nil
	case api.StreamCallback:
		return cb(r.id, r.stream), nil
	case api.SignalCallback:
		return cb(r.id, r.sig), nil
	}
	return nil, api.NewError(api.ErrCodeInvalidCallback,
		fmt.Sprintf("callback %s has unknown callable shape %T", r.id, r.callable))
}

// routeError feeds err to the installed error handler. Returns nil when
// handled; otherwise a fatalError the loop must abort with.
func (d *Driver) routeError(err error) error {
	h := d.errorHandler
	if h == nil {
		return &fatalError{err: err}
	}
	var handlerErr error
	func() {
		defer func() {
			if p := recover(); p != nil {
				handlerErr = panicError(p).WithContext("origin", "error handler")
			}
		}()
		h(err)
	}()
	if handlerErr != nil {
		return &fatalError{err: handlerErr}
	}
	return nil
}

func (d *Driver) unwrapFatal(err error) error {
	var fatal *fatalError
	if errors.As(err, &fatal) {
		return fatal.err
	}
	return err
}

func panicError(p any) *api.Error {
	if err, ok := p.(error); ok {
		return api.WrapError(api.ErrCodeUserCallback, "panic escaped callback", err)
	}
	return api.NewError(api.ErrCodeUserCallback, fmt.Sprintf("panic escaped callback: %v", p))
}
