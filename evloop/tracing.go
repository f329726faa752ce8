// File: evloop/tracing.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TracingDriver: a transparent decorator recording creation and
// cancellation provenance per callback id, answering "why is the loop
// still running?".

package evloop

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/momentics/hioload-evloop/api"
)

// traceInfo carries the provenance of one callback id.
type traceInfo struct {
	creation     string
	cancellation string
	enabled      bool
	referenced   bool
}

// TracingDriver decorates any Driver, capturing a stack snapshot for
// every registration and cancellation. Passthrough otherwise.
type TracingDriver struct {
	inner api.Driver

	// traces keeps entries for live ids only; cancelled holds the
	// post-mortem pair used to enrich invalid-callback errors.
	traces    map[string]*traceInfo
	cancelled map[string]*traceInfo
}

var _ api.Driver = (*TracingDriver)(nil)

// NewTracingDriver wraps inner with provenance tracking.
func NewTracingDriver(inner api.Driver) *TracingDriver {
	return &TracingDriver{
		inner:     inner,
		traces:    make(map[string]*traceInfo),
		cancelled: make(map[string]*traceInfo),
	}
}

func captureStack() string {
	buf := make([]byte, 16<<10)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func (t *TracingDriver) track(id string) string {
	t.traces[id] = &traceInfo{
		creation:   captureStack(),
		enabled:    true,
		referenced: true,
	}
	return id
}

// Run delegates to the wrapped driver.
func (t *TracingDriver) Run() error { return t.inner.Run() }

// Stop delegates to the wrapped driver.
func (t *TracingDriver) Stop() { t.inner.Stop() }

// IsRunning delegates to the wrapped driver.
func (t *TracingDriver) IsRunning() bool { return t.inner.IsRunning() }

// Defer registers deferred work and records its creation trace.
func (t *TracingDriver) Defer(cb api.Callback) string {
	id := t.inner.Defer(func(callbackID string) any {
		delete(t.traces, callbackID)
		return cb(callbackID)
	})
	return t.track(id)
}

// Delay registers a one-shot timer and records its creation trace.
func (t *TracingDriver) Delay(seconds float64, cb api.Callback) (string, error) {
	id, err := t.inner.Delay(seconds, func(callbackID string) any {
		delete(t.traces, callbackID)
		return cb(callbackID)
	})
	if err != nil {
		return "", err
	}
	return t.track(id), nil
}

// Repeat registers a periodic timer and records its creation trace.
func (t *TracingDriver) Repeat(interval float64, cb api.Callback) (string, error) {
	id, err := t.inner.Repeat(interval, cb)
	if err != nil {
		return "", err
	}
	return t.track(id), nil
}

// OnReadable registers a read watcher and records its creation trace.
func (t *TracingDriver) OnReadable(stream api.Stream, cb api.StreamCallback) (string, error) {
	id, err := t.inner.OnReadable(stream, cb)
	if err != nil {
		return "", err
	}
	return t.track(id), nil
}

// OnWritable registers a write watcher and records its creation trace.
func (t *TracingDriver) OnWritable(stream api.Stream, cb api.StreamCallback) (string, error) {
	id, err := t.inner.OnWritable(stream, cb)
	if err != nil {
		return "", err
	}
	return t.track(id), nil
}

// OnSignal registers a signal watcher and records its creation trace.
func (t *TracingDriver) OnSignal(sig os.Signal, cb api.SignalCallback) (string, error) {
	id, err := t.inner.OnSignal(sig, cb)
	if err != nil {
		return "", err
	}
	return t.track(id), nil
}

// Enable delegates, augmenting invalid-callback failures with traces.
func (t *TracingDriver) Enable(callbackID string) (string, error) {
	id, err := t.inner.Enable(callbackID)
	if err != nil {
		return "", t.augment(callbackID, err)
	}
	if info, ok := t.traces[callbackID]; ok {
		info.enabled = true
	}
	return id, nil
}

// Disable delegates, augmenting invalid-callback failures with traces.
func (t *TracingDriver) Disable(callbackID string) (string, error) {
	id, err := t.inner.Disable(callbackID)
	if err != nil {
		return "", t.augment(callbackID, err)
	}
	if info, ok := t.traces[callbackID]; ok {
		info.enabled = false
	}
	return id, nil
}

// Reference delegates, augmenting invalid-callback failures with traces.
func (t *TracingDriver) Reference(callbackID string) (string, error) {
	id, err := t.inner.Reference(callbackID)
	if err != nil {
		return "", t.augment(callbackID, err)
	}
	if info, ok := t.traces[callbackID]; ok {
		info.referenced = true
	}
	return id, nil
}

// Unreference delegates, augmenting invalid-callback failures with
// traces.
func (t *TracingDriver) Unreference(callbackID string) (string, error) {
	id, err := t.inner.Unreference(callbackID)
	if err != nil {
		return "", t.augment(callbackID, err)
	}
	if info, ok := t.traces[callbackID]; ok {
		info.referenced = false
	}
	return id, nil
}

// Cancel records the cancellation trace and delegates.
func (t *TracingDriver) Cancel(callbackID string) {
	if info, ok := t.traces[callbackID]; ok {
		info.cancellation = captureStack()
		t.cancelled[callbackID] = info
		delete(t.traces, callbackID)
	}
	t.inner.Cancel(callbackID)
}

// Queue delegates to the wrapped driver.
func (t *TracingDriver) Queue(fn func()) { t.inner.Queue(fn) }

// SetErrorHandler delegates to the wrapped driver.
func (t *TracingDriver) SetErrorHandler(h api.ErrorHandler) api.ErrorHandler {
	return t.inner.SetErrorHandler(h)
}

// Handle delegates to the wrapped driver.
func (t *TracingDriver) Handle() any { return t.inner.Handle() }

// CreateSuspension delegates to the wrapped driver.
func (t *TracingDriver) CreateSuspension(f api.Fiber) api.Suspension {
	return t.inner.CreateSuspension(f)
}

// augment attaches creation and cancellation traces to invalid-callback
// errors so diagnostics can chain provenance.
func (t *TracingDriver) augment(callbackID string, err error) error {
	var e *api.Error
	if !errors.As(err, &e) || e.Code != api.ErrCodeInvalidCallback {
		return err
	}
	if info, ok := t.cancelled[callbackID]; ok {
		e.WithContext("creation_trace", info.creation)
		e.WithContext("cancellation_trace", info.cancellation)
	} else if info, ok := t.traces[callbackID]; ok {
		e.WithContext("creation_trace", info.creation)
	}
	return e
}

// Dump lists every enabled, referenced callback id with its creation
// trace, one block per callback, blocks separated by a blank line.
func (t *TracingDriver) Dump() string {
	ids := make([]string, 0, len(t.traces))
	for id, info := range t.traces {
		if info.enabled && info.referenced {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	blocks := make([]string, 0, len(ids))
	for _, id := range ids {
		trace := strings.TrimRight(t.traces[id].creation, "\n")
		blocks = append(blocks, fmt.Sprintf("Callback identifier: %s\n%s", id, trace))
	}
	return strings.Join(blocks, "\n\n")
}
