// File: fake/backend.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Deterministic in-memory backend for driver tests. Time is simulated:
// a blocking dispatch jumps the clock straight to the next expiration
// instead of sleeping, so timer semantics are testable without real
// waits. Stream readiness and signal delivery are injected by the test.

package fake

import (
	"os"
	"sort"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/reactor"
)

// Backend implements api.Backend over a simulated clock.
type Backend struct {
	disp api.Dispatcher
	now  float64

	readers map[string]api.Record
	writers map[string]api.Record
	sigs    map[string]api.Record

	timers *reactor.TimerQueue

	readyReads  map[api.Stream]bool
	readyWrites map[api.Stream]bool
	pendingSigs []os.Signal

	// Dispatches counts Dispatch calls, letting tests pin behavior to
	// iteration boundaries.
	Dispatches int

	// Armed tracks ArmSignals/DisarmSignals balance.
	Armed bool
}

var _ api.Backend = (*Backend)(nil)
var _ api.SignalArmer = (*Backend)(nil)

// NewBackend creates a fake backend with the clock at zero.
func NewBackend() *Backend {
	return &Backend{
		readers:     make(map[string]api.Record),
		writers:     make(map[string]api.Record),
		sigs:        make(map[string]api.Record),
		timers:      reactor.NewTimerQueue(),
		readyReads:  make(map[api.Stream]bool),
		readyWrites: make(map[api.Stream]bool),
	}
}

// Attach binds the driver-side invocation pipeline.
func (b *Backend) Attach(d api.Dispatcher) { b.disp = d }

// Activate registers a batch of enabled records.
func (b *Backend) Activate(recs []api.Record) error {
	for _, rec := range recs {
		switch rec.Kind() {
		case api.KindReadable:
			b.readers[rec.ID()] = rec
		case api.KindWritable:
			b.writers[rec.ID()] = rec
		case api.KindDelay, api.KindRepeat:
			b.timers.Insert(rec)
		case api.KindSignal:
			b.sigs[rec.ID()] = rec
		}
	}
	return nil
}

// Deactivate removes a record.
func (b *Backend) Deactivate(rec api.Record) {
	switch rec.Kind() {
	case api.KindReadable:
		delete(b.readers, rec.ID())
	case api.KindWritable:
		delete(b.writers, rec.ID())
	case api.KindDelay, api.KindRepeat:
		b.timers.Remove(rec)
	case api.KindSignal:
		delete(b.sigs, rec.ID())
	}
}

// SetReadable marks a stream as read-ready for the next dispatch.
func (b *Backend) SetReadable(stream api.Stream) { b.readyReads[stream] = true }

// SetWritable marks a stream as write-ready for the next dispatch.
func (b *Backend) SetWritable(stream api.Stream) { b.readyWrites[stream] = true }

// Deliver queues a signal for the next dispatch.
func (b *Backend) Deliver(sig os.Signal) { b.pendingSigs = append(b.pendingSigs, sig) }

// Advance moves the simulated clock forward.
func (b *Backend) Advance(seconds float64) { b.now += seconds }

// Dispatch performs one simulated poll-and-invoke pass. A blocking pass
// with no injected readiness jumps the clock to the earliest timer.
func (b *Backend) Dispatch(blocking bool) error {
	b.Dispatches++

	if blocking && len(b.readyReads) == 0 && len(b.readyWrites) == 0 && len(b.pendingSigs) == 0 {
		if exp, ok := b.timers.Peek(); ok && exp > b.now {
			b.now = exp
		}
	}

	if err := b.invokeReady(b.readers, b.readyReads); err != nil {
		return err
	}
	if err := b.invokeReady(b.writers, b.readyWrites); err != nil {
		return err
	}

	for {
		rec := b.timers.Extract(b.now)
		if rec == nil {
			break
		}
		if rec.Cancelled() || !rec.Enabled() {
			continue
		}
		if err := b.disp.InvokeCallback(rec); err != nil {
			return err
		}
		if rec.Kind() == api.KindRepeat && !rec.Cancelled() && rec.Enabled() {
			b.timers.Insert(rec)
		}
	}

	pending := b.pendingSigs
	b.pendingSigs = nil
	for _, sig := range pending {
		for _, id := range sortedIDs(b.sigs) {
			rec, present := b.sigs[id]
			if !present || rec.Signal() != sig || rec.Cancelled() || !rec.Enabled() {
				continue
			}
			if err := b.disp.InvokeCallback(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) invokeReady(recs map[string]api.Record, ready map[api.Stream]bool) error {
	if len(ready) == 0 {
		return nil
	}
	for _, id := range sortedIDs(recs) {
		rec, present := recs[id]
		if !present || rec.Cancelled() || !rec.Enabled() || !ready[rec.Stream()] {
			continue
		}
		if err := b.disp.InvokeCallback(rec); err != nil {
			return err
		}
	}
	for stream := range ready {
		delete(ready, stream)
	}
	return nil
}

// Now returns the simulated clock.
func (b *Backend) Now() float64 { return b.now }

// Handle returns the backend itself so tests can assert passthrough.
func (b *Backend) Handle() any { return b }

// SupportsSignals always reports true.
func (b *Backend) SupportsSignals() bool { return true }

// ArmSignals records arming for assertion.
func (b *Backend) ArmSignals() { b.Armed = true }

// DisarmSignals records disarming for assertion.
func (b *Backend) DisarmSignals() { b.Armed = false }

// Close is a no-op.
func (b *Backend) Close() error { return nil }

func sortedIDs(set map[string]api.Record) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
