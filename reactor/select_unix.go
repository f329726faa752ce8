//go:build unix

// File: reactor/select_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable readiness backend over select(2). Descriptor capacity is
// bounded by FD_SETSIZE; registrations beyond it are rejected rather
// than silently corrupting the sets.

package reactor

import (
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evloop/api"
)

// SelectBackend multiplexes streams, timers and signals over select(2).
// It runs on every unix platform and exposes no native handle.
type SelectBackend struct {
	clock
	disp api.Dispatcher

	readers map[int]map[string]api.Record
	writers map[int]map[string]api.Record
	sigs    map[os.Signal]map[string]api.Record

	// fdOf memoizes the projected descriptor per stream record so
	// Deactivate never re-projects a handle the caller may have closed.
	fdOf map[string]int

	timers *TimerQueue
	relay  *signalRelay
	wp     *wakePipe
	closed bool
}

// NewSelectBackend creates a select(2) backend with its wake pipe and
// signal relay ready.
func NewSelectBackend() (*SelectBackend, error) {
	wp, err := newWakePipe()
	if err != nil {
		return nil, err
	}
	b := &SelectBackend{
		clock:   newClock(),
		readers: make(map[int]map[string]api.Record),
		writers: make(map[int]map[string]api.Record),
		sigs:    make(map[os.Signal]map[string]api.Record),
		fdOf:    make(map[string]int),
		timers:  NewTimerQueue(),
		wp:      wp,
	}
	b.relay = newSignalRelay(wp.wake)
	return b, nil
}

// Attach binds the driver-side invocation pipeline.
func (b *SelectBackend) Attach(d api.Dispatcher) { b.disp = d }

// Activate registers a batch of enabled records.
func (b *SelectBackend) Activate(recs []api.Record) error {
	for _, rec := range recs {
		switch rec.Kind() {
		case api.KindReadable:
			fd, err := b.registerFd(rec)
			if err != nil {
				return err
			}
			addStream(b.readers, fd, rec)
		case api.KindWritable:
			fd, err := b.registerFd(rec)
			if err != nil {
				return err
			}
			addStream(b.writers, fd, rec)
		case api.KindDelay, api.KindRepeat:
			b.timers.Insert(rec)
		case api.KindSignal:
			sig := rec.Signal()
			set, ok := b.sigs[sig]
			if !ok {
				set = make(map[string]api.Record)
				b.sigs[sig] = set
			}
			set[rec.ID()] = rec
			b.relay.add(sig)
		default:
			return api.NewError(api.ErrCodeBackend,
				fmt.Sprintf("record kind %s is not backend-managed", rec.Kind()))
		}
	}
	return nil
}

func (b *SelectBackend) registerFd(rec api.Record) (int, error) {
	fd, err := projectFd(rec.Stream())
	if err != nil {
		return -1, err
	}
	if fd < 0 || fd >= unix.FD_SETSIZE {
		return -1, api.NewError(api.ErrCodeBackend,
			fmt.Sprintf("descriptor %d exceeds select(2) capacity %d", fd, unix.FD_SETSIZE))
	}
	b.fdOf[rec.ID()] = fd
	return fd, nil
}

func addStream(m map[int]map[string]api.Record, fd int, rec api.Record) {
	set, ok := m[fd]
	if !ok {
		set = make(map[string]api.Record)
		m[fd] = set
	}
	set[rec.ID()] = rec
}

// Deactivate removes a record from the backend.
func (b *SelectBackend) Deactivate(rec api.Record) {
	switch rec.Kind() {
	case api.KindReadable:
		b.dropStream(b.readers, rec)
	case api.KindWritable:
		b.dropStream(b.writers, rec)
	case api.KindDelay, api.KindRepeat:
		b.timers.Remove(rec)
	case api.KindSignal:
		sig := rec.Signal()
		set, ok := b.sigs[sig]
		if !ok {
			return
		}
		if _, present := set[rec.ID()]; !present {
			return
		}
		delete(set, rec.ID())
		if len(set) == 0 {
			delete(b.sigs, sig)
		}
		b.relay.remove(sig)
	}
}

func (b *SelectBackend) dropStream(m map[int]map[string]api.Record, rec api.Record) {
	fd, ok := b.fdOf[rec.ID()]
	if !ok {
		return
	}
	delete(b.fdOf, rec.ID())
	set, ok := m[fd]
	if !ok {
		return
	}
	delete(set, rec.ID())
	if len(set) == 0 {
		delete(m, fd)
	}
}

// Dispatch performs one poll-and-invoke pass.
func (b *SelectBackend) Dispatch(blocking bool) error {
	var rset, wset unix.FdSet
	maxfd := b.wp.r
	rset.Set(b.wp.r)
	for fd := range b.readers {
		rset.Set(fd)
		if fd > maxfd {
			maxfd = fd
		}
	}
	for fd := range b.writers {
		wset.Set(fd)
		if fd > maxfd {
			maxfd = fd
		}
	}

	tv := b.timeout(blocking)
	n, err := unix.Select(maxfd+1, &rset, &wset, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			n = 0
		} else {
			return api.WrapError(api.ErrCodeBackend, "select(2) failed", err)
		}
	}

	if n > 0 && rset.IsSet(b.wp.r) {
		b.wp.drain()
	}

	if n > 0 {
		if err := b.invokeStreams(b.readers, &rset); err != nil {
			return err
		}
		if err := b.invokeStreams(b.writers, &wset); err != nil {
			return err
		}
	}
	if err := b.invokeTimers(); err != nil {
		return err
	}
	return b.invokeSignals()
}

// timeout derives the select timeout. Nil means block indefinitely;
// the wake pipe interrupts indefinite waits when signals arrive.
func (b *SelectBackend) timeout(blocking bool) *unix.Timeval {
	if !blocking {
		return &unix.Timeval{}
	}
	exp, ok := b.timers.Peek()
	if !ok {
		return nil
	}
	delta := exp - b.Now()
	if delta < 0 {
		delta = 0
	}
	tv := unix.NsecToTimeval(int64(delta * 1e9))
	return &tv
}

func (b *SelectBackend) invokeStreams(m map[int]map[string]api.Record, set *unix.FdSet) error {
	ready := make([]int, 0, len(m))
	for fd := range m {
		if set.IsSet(fd) {
			ready = append(ready, fd)
		}
	}
	sort.Ints(ready)
	for _, fd := range ready {
		ids := sortedIDs(m[fd])
		for _, id := range ids {
			// Re-check liveness: an earlier callback in this pass may
			// have cancelled or disabled this one.
			rec, present := m[fd][id]
			if !present || rec.Cancelled() || !rec.Enabled() {
				continue
			}
			if err := b.disp.InvokeCallback(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *SelectBackend) invokeTimers() error {
	now := b.Now()
	for {
		rec := b.timers.Extract(now)
		if rec == nil {
			return nil
		}
		if rec.Cancelled() || !rec.Enabled() {
			continue
		}
		if err := b.disp.InvokeCallback(rec); err != nil {
			return err
		}
		// The driver re-keyed the expiration during invocation; the
		// re-insert puts the interval timer back into rotation.
		if rec.Kind() == api.KindRepeat && !rec.Cancelled() && rec.Enabled() {
			b.timers.Insert(rec)
		}
	}
}

func (b *SelectBackend) invokeSignals() error {
	return b.relay.drain(func(sig os.Signal) error {
		set, ok := b.sigs[sig]
		if !ok {
			return nil
		}
		for _, id := range sortedIDs(set) {
			rec, present := set[id]
			if !present || rec.Cancelled() || !rec.Enabled() {
				continue
			}
			if err := b.disp.InvokeCallback(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Handle returns nil: select(2) has no shareable multiplexer object.
func (b *SelectBackend) Handle() any { return nil }

// SupportsSignals reports signal support, always available through the
// runtime relay.
func (b *SelectBackend) SupportsSignals() bool { return true }

// ArmSignals takes process-global signal ownership for this backend.
func (b *SelectBackend) ArmSignals() { b.relay.arm() }

// DisarmSignals releases signal ownership to the previously armed loop.
func (b *SelectBackend) DisarmSignals() { b.relay.disarm() }

// Close releases the wake pipe and stops the relay. Closing twice is a
// no-op.
func (b *SelectBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.relay.close()
	b.wp.close()
	return nil
}

// sortedIDs returns record identifiers in creation order. Identifiers
// are fixed-width, so lexicographic order is creation order.
func sortedIDs(set map[string]api.Record) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
