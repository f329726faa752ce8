//go:build linux

// File: reactor/native_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Native Linux backend over epoll, level-triggered. The epoll
// descriptor is exposed through Handle so embedders can integrate the
// loop into an outer poller.

package reactor

import (
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evloop/api"
)

const epollBatch = 64

// streamSet tracks every registration interested in one descriptor. The
// epoll interest mask is the union of both maps.
type streamSet struct {
	readers map[string]api.Record
	writers map[string]api.Record
}

func (s *streamSet) mask() uint32 {
	var ev uint32
	if len(s.readers) > 0 {
		ev |= unix.EPOLLIN
	}
	if len(s.writers) > 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// NativeBackend multiplexes streams over epoll and shares the timer and
// signal machinery with the portable backend.
type NativeBackend struct {
	clock
	disp api.Dispatcher

	epfd    int
	streams map[int]*streamSet
	sigs    map[os.Signal]map[string]api.Record
	fdOf    map[string]int

	timers *TimerQueue
	relay  *signalRelay
	wp     *wakePipe
	events []unix.EpollEvent
	closed bool
}

// NewNativeBackend creates an epoll backend. The wake pipe's read end
// is pre-registered so external wakeups interrupt epoll_wait.
func NewNativeBackend() (*NativeBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeBackend, "epoll_create1 failed", err)
	}
	wp, err := newWakePipe()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wp.r)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wp.r, &ev); err != nil {
		wp.close()
		unix.Close(epfd)
		return nil, api.WrapError(api.ErrCodeBackend, "wake pipe epoll registration failed", err)
	}
	b := &NativeBackend{
		clock:   newClock(),
		epfd:    epfd,
		streams: make(map[int]*streamSet),
		sigs:    make(map[os.Signal]map[string]api.Record),
		fdOf:    make(map[string]int),
		timers:  NewTimerQueue(),
		wp:      wp,
		events:  make([]unix.EpollEvent, epollBatch),
	}
	b.relay = newSignalRelay(wp.wake)
	return b, nil
}

// Attach binds the driver-side invocation pipeline.
func (b *NativeBackend) Attach(d api.Dispatcher) { b.disp = d }

// Activate registers a batch of enabled records.
func (b *NativeBackend) Activate(recs []api.Record) error {
	for _, rec := range recs {
		switch rec.Kind() {
		case api.KindReadable, api.KindWritable:
			if err := b.addStream(rec); err != nil {
				return err
			}
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

func (b *NativeBackend) addStream(rec api.Record) error {
	fd, err := projectFd(rec.Stream())
	if err != nil {
		return err
	}
	set, known := b.streams[fd]
	if !known {
		set = &streamSet{
			readers: make(map[string]api.Record),
			writers: make(map[string]api.Record),
		}
	}
	if rec.Kind() == api.KindReadable {
		set.readers[rec.ID()] = rec
	} else {
		set.writers[rec.ID()] = rec
	}
	op := unix.EPOLL_CTL_MOD
	if !known {
		op = unix.EPOLL_CTL_ADD
	}
	ev := unix.EpollEvent{Events: set.mask(), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, op, fd, &ev); err != nil {
		return api.WrapError(api.ErrCodeBackend,
			fmt.Sprintf("epoll_ctl on descriptor %d failed", fd), err)
	}
	if !known {
		b.streams[fd] = set
	}
	b.fdOf[rec.ID()] = fd
	return nil
}

// Deactivate removes a record from the backend.
func (b *NativeBackend) Deactivate(rec api.Record) {
	switch rec.Kind() {
	case api.KindReadable, api.KindWritable:
		b.dropStream(rec)
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

func (b *NativeBackend) dropStream(rec api.Record) {
	fd, ok := b.fdOf[rec.ID()]
	if !ok {
		return
	}
	delete(b.fdOf, rec.ID())
	set, ok := b.streams[fd]
	if !ok {
		return
	}
	delete(set.readers, rec.ID())
	delete(set.writers, rec.ID())
	if mask := set.mask(); mask != 0 {
		ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
		unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		return
	}
	delete(b.streams, fd)
	// EPOLL_CTL_DEL fails with EBADF when the caller already closed the
	// stream; the kernel dropped the registration with the descriptor.
	unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Dispatch performs one poll-and-invoke pass.
func (b *NativeBackend) Dispatch(blocking bool) error {
	timeout := b.timeoutMillis(blocking)
	n, err := unix.EpollWait(b.epfd, b.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			n = 0
		} else {
			return api.WrapError(api.ErrCodeBackend, "epoll_wait failed", err)
		}
	}

	for i := 0; i < n; i++ {
		ev := b.events[i]
		fd := int(ev.Fd)
		if fd == b.wp.r {
			b.wp.drain()
			continue
		}
		set, ok := b.streams[fd]
		if !ok {
			continue
		}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			if err := b.invokeSet(set.readers); err != nil {
				return err
			}
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			if err := b.invokeSet(set.writers); err != nil {
				return err
			}
		}
	}

	if err := b.invokeTimers(); err != nil {
		return err
	}
	return b.invokeSignals()
}

// timeoutMillis derives the epoll timeout. -1 blocks indefinitely; the
// wake pipe interrupts indefinite waits when signals arrive.
func (b *NativeBackend) timeoutMillis(blocking bool) int {
	if !blocking {
		return 0
	}
	exp, ok := b.timers.Peek()
	if !ok {
		return -1
	}
	delta := exp - b.Now()
	if delta <= 0 {
		return 0
	}
	ms := int(math.Ceil(delta * 1000))
	if ms < 1 {
		ms = 1
	}
	return ms
}

func (b *NativeBackend) invokeSet(set map[string]api.Record) error {
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
}

func (b *NativeBackend) invokeTimers() error {
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
		if rec.Kind() == api.KindRepeat && !rec.Cancelled() && rec.Enabled() {
			b.timers.Insert(rec)
		}
	}
}

func (b *NativeBackend) invokeSignals() error {
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

// Handle exposes the epoll descriptor for embedding into an outer
// poller.
func (b *NativeBackend) Handle() any { return b.epfd }

// SupportsSignals reports signal support, always available through the
// runtime relay.
func (b *NativeBackend) SupportsSignals() bool { return true }

// ArmSignals takes process-global signal ownership for this backend.
func (b *NativeBackend) ArmSignals() { b.relay.arm() }

// DisarmSignals releases signal ownership to the previously armed loop.
func (b *NativeBackend) DisarmSignals() { b.relay.disarm() }

// Close releases the epoll descriptor, the wake pipe and the relay.
// Closing twice is a no-op.
func (b *NativeBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.relay.close()
	b.wp.close()
	if err := unix.Close(b.epfd); err != nil {
		return api.WrapError(api.ErrCodeBackend, "epoll close failed", err)
	}
	return nil
}
