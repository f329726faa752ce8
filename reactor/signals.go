// File: reactor/signals.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-global signal relay. The Go runtime delivers signals on a
// dedicated channel; a relay goroutine forwards them into a bounded
// lock-free queue that the scheduler drains between polls. Because
// signal disposition is shared by the whole process, arming is
// serialized through a LIFO registry: only the most recently armed
// relay receives notifications, and disarming restores the previous
// one.

package reactor

import (
	"os"
	"os/signal"
	"sync"

	"code.hybscloud.com/lfq"
)

// signalQueueDepth bounds pending undelivered signals per relay. When
// the queue is full, new occurrences are dropped and coalesce into the
// ones already queued, matching kernel-level signal folding.
const signalQueueDepth = 128

// armRegistry serializes process-global signal ownership across loop
// instances. Guards every relay's watched set and notify registration.
var armRegistry struct {
	mu    sync.Mutex
	stack []*signalRelay
}

type signalRelay struct {
	ch    chan os.Signal
	queue lfq.SPSC[os.Signal]
	wake  func()
	done  chan struct{}

	// watched maps a signal to its registration count. Owned by the
	// scheduler, read under armRegistry.mu during re-notify.
	watched map[os.Signal]int
	armed   bool
}

// newSignalRelay starts the forwarding goroutine. wake is invoked after
// every enqueue so a sleeping poller re-checks the queue.
func newSignalRelay(wake func()) *signalRelay {
	r := &signalRelay{
		ch:      make(chan os.Signal, signalQueueDepth),
		wake:    wake,
		done:    make(chan struct{}),
		watched: make(map[os.Signal]int),
	}
	r.queue.Init(signalQueueDepth)
	go r.forward()
	return r
}

func (r *signalRelay) forward() {
	for {
		select {
		case sig := <-r.ch:
			s := sig
			// Enqueue failure means the queue is full; the pending
			// occurrences coalesce into the ones already queued.
			r.queue.Enqueue(&s)
			r.wake()
		case <-r.done:
			return
		}
	}
}

// add registers interest in sig. The first registration starts runtime
// delivery when the relay is armed.
func (r *signalRelay) add(sig os.Signal) {
	armRegistry.mu.Lock()
	defer armRegistry.mu.Unlock()
	r.watched[sig]++
	if r.watched[sig] == 1 && r.armed && topRelayLocked() == r {
		r.renotifyLocked()
	}
}

// remove drops one registration of sig. The last removal stops runtime
// delivery for it.
func (r *signalRelay) remove(sig os.Signal) {
	armRegistry.mu.Lock()
	defer armRegistry.mu.Unlock()
	n, ok := r.watched[sig]
	if !ok {
		return
	}
	if n <= 1 {
		delete(r.watched, sig)
	} else {
		r.watched[sig] = n - 1
	}
	if r.armed && topRelayLocked() == r {
		r.renotifyLocked()
	}
}

// arm pushes the relay onto the global stack and takes over signal
// delivery from whichever relay held it.
func (r *signalRelay) arm() {
	armRegistry.mu.Lock()
	defer armRegistry.mu.Unlock()
	if r.armed {
		return
	}
	if top := topRelayLocked(); top != nil {
		signal.Stop(top.ch)
	}
	armRegistry.stack = append(armRegistry.stack, r)
	r.armed = true
	r.renotifyLocked()
}

// disarm removes the relay from the global stack and hands delivery
// back to the relay below it, if any.
func (r *signalRelay) disarm() {
	armRegistry.mu.Lock()
	defer armRegistry.mu.Unlock()
	if !r.armed {
		return
	}
	signal.Stop(r.ch)
	r.armed = false
	for i := len(armRegistry.stack) - 1; i >= 0; i-- {
		if armRegistry.stack[i] == r {
			armRegistry.stack = append(armRegistry.stack[:i], armRegistry.stack[i+1:]...)
			break
		}
	}
	if top := topRelayLocked(); top != nil {
		top.renotifyLocked()
	}
}

func topRelayLocked() *signalRelay {
	if len(armRegistry.stack) == 0 {
		return nil
	}
	return armRegistry.stack[len(armRegistry.stack)-1]
}

// renotifyLocked rebuilds the runtime registration to match the watched
// set. os/signal cannot shrink a channel's set in place, so the
// registration is replaced wholesale.
func (r *signalRelay) renotifyLocked() {
	signal.Stop(r.ch)
	if len(r.watched) == 0 {
		return
	}
	sigs := make([]os.Signal, 0, len(r.watched))
	for sig := range r.watched {
		sigs = append(sigs, sig)
	}
	signal.Notify(r.ch, sigs...)
}

// drain delivers every queued signal to fn in arrival order.
func (r *signalRelay) drain(fn func(os.Signal) error) error {
	for {
		sig, err := r.queue.Dequeue()
		if err != nil {
			return nil
		}
		if err := fn(sig); err != nil {
			return err
		}
	}
}

func (r *signalRelay) close() {
	r.disarm()
	close(r.done)
}
