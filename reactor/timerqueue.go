// File: reactor/timerqueue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Priority queue over timer records: binary min-heap keyed by
// (expiration, insertion sequence), with an index map for O(log n)
// removal of arbitrary records.

package reactor

import (
	"container/heap"

	"github.com/momentics/hioload-evloop/api"
)

type timerEntry struct {
	rec api.Record
	seq uint64
	// pos is the current heap slot, maintained by timerHeap.Swap so
	// Remove can fix the heap without scanning.
	pos int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.rec.Expiration() != b.rec.Expiration() {
		return a.rec.Expiration() < b.rec.Expiration()
	}
	return a.seq < b.seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.pos = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerQueue orders timer records by (expiration, insertion sequence).
// Ties on equal expirations resolve in insertion order, stably. Not safe
// for concurrent use; the loop owns it.
type TimerQueue struct {
	heap  timerHeap
	index map[api.Record]*timerEntry
	seq   uint64
}

// NewTimerQueue creates an empty queue.
func NewTimerQueue() *TimerQueue {
	return &TimerQueue{index: make(map[api.Record]*timerEntry)}
}

// Len returns the number of queued records.
func (q *TimerQueue) Len() int { return len(q.heap) }

// Insert adds rec keyed by its current expiration. Re-inserting a
// queued record re-keys it.
func (q *TimerQueue) Insert(rec api.Record) {
	if _, ok := q.index[rec]; ok {
		q.Remove(rec)
	}
	q.seq++
	e := &timerEntry{rec: rec, seq: q.seq}
	q.index[rec] = e
	heap.Push(&q.heap, e)
}

// Remove deletes rec from the queue. Records never inserted, or already
// removed, are a no-op.
func (q *TimerQueue) Remove(rec api.Record) {
	e, ok := q.index[rec]
	if !ok {
		return
	}
	delete(q.index, rec)
	heap.Remove(&q.heap, e.pos)
}

// Peek returns the earliest expiration without removing it.
func (q *TimerQueue) Peek() (float64, bool) {
	if len(q.heap) == 0 {
		return 0, false
	}
	return q.heap[0].rec.Expiration(), true
}

// Extract removes and returns the root iff its expiration is due at
// now; nil otherwise.
func (q *TimerQueue) Extract(now float64) api.Record {
	if len(q.heap) == 0 || q.heap[0].rec.Expiration() > now {
		return nil
	}
	e := heap.Pop(&q.heap).(*timerEntry)
	delete(q.index, e.rec)
	return e.rec
}
