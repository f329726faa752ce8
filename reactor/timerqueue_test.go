// File: reactor/timerqueue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-evloop/api"
)

// stubTimer is a minimal timer record for queue tests.
type stubTimer struct {
	id         string
	expiration float64
}

var _ api.Record = (*stubTimer)(nil)

func (s *stubTimer) ID() string             { return s.id }
func (s *stubTimer) Kind() api.CallbackKind { return api.KindDelay }
func (s *stubTimer) Enabled() bool          { return true }
func (s *stubTimer) Referenced() bool       { return true }
func (s *stubTimer) Cancelled() bool        { return false }
func (s *stubTimer) Interval() float64      { return 0 }
func (s *stubTimer) Expiration() float64    { return s.expiration }
func (s *stubTimer) Stream() api.Stream     { return nil }
func (s *stubTimer) Signal() os.Signal      { return nil }

func TestTimerQueueOrdering(t *testing.T) {
	q := NewTimerQueue()
	a := &stubTimer{id: "a", expiration: 3}
	b := &stubTimer{id: "b", expiration: 1}
	c := &stubTimer{id: "c", expiration: 2}
	q.Insert(a)
	q.Insert(b)
	q.Insert(c)

	exp, ok := q.Peek()
	assert.True(t, ok)
	assert.Equal(t, 1.0, exp)

	assert.Same(t, b, q.Extract(10).(*stubTimer))
	assert.Same(t, c, q.Extract(10).(*stubTimer))
	assert.Same(t, a, q.Extract(10).(*stubTimer))
	assert.Nil(t, q.Extract(10))
}

func TestTimerQueueStableTieBreak(t *testing.T) {
	q := NewTimerQueue()
	recs := make([]*stubTimer, 8)
	for i := range recs {
		recs[i] = &stubTimer{id: string(rune('a' + i)), expiration: 1}
		q.Insert(recs[i])
	}
	for _, want := range recs {
		assert.Same(t, want, q.Extract(1).(*stubTimer))
	}
}

func TestTimerQueueExtractOnlyDue(t *testing.T) {
	q := NewTimerQueue()
	q.Insert(&stubTimer{id: "a", expiration: 5})
	assert.Nil(t, q.Extract(4.999))
	assert.NotNil(t, q.Extract(5))
}

func TestTimerQueueRemove(t *testing.T) {
	q := NewTimerQueue()
	a := &stubTimer{id: "a", expiration: 1}
	b := &stubTimer{id: "b", expiration: 2}
	q.Insert(a)
	q.Insert(b)

	q.Remove(a)
	assert.Equal(t, 1, q.Len())
	// Double remove and removing a record never inserted are no-ops.
	q.Remove(a)
	q.Remove(&stubTimer{id: "x", expiration: 9})
	assert.Equal(t, 1, q.Len())

	assert.Same(t, b, q.Extract(10).(*stubTimer))
}

func TestTimerQueueReinsertRekeys(t *testing.T) {
	q := NewTimerQueue()
	a := &stubTimer{id: "a", expiration: 1}
	b := &stubTimer{id: "b", expiration: 2}
	q.Insert(a)
	q.Insert(b)

	a.expiration = 3
	q.Insert(a)
	assert.Equal(t, 2, q.Len())

	assert.Same(t, b, q.Extract(10).(*stubTimer))
	assert.Same(t, a, q.Extract(10).(*stubTimer))
}

func TestTimerQueueEmptyPeek(t *testing.T) {
	q := NewTimerQueue()
	_, ok := q.Peek()
	assert.False(t, ok)
	assert.Nil(t, q.Extract(1e9))
}
