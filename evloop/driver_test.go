// File: evloop/driver_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Driver contract tests over the deterministic fake backend: ordering,
// lifecycle, cancellation, referencing and error routing.

package evloop_test

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/evloop"
	"github.com/momentics/hioload-evloop/fake"
)

var _ api.Driver = (*evloop.Driver)(nil)

func newTestDriver(t *testing.T) (*evloop.Driver, *fake.Backend) {
	t.Helper()
	b := fake.NewBackend()
	d, err := evloop.New(evloop.WithBackend(b))
	require.NoError(t, err)
	return d, b
}

func TestDeferOrdering(t *testing.T) {
	d, _ := newTestDriver(t)
	var order []string
	d.Defer(func(string) any { order = append(order, "A"); return nil })
	d.Defer(func(string) any { order = append(order, "B"); return nil })
	require.NoError(t, d.Run())
	assert.Equal(t, []string{"A", "B"}, order)
}

func TestDelayFiresInExpirationOrder(t *testing.T) {
	d, b := newTestDriver(t)
	var order []string
	var times []float64
	_, err := d.Delay(0.05, func(string) any {
		order = append(order, "A")
		times = append(times, b.Now())
		return nil
	})
	require.NoError(t, err)
	_, err = d.Delay(0.01, func(string) any {
		order = append(order, "B")
		times = append(times, b.Now())
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.Run())

	assert.Equal(t, []string{"B", "A"}, order)
	require.Len(t, times, 2)
	assert.GreaterOrEqual(t, times[0], 0.01)
	assert.GreaterOrEqual(t, times[1], 0.05)
}

func TestDelayRecordCancelledBeforeInvocation(t *testing.T) {
	d, _ := newTestDriver(t)
	id, err := d.Delay(0.01, func(callbackID string) any {
		_, enableErr := d.Enable(callbackID)
		assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(enableErr))
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, d.Run())
}

func TestRepeatInvokedUntilCancelled(t *testing.T) {
	d, _ := newTestDriver(t)
	var count int
	id, err := d.Repeat(0.01, func(string) any { count++; return nil })
	require.NoError(t, err)
	_, err = d.Delay(0.035, func(string) any { d.Cancel(id); return nil })
	require.NoError(t, err)
	require.NoError(t, d.Run())
	assert.Equal(t, 3, count)
}

func TestRepeatRearmIsMonotonic(t *testing.T) {
	d, b := newTestDriver(t)
	var times []float64
	id := ""
	id, _ = d.Repeat(0.01, func(string) any {
		times = append(times, b.Now())
		if len(times) == 5 {
			d.Cancel(id)
		}
		return nil
	})
	require.NoError(t, d.Run())
	require.Len(t, times, 5)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i], times[i-1]+0.01,
			"consecutive invocations closer than the interval")
	}
}

func TestRepeatRejectsNonPositiveInterval(t *testing.T) {
	d, _ := newTestDriver(t)
	for _, interval := range []float64{0, -0.5} {
		_, err := d.Repeat(interval, func(string) any { return nil })
		assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(err))
	}
}

func TestDelayRejectsNegativeInterval(t *testing.T) {
	d, _ := newTestDriver(t)
	_, err := d.Delay(-1, func(string) any { return nil })
	assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(err))
}

func TestCancelledCallbackNeverFires(t *testing.T) {
	d, _ := newTestDriver(t)
	fired := false
	id, err := d.Delay(0.01, func(string) any { fired = true; return nil })
	require.NoError(t, err)
	d.Cancel(id)
	d.Defer(func(string) any { return nil })
	require.NoError(t, d.Run())
	assert.False(t, fired)
}

func TestCancelDuringDispatchIsObserved(t *testing.T) {
	d, _ := newTestDriver(t)
	fired := false
	id, err := d.Delay(5, func(string) any { fired = true; return nil })
	require.NoError(t, err)
	d.Defer(func(string) any { d.Cancel(id); return nil })
	require.NoError(t, d.Run())
	assert.False(t, fired)
}

func TestEnableDisableRoundTrip(t *testing.T) {
	d, _ := newTestDriver(t)
	id, err := d.Repeat(1, func(string) any { return nil })
	require.NoError(t, err)

	got, err := d.Disable(id)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	// Disabling twice stays a no-op.
	got, err = d.Disable(id)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = d.Enable(id)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	// Enabling twice stays a no-op.
	got, err = d.Enable(id)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	d.Cancel(id)
	_, err = d.Enable(id)
	assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(err))
}

func TestDisabledCallbackDoesNotKeepLoopAlive(t *testing.T) {
	d, _ := newTestDriver(t)
	fired := false
	id, err := d.Repeat(0.01, func(string) any { fired = true; return nil })
	require.NoError(t, err)
	d.Disable(id)
	require.NoError(t, d.Run())
	assert.False(t, fired)
}

func TestUnreferencedCallbackDoesNotKeepLoopAlive(t *testing.T) {
	d, _ := newTestDriver(t)
	repeatFires := 0
	id, err := d.Repeat(0.01, func(string) any { repeatFires++; return nil })
	require.NoError(t, err)
	d.Unreference(id)
	_, err = d.Delay(0.025, func(string) any { return nil })
	require.NoError(t, err)
	require.NoError(t, d.Run())
	// The unreferenced repeat still fires while the referenced delay
	// pins the loop; the loop exits once the delay completes.
	assert.Equal(t, 2, repeatFires)
}

func TestReferenceRestoresLiveness(t *testing.T) {
	d, _ := newTestDriver(t)
	id, err := d.Repeat(0.01, func(callbackID string) any {
		d.Cancel(callbackID)
		return nil
	})
	require.NoError(t, err)
	d.Unreference(id)
	got, err := d.Reference(id)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	require.NoError(t, d.Run())
}

func TestUnknownIDOperations(t *testing.T) {
	d, _ := newTestDriver(t)

	_, err := d.Enable("cbffffffffffffffff")
	assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(err))
	_, err = d.Disable("cbffffffffffffffff")
	assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(err))
	_, err = d.Reference("cbffffffffffffffff")
	assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(err))
	_, err = d.Unreference("cbffffffffffffffff")
	assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(err))

	// Only Cancel absorbs unknown ids.
	d.Cancel("cbffffffffffffffff")
}

func TestRegistrationDuringDispatchFiresNextIteration(t *testing.T) {
	d, b := newTestDriver(t)
	var passes []int
	d.Defer(func(string) any {
		passes = append(passes, b.Dispatches)
		d.Defer(func(string) any {
			passes = append(passes, b.Dispatches)
			return nil
		})
		return nil
	})
	require.NoError(t, d.Run())
	require.Len(t, passes, 2)
	assert.Greater(t, passes[1], passes[0],
		"nested registration fired in the same dispatch iteration")
}

func TestRunReturnsWhenNoCallbacksRemain(t *testing.T) {
	d, _ := newTestDriver(t)
	require.NoError(t, d.Run())
	assert.False(t, d.IsRunning())
}

func TestRunReentryFails(t *testing.T) {
	d, _ := newTestDriver(t)
	var reentry error
	d.Defer(func(string) any {
		reentry = d.Run()
		return nil
	})
	require.NoError(t, d.Run())
	assert.Equal(t, api.ErrCodeLifecycle, api.CodeOf(reentry))
}

func TestStopFromCallback(t *testing.T) {
	d, _ := newTestDriver(t)
	var after int
	id, err := d.Repeat(0.01, func(string) any {
		after++
		if after == 2 {
			d.Stop()
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.Run())
	assert.Equal(t, 2, after)

	// A stopped loop can run again.
	d.Cancel(id)
	d.Defer(func(string) any { after++; return nil })
	require.NoError(t, d.Run())
	assert.Equal(t, 3, after)
}

func TestMicrotasksRunFIFOBeforeDispatch(t *testing.T) {
	d, _ := newTestDriver(t)
	var order []string
	d.Defer(func(string) any { order = append(order, "defer"); return nil })
	d.Queue(func() { order = append(order, "m1") })
	d.Queue(func() { order = append(order, "m2") })
	d.Queue(func() { order = append(order, "m3") })
	require.NoError(t, d.Run())
	assert.Equal(t, []string{"m1", "m2", "m3", "defer"}, order)
}

func TestInvalidCallbackReturnRoutedToHandler(t *testing.T) {
	d, _ := newTestDriver(t)
	var handled []error
	prev := d.SetErrorHandler(func(err error) { handled = append(handled, err) })
	assert.Nil(t, prev)

	id := d.Defer(func(string) any { return "not nil" })
	require.NoError(t, d.Run())

	require.Len(t, handled, 1)
	assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(handled[0]))
	var e *api.Error
	require.True(t, errors.As(handled[0], &e))
	assert.Equal(t, id, e.Context["callback_id"])
}

func TestSetErrorHandlerReturnsPrevious(t *testing.T) {
	d, _ := newTestDriver(t)
	first := func(error) {}
	prev := d.SetErrorHandler(first)
	assert.Nil(t, prev)
	prev = d.SetErrorHandler(nil)
	assert.NotNil(t, prev)
}

func TestCallbackPanicRoutedToHandler(t *testing.T) {
	d, _ := newTestDriver(t)
	var handled error
	d.SetErrorHandler(func(err error) { handled = err })
	d.Defer(func(string) any { panic("boom") })
	d.Defer(func(string) any { return nil })
	require.NoError(t, d.Run())
	assert.Equal(t, api.ErrCodeUserCallback, api.CodeOf(handled))
}

func TestCallbackPanicAbortsRunWithoutHandler(t *testing.T) {
	d, _ := newTestDriver(t)
	d.Defer(func(string) any { panic("boom") })
	err := d.Run()
	assert.Equal(t, api.ErrCodeUserCallback, api.CodeOf(err))
	assert.False(t, d.IsRunning())
}

func TestOnReadableReceivesStream(t *testing.T) {
	d, b := newTestDriver(t)
	var gotStream api.Stream
	id, err := d.OnReadable(7, func(callbackID string, stream api.Stream) any {
		gotStream = stream
		d.Cancel(callbackID)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	b.SetReadable(7)
	require.NoError(t, d.Run())
	assert.Equal(t, 7, gotStream)
}

func TestOnWritableReceivesStream(t *testing.T) {
	d, b := newTestDriver(t)
	var gotStream api.Stream
	_, err := d.OnWritable(9, func(callbackID string, stream api.Stream) any {
		gotStream = stream
		d.Cancel(callbackID)
		return nil
	})
	require.NoError(t, err)
	b.SetWritable(9)
	require.NoError(t, d.Run())
	assert.Equal(t, 9, gotStream)
}

func TestOnSignalDelivery(t *testing.T) {
	d, b := newTestDriver(t)
	var got os.Signal
	_, err := d.OnSignal(os.Interrupt, func(callbackID string, sig os.Signal) any {
		got = sig
		d.Cancel(callbackID)
		return nil
	})
	require.NoError(t, err)
	b.Deliver(os.Interrupt)
	require.NoError(t, d.Run())
	assert.Equal(t, os.Interrupt, got)
}

func TestSignalsArmedWhileRunning(t *testing.T) {
	d, b := newTestDriver(t)
	var armedDuring bool
	d.Defer(func(string) any { armedDuring = b.Armed; return nil })
	require.NoError(t, d.Run())
	assert.True(t, armedDuring)
	assert.False(t, b.Armed)
}

func TestHandlePassthrough(t *testing.T) {
	d, b := newTestDriver(t)
	assert.Equal(t, b, d.Handle())
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := evloop.New()
	assert.Equal(t, api.ErrCodeLifecycle, api.CodeOf(err))
}
