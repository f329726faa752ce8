// File: evloop/tracing_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TracingDriver provenance tests: dump contents across the lifecycle and
// trace-augmented invalid-callback failures.

package evloop_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/evloop"
	"github.com/momentics/hioload-evloop/fake"
)

var _ api.Driver = (*evloop.TracingDriver)(nil)

func newTracingDriver(t *testing.T) (*evloop.TracingDriver, *fake.Backend) {
	t.Helper()
	b := fake.NewBackend()
	inner, err := evloop.New(evloop.WithBackend(b))
	require.NoError(t, err)
	return evloop.NewTracingDriver(inner), b
}

func TestDumpListsLiveCallbacks(t *testing.T) {
	td, _ := newTracingDriver(t)

	idA, err := td.Repeat(1, func(string) any { return nil })
	require.NoError(t, err)
	idB, err := td.Delay(1, func(string) any { return nil })
	require.NoError(t, err)

	dump := td.Dump()
	assert.Contains(t, dump, "Callback identifier: "+idA)
	assert.Contains(t, dump, "Callback identifier: "+idB)
	// Each block carries the creation stack trace.
	assert.Contains(t, dump, "tracing_test.go")

	td.Cancel(idA)
	dump = td.Dump()
	assert.NotContains(t, dump, idA)
	assert.Contains(t, dump, "Callback identifier: "+idB)
}

func TestDumpOmitsDisabledAndUnreferenced(t *testing.T) {
	td, _ := newTracingDriver(t)

	idA, err := td.Repeat(1, func(string) any { return nil })
	require.NoError(t, err)
	idB, err := td.Repeat(1, func(string) any { return nil })
	require.NoError(t, err)

	td.Disable(idA)
	td.Unreference(idB)
	assert.Empty(t, td.Dump())

	_, err = td.Enable(idA)
	require.NoError(t, err)
	_, err = td.Reference(idB)
	require.NoError(t, err)
	dump := td.Dump()
	assert.Contains(t, dump, idA)
	assert.Contains(t, dump, idB)
}

func TestDumpBlocksSeparatedByBlankLine(t *testing.T) {
	td, _ := newTracingDriver(t)
	_, err := td.Repeat(1, func(string) any { return nil })
	require.NoError(t, err)
	_, err = td.Repeat(1, func(string) any { return nil })
	require.NoError(t, err)

	blocks := strings.Split(td.Dump(), "\n\n")
	assert.Len(t, blocks, 2)
	for _, block := range blocks {
		assert.True(t, strings.HasPrefix(block, "Callback identifier: "))
	}
}

func TestEnableAfterCancelCarriesBothTraces(t *testing.T) {
	td, _ := newTracingDriver(t)

	id, err := td.Delay(1, func(string) any { return nil })
	require.NoError(t, err)
	td.Cancel(id)

	_, err = td.Enable(id)
	require.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(err))

	var e *api.Error
	require.True(t, errors.As(err, &e))
	creation, ok := e.Context["creation_trace"].(string)
	require.True(t, ok, "missing creation trace")
	cancellation, ok := e.Context["cancellation_trace"].(string)
	require.True(t, ok, "missing cancellation trace")
	assert.Contains(t, creation, "tracing_test.go")
	assert.Contains(t, cancellation, "tracing_test.go")

	_, err = td.Reference(id)
	require.True(t, errors.As(err, &e))
	assert.Contains(t, e.Context, "creation_trace")
}

func TestTracingDriverPassthrough(t *testing.T) {
	td, b := newTracingDriver(t)

	var order []string
	td.Queue(func() { order = append(order, "micro") })
	td.Defer(func(string) any { order = append(order, "defer"); return nil })

	var handled error
	prev := td.SetErrorHandler(func(err error) { handled = err })
	assert.Nil(t, prev)

	id, err := td.Repeat(0.01, func(callbackID string) any {
		order = append(order, "repeat")
		td.Cancel(callbackID)
		return "bad return"
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, td.Run())
	assert.Equal(t, []string{"micro", "defer", "repeat"}, order)
	assert.Equal(t, api.ErrCodeInvalidCallback, api.CodeOf(handled))
	assert.Equal(t, b, td.Handle())
	assert.False(t, td.IsRunning())
}

func TestDeferredInvocationPrunesTrace(t *testing.T) {
	td, _ := newTracingDriver(t)
	var during string
	id := td.Defer(func(callbackID string) any {
		during = td.Dump()
		return nil
	})
	assert.Contains(t, td.Dump(), id)
	require.NoError(t, td.Run())
	assert.NotContains(t, during, id)
	assert.NotContains(t, td.Dump(), id)
}
