// File: evloop/bench_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package evloop_test

import (
	"testing"

	"github.com/momentics/hioload-evloop/evloop"
	"github.com/momentics/hioload-evloop/fake"
)

func BenchmarkDeferThroughput(b *testing.B) {
	backend := fake.NewBackend()
	d, err := evloop.New(evloop.WithBackend(backend))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Defer(func(string) any { return nil })
	}
	b.StopTimer()
	if err := d.Run(); err != nil {
		b.Fatal(err)
	}
}

func BenchmarkMicrotaskDrain(b *testing.B) {
	backend := fake.NewBackend()
	d, err := evloop.New(evloop.WithBackend(backend))
	if err != nil {
		b.Fatal(err)
	}
	d.Defer(func(string) any { return nil })
	for i := 0; i < b.N; i++ {
		d.Queue(func() {})
	}
	b.ResetTimer()
	if err := d.Run(); err != nil {
		b.Fatal(err)
	}
}

func BenchmarkTimerScheduleCancel(b *testing.B) {
	backend := fake.NewBackend()
	d, err := evloop.New(evloop.WithBackend(backend))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id, err := d.Delay(1000, func(string) any { return nil })
		if err != nil {
			b.Fatal(err)
		}
		d.Cancel(id)
	}
}
