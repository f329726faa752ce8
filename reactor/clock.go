// File: reactor/clock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "time"

// clock yields monotonic time in fractional seconds, anchored at
// backend creation. time.Since reads the runtime monotonic reading, so
// wall clock jumps never move it.
type clock struct {
	start time.Time
}

func newClock() clock {
	return clock{start: time.Now()}
}

// Now returns seconds elapsed since the backend was created.
func (c clock) Now() float64 {
	return time.Since(c.start).Seconds()
}
