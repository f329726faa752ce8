//go:build unix

// File: reactor/wakepipe_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Self-pipe used to interrupt a blocking poll from outside the
// scheduler, most notably when the signal relay enqueues while the loop
// sleeps in select(2) or epoll_wait(2).

package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-evloop/api"
)

type wakePipe struct {
	r, w int
}

func newWakePipe() (*wakePipe, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, api.WrapError(api.ErrCodeBackend, "wake pipe creation failed", err)
	}
	for _, fd := range p {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, api.WrapError(api.ErrCodeBackend, "wake pipe O_NONBLOCK failed", err)
		}
		unix.CloseOnExec(fd)
	}
	return &wakePipe{r: p[0], w: p[1]}, nil
}

// wake makes the read end readable. A full pipe already wakes the
// poller, so EAGAIN is ignored.
func (p *wakePipe) wake() {
	var b [1]byte
	unix.Write(p.w, b[:])
}

// drain empties the read end after the poller observed readiness.
func (p *wakePipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *wakePipe) close() {
	unix.Close(p.r)
	unix.Close(p.w)
}
