//go:build unix

// File: reactor/stream_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Projection from opaque stream handles to pollable descriptors. The
// backend owns the projection; callers never see file descriptors.

package reactor

import (
	"fmt"
	"syscall"

	"github.com/momentics/hioload-evloop/api"
)

// fdProvider matches os.File and friends.
type fdProvider interface {
	Fd() uintptr
}

// projectFd resolves an opaque stream handle to a file descriptor.
func projectFd(stream api.Stream) (int, error) {
	switch v := stream.(type) {
	case int:
		return v, nil
	case uintptr:
		return int(v), nil
	case fdProvider:
		return int(v.Fd()), nil
	case syscall.Conn:
		raw, err := v.SyscallConn()
		if err != nil {
			return -1, api.WrapError(api.ErrCodeBackend, "stream does not expose a raw descriptor", err)
		}
		fd := -1
		if err := raw.Control(func(cfd uintptr) { fd = int(cfd) }); err != nil {
			return -1, api.WrapError(api.ErrCodeBackend, "stream descriptor control failed", err)
		}
		return fd, nil
	}
	return -1, api.NewError(api.ErrCodeBackend,
		fmt.Sprintf("stream handle of type %T is not pollable", stream))
}
