// File: api/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Opaque stream handle accepted by readability and writability watchers.

package api

// Stream is an opaque handle to a pollable OS resource. Backends own the
// projection from the handle to a file descriptor; accepted shapes are
// anything exposing `Fd() uintptr` (os.File, netlink sockets), a raw
// descriptor as int or uintptr, or a syscall.Conn.
type Stream any
