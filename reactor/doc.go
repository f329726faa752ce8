// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the OS-facing backends of the event loop: a
// portable select(2) backend, a Linux epoll backend exposing its native
// handle, the shared timer priority queue, and the process-global signal
// relay.
package reactor
