// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package evloop implements the core single-threaded cooperative
// reactor: callback records, the abstract driver with its microtask and
// activation pipelines, goroutine-backed fibers with suspensions, and
// the tracing decorator. OS-facing multiplexing lives in package
// reactor.
package evloop
