//go:build linux

// File: reactor/backend_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "github.com/momentics/hioload-evloop/api"

// NewBackend returns the best backend for this platform: epoll, with
// select(2) as the fallback when epoll setup fails.
func NewBackend() (api.Backend, error) {
	if b, err := NewNativeBackend(); err == nil {
		return b, nil
	}
	return NewSelectBackend()
}
