//go:build unix && !linux

// File: reactor/backend_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "github.com/momentics/hioload-evloop/api"

// NewBackend returns the best backend for this platform: select(2).
func NewBackend() (api.Backend, error) {
	return NewSelectBackend()
}

// NewNativeBackend is Linux-only.
func NewNativeBackend() (api.Backend, error) {
	return nil, api.UnsupportedFeatureError("native epoll backend")
}
