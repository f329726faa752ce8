//go:build !unix

// File: reactor/backend_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "github.com/momentics/hioload-evloop/api"

// NewBackend has no readiness primitive on this platform.
func NewBackend() (api.Backend, error) {
	return nil, api.UnsupportedFeatureError("readiness backend")
}

// NewSelectBackend requires a unix platform.
func NewSelectBackend() (api.Backend, error) {
	return nil, api.UnsupportedFeatureError("select backend")
}

// NewNativeBackend is Linux-only.
func NewNativeBackend() (api.Backend, error) {
	return nil, api.UnsupportedFeatureError("native epoll backend")
}
