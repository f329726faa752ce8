// File: facade/evloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Unified entry point. Wires a platform backend into a driver from one
// immutable configuration so embedders never touch the reactor package
// directly.

package facade

import (
	"fmt"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/evloop"
	"github.com/momentics/hioload-evloop/reactor"
)

// Config holds parameters immutable per driver instance.
type Config struct {
	Backend string // Backend selector: "auto", "native" or "select"
	Tracing bool   // Wrap the driver in the leak-tracing decorator
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Backend: "auto",
		Tracing: false,
	}
}

// NewDriver constructs a driver over the configured backend. A nil cfg
// means DefaultConfig.
func NewDriver(cfg *Config) (api.Driver, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var (
		b   api.Backend
		err error
	)
	switch cfg.Backend {
	case "", "auto":
		b, err = reactor.NewBackend()
	case "native":
		b, err = reactor.NewNativeBackend()
	case "select":
		b, err = reactor.NewSelectBackend()
	default:
		return nil, api.NewError(api.ErrCodeLifecycle,
			fmt.Sprintf("unknown backend selector %q", cfg.Backend))
	}
	if err != nil {
		return nil, err
	}
	d, err := evloop.New(evloop.WithBackend(b))
	if err != nil {
		b.Close()
		return nil, err
	}
	if cfg.Tracing {
		return evloop.NewTracingDriver(d), nil
	}
	return d, nil
}
