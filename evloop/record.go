// File: evloop/record.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Tagged callback record variants owned by the driver.

package evloop

import (
	"os"

	"github.com/momentics/hioload-evloop/api"
)

// record tracks one registration. All mutation happens on the scheduler
// fiber; backends see records through the read-only api.Record view.
type record struct {
	id   string
	kind api.CallbackKind

	// callable holds one of api.Callback, api.StreamCallback or
	// api.SignalCallback depending on kind.
	callable any

	enabled    bool
	referenced bool
	cancelled  bool

	// pending marks membership in the pending-activation set. A pending
	// record is skipped by the deferred invocation queue so an
	// enable-after-disable cannot double-fire it.
	pending bool

	// Timer payload.
	interval   float64
	expiration float64

	// Stream payload.
	stream api.Stream

	// Signal payload.
	sig os.Signal
}

var _ api.Record = (*record)(nil)

func (r *record) ID() string              { return r.id }
func (r *record) Kind() api.CallbackKind  { return r.kind }
func (r *record) Enabled() bool           { return r.enabled }
func (r *record) Referenced() bool        { return r.referenced }
func (r *record) Cancelled() bool         { return r.cancelled }
func (r *record) Interval() float64       { return r.interval }
func (r *record) Expiration() float64     { return r.expiration }
func (r *record) Stream() api.Stream      { return r.stream }
func (r *record) Signal() os.Signal       { return r.sig }

// keepsAlive reports whether this record currently pins the loop.
func (r *record) keepsAlive() bool {
	return r.enabled && r.referenced && !r.cancelled
}
