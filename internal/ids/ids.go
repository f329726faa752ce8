// File: internal/ids/ids.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide monotonic callback identifier generation.

package ids

import (
	"fmt"

	"go.uber.org/atomic"
)

// sequence is shared across every driver instance so ids stay unique
// even when records migrate between a driver and its tracing decorator.
var sequence atomic.Uint64

// Next returns a fresh opaque identifier. Identifiers are stable,
// monotonic and never reused; the fixed width keeps lexicographic order
// equal to creation order.
func Next() string {
	return fmt.Sprintf("cb%016x", sequence.Inc())
}
