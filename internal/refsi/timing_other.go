//go:build !unix

package refsi

import "time"

// monotonicNow falls back to the runtime's monotonic clock reading on
// platforms x/sys/unix doesn't cover.
func monotonicNow() int64 { return time.Now().UnixNano() }
