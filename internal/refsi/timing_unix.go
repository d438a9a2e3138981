//go:build unix

package refsi

import "golang.org/x/sys/unix"

// monotonicNow reads CLOCK_MONOTONIC directly, mirroring the original
// driver's clock_gettime debug timing around DMA transfers.
func monotonicNow() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}

	return ts.Sec*1e9 + int64(ts.Nsec)
}
