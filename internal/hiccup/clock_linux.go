//go:build linux

package hiccup

import "golang.org/x/sys/unix"

// sleepNs sleeps on CLOCK_MONOTONIC with nanosecond granularity. The sampler's
// sleep granularity is the dominant noise floor, so this goes straight to
// clock_nanosleep rather than through the runtime timer heap.
func sleepNs(ns int64) {
	if ns <= 0 {
		return
	}
	req := unix.NsecToTimespec(ns)
	var rem unix.Timespec
	for {
		err := unix.ClockNanosleep(unix.CLOCK_MONOTONIC, 0, &req, &rem)
		if err != unix.EINTR {
			return
		}
		req = rem
	}
}
