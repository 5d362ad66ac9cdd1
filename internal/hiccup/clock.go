package hiccup

import (
	"errors"
	"strings"
	"time"
)

// processStart anchors monotonic timestamps so that NowNs reads as process
// uptime in nanoseconds. Captured at package load, before any sampling starts.
var processStart = time.Now()

// ErrNoMonotonicClock is returned by NewSystemClock on platforms where the
// runtime carries no monotonic reading. Such platforms are unsupported.
var ErrNoMonotonicClock = errors.New("no monotonic clock source available")

// Clock provides the timestamps and sleeps the samplers run on. NowNs is
// monotonic and unaffected by wall-clock adjustments; WallMs exists for log
// annotation only and must never feed hiccup arithmetic.
type Clock interface {
	NowNs() int64
	WallMs() int64
	SleepNs(ns int64)
}

type systemClock struct {
	base time.Time
}

// NewSystemClock returns the platform clock, or ErrNoMonotonicClock if the
// runtime's time readings lack a monotonic component.
func NewSystemClock() (Clock, error) {
	if !hasMonotonic(time.Now()) {
		return nil, ErrNoMonotonicClock
	}
	return &systemClock{base: processStart}, nil
}

// hasMonotonic checks for the runtime's monotonic reading, which String()
// renders as an "m=±…" suffix.
func hasMonotonic(t time.Time) bool {
	return strings.Contains(t.String(), " m=")
}

func (c *systemClock) NowNs() int64 {
	return time.Since(c.base).Nanoseconds()
}

func (c *systemClock) WallMs() int64 {
	return time.Now().UnixMilli()
}

func (c *systemClock) SleepNs(ns int64) {
	sleepNs(ns)
}

// ProcessStart returns the wall-clock time this process began, used for log
// path %date substitution and runtime-birth-relative timestamps.
func ProcessStart() time.Time {
	return processStart
}
