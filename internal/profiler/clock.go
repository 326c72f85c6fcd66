// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"time"
)

// Clock provides monotonic time relative to a fixed origin
type Clock interface {
	// Origin is the absolute time all relative timestamps are anchored to
	Origin() time.Time

	// Now returns the monotonic time elapsed since Origin
	Now() time.Duration
}

// Scheduler runs callbacks after a delay
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending scheduled callback
type Timer interface {
	// Stop prevents the callback from firing. It reports false if the
	// callback already fired or was stopped.
	Stop() bool
}

// systemClock is backed by the runtime monotonic clock and time.AfterFunc
type systemClock struct {
	origin time.Time
}

// SystemClock returns a Clock and Scheduler whose origin is the current time
func SystemClock() interface {
	Clock
	Scheduler
} {
	return &systemClock{origin: time.Now()}
}

func (c *systemClock) Origin() time.Time {
	// strip the monotonic reading so Origin().Add(d) prints as wall time
	return c.origin.Round(0)
}

func (c *systemClock) Now() time.Duration {
	return time.Since(c.origin)
}

func (c *systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
