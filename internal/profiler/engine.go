// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"time"
)

// EventKind names a notification emitted by an engine session
type EventKind string

// EventSampleBufferFull is emitted once the session sample buffer reaches capacity
const EventSampleBufferFull EventKind = "samplebufferfull"

// EngineConfig is passed to the engine for every new session
type EngineConfig struct {
	SampleInterval time.Duration
	MaxBufferSize  int
}

// Engine is a bounded sampling engine capable of starting sessions
type Engine interface {
	// Supported reports whether the engine can run in this environment
	Supported() bool

	// Start begins a new sampling session. It must return promptly.
	Start(cfg EngineConfig) (Session, error)
}

// Session is a single running engine instance.
type Session interface {
	// SampleInterval is the interval actually granted by the engine
	SampleInterval() time.Duration

	// Stopped reports whether Stop has been called
	Stopped() bool

	// Stop halts sampling before returning. The trace is delivered on the
	// returned channel once it has been assembled.
	Stop() <-chan StopResult

	// Subscribe registers handler for kind and returns a func that removes it
	Subscribe(kind EventKind, handler func()) (unsubscribe func())
}

// StopResult carries the outcome of Session.Stop
type StopResult struct {
	Trace *Trace
	Err   error
}
