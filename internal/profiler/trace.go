// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"time"
)

// Trace is the immutable result of one engine session. All cross references
// are indexes into the sibling slices.
type Trace struct {
	// Resources holds source identifiers (file paths) referenced by frames
	Resources []string `json:"resources"`

	// Frames referenced by stacks
	Frames []Frame `json:"frames"`

	// Stacks form parent-chained call trees, root first
	Stacks []Stack `json:"stacks"`

	// Samples in capture order
	Samples []Sample `json:"samples"`
}

// Frame is a single symbolized call site
type Frame struct {
	Name       string `json:"name"`
	ResourceID *int   `json:"resourceId,omitempty"`
	Line       *int   `json:"line,omitempty"`
	Column     *int   `json:"column,omitempty"`
}

// Stack is one node of a call tree. A nil ParentID marks a root.
type Stack struct {
	ParentID *int `json:"parentId,omitempty"`
	FrameID  int  `json:"frameId"`
}

// Sample is one observation. Timestamp is relative to the engine's own
// session start, which trails ContinuousTrace.Start by the engine start
// latency. A nil StackID means nothing was executing.
type Sample struct {
	Timestamp time.Duration `json:"timestamp"`
	StackID   *int          `json:"stackId,omitempty"`
}

// SampleCount returns the number of samples in the trace
func (t *Trace) SampleCount() int {
	if t == nil {
		return 0
	}
	return len(t.Samples)
}

// ContinuousTrace is a Trace anchored to absolute wall-clock bounds. Each one
// corresponds to exactly one engine session.
type ContinuousTrace struct {
	Trace

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the wall-clock span covered by the trace
func (t *ContinuousTrace) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// TraceHandler consumes completed traces
type TraceHandler func(trace *ContinuousTrace)
