// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"runtime"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platformbuilds/contprof/internal/profiler"
)

// frameInfo is a symbolized call site. One program counter may expand to
// several frames when calls were inlined.
type frameInfo struct {
	function string
	file     string
	line     int
}

// symbolizer resolves program counters, caching results across sessions
type symbolizer struct {
	cache *lru.Cache[uintptr, []frameInfo]
}

func (s *symbolizer) resolve(pc uintptr) []frameInfo {
	if frames, ok := s.cache.Get(pc); ok {
		return frames
	}

	var frames []frameInfo
	iter := runtime.CallersFrames([]uintptr{pc})
	for {
		f, more := iter.Next()
		name := f.Function
		if name == "" {
			name = "unknown"
		}
		frames = append(frames, frameInfo{function: name, file: f.File, line: f.Line})
		if !more {
			break
		}
	}

	s.cache.Add(pc, frames)
	return frames
}

// traceBuilder interns resources, frames and stack nodes for one trace
type traceBuilder struct {
	trace     *profiler.Trace
	resources map[string]int
	frames    map[frameInfo]int
	stacks    map[stackKey]int
}

type stackKey struct {
	parent int // -1 for roots
	frame  int
}

// build converts a sample buffer into an index-referenced trace
func (s *symbolizer) build(buf []tick, maxDepth int) *profiler.Trace {
	b := &traceBuilder{
		trace:     &profiler.Trace{},
		resources: make(map[string]int),
		frames:    make(map[frameInfo]int),
		stacks:    make(map[stackKey]int),
	}

	for _, t := range buf {
		if len(t.stacks) == 0 {
			b.trace.Samples = append(b.trace.Samples, profiler.Sample{Timestamp: t.at})
			continue
		}
		for _, pcs := range t.stacks {
			stackID := b.addStack(s, pcs, maxDepth)
			b.trace.Samples = append(b.trace.Samples, profiler.Sample{Timestamp: t.at, StackID: stackID})
		}
	}

	if b.trace.Resources == nil {
		b.trace.Resources = []string{}
	}
	return b.trace
}

// addStack interns a leaf-first program counter slice and returns the index
// of its leaf node
func (b *traceBuilder) addStack(s *symbolizer, pcs []uintptr, maxDepth int) *int {
	var expanded []frameInfo
	for _, pc := range pcs {
		expanded = append(expanded, s.resolve(pc)...)
	}
	if len(expanded) > maxDepth {
		expanded = expanded[:maxDepth]
	}
	if len(expanded) == 0 {
		return nil
	}

	parent := -1
	for i := len(expanded) - 1; i >= 0; i-- {
		frameID := b.addFrame(expanded[i])
		key := stackKey{parent: parent, frame: frameID}
		id, ok := b.stacks[key]
		if !ok {
			id = len(b.trace.Stacks)
			node := profiler.Stack{FrameID: frameID}
			if parent >= 0 {
				p := parent
				node.ParentID = &p
			}
			b.trace.Stacks = append(b.trace.Stacks, node)
			b.stacks[key] = id
		}
		parent = id
	}
	return &parent
}

func (b *traceBuilder) addFrame(f frameInfo) int {
	if id, ok := b.frames[f]; ok {
		return id
	}

	frame := profiler.Frame{Name: f.function}
	if f.file != "" {
		rid, ok := b.resources[f.file]
		if !ok {
			rid = len(b.trace.Resources)
			b.trace.Resources = append(b.trace.Resources, f.file)
			b.resources[f.file] = rid
		}
		frame.ResourceID = &rid
	}
	if f.line > 0 {
		line := f.line
		frame.Line = &line
	}

	id := len(b.trace.Frames)
	b.trace.Frames = append(b.trace.Frames, frame)
	b.frames[f] = id
	return id
}
