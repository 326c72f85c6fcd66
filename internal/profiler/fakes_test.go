// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// manualClock is a Clock and Scheduler driven by Advance. Due callbacks run
// synchronously on the goroutine calling Advance.
type manualClock struct {
	mu     sync.Mutex
	origin time.Time
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock *manualClock
	at    time.Duration
	seq   int
	f     func()
	done  bool
}

func newManualClock(origin time.Time) *manualClock {
	return &manualClock{origin: origin}
}

func (c *manualClock) Origin() time.Time { return c.origin }

func (c *manualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, at: c.now + d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// pending returns the number of armed timers
func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing due timers in order
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}
		next.done = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

func (c *manualClock) nextDueLocked(target time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.done && t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at == due[j].at {
			return due[i].seq < due[j].seq
		}
		return due[i].at < due[j].at
	})
	return due[0]
}

// fakeEngine records every session it starts
type fakeEngine struct {
	mu          sync.Mutex
	unsupported bool
	startErr    error
	holdStops   bool
	stopErr     error
	events      []string
	sessions    []*fakeSession
	live        int
	maxLive     int
	configs     []EngineConfig
}

func (e *fakeEngine) Supported() bool { return !e.unsupported }

func (e *fakeEngine) Start(cfg EngineConfig) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return nil, e.startErr
	}
	s := &fakeSession{
		engine:   e,
		id:       len(e.sessions) + 1,
		cfg:      cfg,
		hold:     e.holdStops,
		stopErr:  e.stopErr,
		result:   make(chan StopResult, 1),
		handlers: make(map[int]func()),
	}
	e.sessions = append(e.sessions, s)
	e.configs = append(e.configs, cfg)
	e.events = append(e.events, "start")
	e.live++
	if e.live > e.maxLive {
		e.maxLive = e.live
	}
	return s, nil
}

func (e *fakeEngine) started() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *fakeEngine) session(i int) *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[i]
}

func (e *fakeEngine) liveSessions() (live, maxLive int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live, e.maxLive
}

func (e *fakeEngine) eventLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

type fakeSession struct {
	engine  *fakeEngine
	id      int
	cfg     EngineConfig
	hold    bool
	stopErr error

	mu       sync.Mutex
	stopped  bool
	result   chan StopResult
	handlers map[int]func()
	nextID   int
}

func (s *fakeSession) SampleInterval() time.Duration { return s.cfg.SampleInterval }

func (s *fakeSession) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *fakeSession) Stop() <-chan StopResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.result
	}
	s.stopped = true

	s.engine.mu.Lock()
	s.engine.live--
	s.engine.events = append(s.engine.events, "stop")
	s.engine.mu.Unlock()

	if !s.hold {
		s.resolveLocked()
	}
	return s.result
}

// release resolves a held stop
func (s *fakeSession) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveLocked()
}

func (s *fakeSession) resolveLocked() {
	if s.stopErr != nil {
		s.result <- StopResult{Err: s.stopErr}
		return
	}
	resource := 0
	line := 10 + s.id
	parent := 0
	stack := 1
	s.result <- StopResult{Trace: &Trace{
		Resources: []string{"main.go"},
		Frames: []Frame{
			{Name: "main", ResourceID: &resource, Line: &line},
			{Name: "work", ResourceID: &resource},
		},
		Stacks: []Stack{
			{FrameID: 0},
			{ParentID: &parent, FrameID: 1},
		},
		Samples: []Sample{
			{Timestamp: 0, StackID: &stack},
			{Timestamp: s.cfg.SampleInterval},
		},
	}}
}

func (s *fakeSession) Subscribe(kind EventKind, handler func()) func() {
	if kind != EventSampleBufferFull {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// listeners returns the currently subscribed buffer-full handlers
func (s *fakeSession) listeners() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(), 0, len(s.handlers))
	for _, h := range s.handlers {
		out = append(out, h)
	}
	return out
}

// fillBuffer emits the buffer-full notification to current subscribers
func (s *fakeSession) fillBuffer() {
	for _, h := range s.listeners() {
		h()
	}
}

// traceRecorder collects delivered traces
type traceRecorder struct {
	mu     sync.Mutex
	traces []*ContinuousTrace
}

func (r *traceRecorder) handle(t *ContinuousTrace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, t)
}

func (r *traceRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.traces)
}

func (r *traceRecorder) all() []*ContinuousTrace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ContinuousTrace(nil), r.traces...)
}

var errEngineBroken = errors.New("engine broken")
