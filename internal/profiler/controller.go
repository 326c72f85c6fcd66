// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnsupportedEnvironment is returned by Start when the sampling engine is
// not available or not permitted in this environment.
var ErrUnsupportedEnvironment = errors.New("continuous profiler: sampling engine not supported in this environment")

// Controller stitches bounded engine sessions into a continuous stream of
// traces. At most one engine session is alive at any time. A session is
// rotated when CollectInterval elapses or when the engine reports its sample
// buffer is full, whichever comes first.
type Controller struct {
	engine    Engine
	handler   TraceHandler
	opts      Options
	clock     Clock
	scheduler Scheduler
	metrics   *Metrics
	log       *slog.Logger

	mu      sync.Mutex
	session *session

	// serializes handler invocations
	deliverMu sync.Mutex
}

type session struct {
	engine      Session
	start       time.Duration
	timer       Timer
	unsubscribe func()
}

// Option customizes a Controller
type Option func(*Controller)

// WithClock overrides the monotonic clock
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithScheduler overrides the rotation scheduler
func WithScheduler(scheduler Scheduler) Option {
	return func(c *Controller) { c.scheduler = scheduler }
}

// WithMetrics records controller activity in m
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a stopped controller. handler is invoked once per completed
// session and never concurrently with itself. A handler must not wait on
// Stop, since Stop waits for the handler.
func New(engine Engine, handler TraceHandler, opts Options, log *slog.Logger, options ...Option) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if handler == nil {
		handler = func(*ContinuousTrace) {}
	}

	c := &Controller{
		engine:  engine,
		handler: handler,
		opts:    opts.withDefaults(),
		log:     log.With("component", "continuous_profiler"),
	}
	for _, o := range options {
		o(c)
	}

	if c.clock == nil || c.scheduler == nil {
		sys := SystemClock()
		if c.clock == nil {
			c.clock = sys
		}
		if c.scheduler == nil {
			c.scheduler = sys
		}
	}
	return c
}

// Options returns the effective options including derived defaults
func (c *Controller) Options() Options {
	return c.opts
}

// Supported reports whether the engine is available
func (c *Controller) Supported() bool {
	return c.engine != nil && c.engine.Supported()
}

// Stopped reports whether no session is running
func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == nil
}

// Start begins continuous profiling. Calling Start while a session is
// running does nothing.
func (c *Controller) Start() error {
	if !c.Supported() {
		return ErrUnsupportedEnvironment
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return nil
	}
	if err := c.startLocked(); err != nil {
		return err
	}

	c.log.Info("continuous profiling started",
		"sample_interval", c.opts.SampleInterval,
		"collect_interval", c.opts.CollectInterval,
		"max_buffer_size", c.opts.MaxBufferSize(),
	)
	return nil
}

// Stop ends the current session and waits until its trace has been handed
// to the handler, or until ctx is done. Delivery still happens if ctx
// expires first. Calling Stop while stopped returns immediately.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	done := c.stopLocked()
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startLocked starts a fresh engine session. c.mu must be held and the slot
// must be empty.
func (c *Controller) startLocked() error {
	start := c.clock.Now()

	es, err := c.engine.Start(c.opts.EngineConfig())
	if err != nil {
		c.metrics.startFailed()
		return fmt.Errorf("failed to start sampling engine: %w", err)
	}

	s := &session{engine: es, start: start}
	s.timer = c.scheduler.AfterFunc(c.opts.CollectInterval, func() {
		c.rotate(s, TriggerTimer)
	})
	s.unsubscribe = es.Subscribe(EventSampleBufferFull, func() {
		c.rotate(s, TriggerBufferFull)
	})
	c.session = s
	c.metrics.sessionStarted()

	if granted := es.SampleInterval(); granted != c.opts.SampleInterval {
		c.log.Debug("engine adjusted sample interval",
			"requested", c.opts.SampleInterval,
			"granted", granted,
		)
	}
	return nil
}

// stopLocked releases the slot and returns a channel closed once the
// session's trace has been delivered. c.mu must be held.
func (c *Controller) stopLocked() <-chan struct{} {
	done := make(chan struct{})

	s := c.session
	if s == nil {
		close(done)
		return done
	}

	result := s.engine.Stop()
	stopAt := c.clock.Now()

	s.timer.Stop()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	c.session = nil
	c.metrics.sessionStopped()

	go c.deliver(s.start, stopAt, result, done)
	return done
}

// deliver waits for the engine trace, anchors it to absolute time and hands
// it to the handler.
func (c *Controller) deliver(start, stopAt time.Duration, result <-chan StopResult, done chan<- struct{}) {
	defer close(done)

	res := <-result
	end := c.clock.Now()

	if res.Err != nil {
		c.metrics.stopFailed()
		c.log.Error("failed to collect session trace", "error", res.Err)
		return
	}
	if res.Trace == nil {
		res.Trace = &Trace{}
	}

	origin := c.clock.Origin()
	trace := &ContinuousTrace{
		Trace: *res.Trace,
		Start: origin.Add(start),
		End:   origin.Add(end),
	}

	c.deliverMu.Lock()
	c.handler(trace)
	c.deliverMu.Unlock()

	c.metrics.delivered(trace, end-stopAt)
	c.log.Debug("delivered session trace",
		"samples", trace.SampleCount(),
		"duration", trace.Duration(),
	)
}

// rotate replaces s with a fresh session. Triggers bound to a session that
// has already been replaced or stopped are ignored.
func (c *Controller) rotate(s *session, trigger string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s {
		return
	}

	c.stopLocked()
	c.metrics.rotated(trigger)

	if err := c.startLocked(); err != nil {
		c.log.Error("failed to start session after rotation, profiling stopped",
			"trigger", trigger,
			"error", err,
		)
		return
	}
	c.log.Debug("rotated profiling session", "trigger", trigger)
}
