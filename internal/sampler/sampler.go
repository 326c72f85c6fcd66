// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package sampler implements a bounded goroutine stack sampling engine for
// the continuous profiler.
package sampler

import (
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/platformbuilds/contprof/internal/profiler"
)

// Config holds sampler configuration
type Config struct {
	// AllowProfiling gates the engine. When false the engine reports itself
	// unsupported and refuses to start sessions.
	AllowProfiling bool `mapstructure:"allow_profiling" yaml:"allow_profiling"`

	// MaxStackDepth truncates captured stacks, keeping the innermost frames
	MaxStackDepth int `mapstructure:"max_stack_depth" yaml:"max_stack_depth"`

	// SymbolCacheSize bounds the number of cached program counters
	SymbolCacheSize int `mapstructure:"symbol_cache_size" yaml:"symbol_cache_size"`

	// MinSampleInterval is the finest interval the engine will grant
	MinSampleInterval time.Duration `mapstructure:"min_sample_interval" yaml:"min_sample_interval"`
}

// DefaultConfig returns default sampler configuration
func DefaultConfig() Config {
	return Config{
		AllowProfiling:    true,
		MaxStackDepth:     64,
		SymbolCacheSize:   4096,
		MinSampleInterval: time.Millisecond,
	}
}

// Engine samples the stacks of all goroutines in the current process
type Engine struct {
	cfg     Config
	log     *slog.Logger
	symbols *symbolizer
	active  atomic.Int32
}

// New creates a sampling engine
func New(cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxStackDepth <= 0 {
		cfg.MaxStackDepth = DefaultConfig().MaxStackDepth
	}
	if cfg.SymbolCacheSize <= 0 {
		cfg.SymbolCacheSize = DefaultConfig().SymbolCacheSize
	}
	if cfg.MinSampleInterval <= 0 {
		cfg.MinSampleInterval = DefaultConfig().MinSampleInterval
	}

	cache, err := lru.New[uintptr, []frameInfo](cfg.SymbolCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create symbol cache: %w", err)
	}

	return &Engine{
		cfg:     cfg,
		log:     log.With("component", "goroutine_sampler"),
		symbols: &symbolizer{cache: cache},
	}, nil
}

// Supported reports whether profiling is permitted
func (e *Engine) Supported() bool {
	return e.cfg.AllowProfiling
}

// ActiveSessions returns the number of sessions that are sampling
func (e *Engine) ActiveSessions() int {
	return int(e.active.Load())
}

// Start begins a sampling session
func (e *Engine) Start(cfg profiler.EngineConfig) (profiler.Session, error) {
	if !e.Supported() {
		return nil, profiler.ErrUnsupportedEnvironment
	}
	if cfg.MaxBufferSize <= 0 {
		return nil, fmt.Errorf("invalid sample buffer size %d", cfg.MaxBufferSize)
	}

	interval := cfg.SampleInterval
	if interval < e.cfg.MinSampleInterval {
		interval = e.cfg.MinSampleInterval
	}

	s := &session{
		engine:   e,
		interval: interval,
		capacity: cfg.MaxBufferSize,
		started:  time.Now(),
		stopCh:   make(chan struct{}),
		result:   make(chan profiler.StopResult, 1),
		handlers: make(map[int]func()),
	}
	e.active.Add(1)
	go s.run()
	return s, nil
}

// tick is one entry of the sample buffer: the stacks of every goroutine
// observed at a single instant
type tick struct {
	at     time.Duration
	stacks [][]uintptr
}

type session struct {
	engine   *Engine
	interval time.Duration
	capacity int
	started  time.Time

	stopOnce sync.Once
	stopped  atomic.Bool
	stopCh   chan struct{}
	result   chan profiler.StopResult

	mu       sync.Mutex
	handlers map[int]func()
	nextID   int
}

func (s *session) SampleInterval() time.Duration { return s.interval }

func (s *session) Stopped() bool { return s.stopped.Load() }

func (s *session) Stop() <-chan profiler.StopResult {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
	})
	return s.result
}

func (s *session) Subscribe(kind profiler.EventKind, handler func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind != profiler.EventSampleBufferFull || handler == nil {
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.handlers[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *session) notifyBufferFull() {
	s.mu.Lock()
	handlers := make([]func(), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		go h()
	}
}

// run samples until stopped, then assembles and publishes the trace
func (s *session) run() {
	defer s.engine.active.Add(-1)

	buf := make([]tick, 0, min(s.capacity, 1024))
	records := make([]runtime.StackRecord, 64)
	full := false

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	record := func() {
		buf = append(buf, s.capture(&records))
		if len(buf) >= s.capacity {
			full = true
			ticker.Stop()
			s.engine.log.Debug("sample buffer full", "ticks", len(buf))
			s.notifyBufferFull()
		}
	}

	record()
loop:
	for {
		select {
		case <-s.stopCh:
			break loop
		case <-ticker.C:
			if !full {
				record()
			}
		}
	}

	trace := s.engine.symbols.build(buf, s.engine.cfg.MaxStackDepth)
	s.result <- profiler.StopResult{Trace: trace}
}

// capture records the stacks of all goroutines except the sampler itself
func (s *session) capture(records *[]runtime.StackRecord) tick {
	at := time.Since(s.started)

	var n int
	for {
		var ok bool
		n, ok = runtime.GoroutineProfile(*records)
		if ok {
			break
		}
		*records = make([]runtime.StackRecord, n+n/4+8)
	}

	t := tick{at: at, stacks: make([][]uintptr, 0, n)}
	for i := 0; i < n; i++ {
		stack := (*records)[i].Stack()
		if len(stack) == 0 || isSampler(stack) {
			continue
		}
		t.stacks = append(t.stacks, append([]uintptr(nil), stack...))
	}
	return t
}

// samplerFunc is the name of the sampling loop, used to hide sampler
// goroutines from traces
var samplerFunc string

func init() {
	samplerFunc = runtime.FuncForPC(reflect.ValueOf((*session).run).Pointer()).Name()
}

func isSampler(stack []uintptr) bool {
	for _, pc := range stack {
		if fn := runtime.FuncForPC(pc); fn != nil && fn.Name() == samplerFunc {
			return true
		}
	}
	return false
}
