// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package profiler

import (
	"math"
	"time"
)

const (
	// DefaultSampleInterval is used when Options.SampleInterval is unset
	DefaultSampleInterval = 10 * time.Millisecond

	// DefaultCollectInterval is used when Options.CollectInterval is unset
	DefaultCollectInterval = 10 * time.Second

	// bufferSlack absorbs scheduler jitter so the buffer rarely fills before
	// the collect interval elapses.
	bufferSlack = 1.5
)

// Options holds the rotation controller configuration
type Options struct {
	// SampleInterval is the time between samples
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`

	// CollectInterval is the time between scheduled rotations
	CollectInterval time.Duration `mapstructure:"collect_interval" yaml:"collect_interval"`
}

// DefaultOptions returns default controller options
func DefaultOptions() Options {
	return Options{
		SampleInterval:  DefaultSampleInterval,
		CollectInterval: DefaultCollectInterval,
	}
}

// withDefaults replaces unset or non-positive intervals with defaults
func (o Options) withDefaults() Options {
	if o.SampleInterval <= 0 {
		o.SampleInterval = DefaultSampleInterval
	}
	if o.CollectInterval <= 0 {
		o.CollectInterval = DefaultCollectInterval
	}
	return o
}

// MaxBufferSize is the number of samples an engine session must be able to
// hold: round(CollectInterval * 1.5 / SampleInterval).
func (o Options) MaxBufferSize() int {
	o = o.withDefaults()
	return int(math.Round(float64(o.CollectInterval) * bufferSlack / float64(o.SampleInterval)))
}

// EngineConfig returns the per-session engine configuration
func (o Options) EngineConfig() EngineConfig {
	o = o.withDefaults()
	return EngineConfig{
		SampleInterval: o.SampleInterval,
		MaxBufferSize:  o.MaxBufferSize(),
	}
}
