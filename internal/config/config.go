// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platformbuilds/contprof/internal/profiler"
	"github.com/platformbuilds/contprof/internal/sampler"
)

// Config is the agent configuration file
type Config struct {
	Profiler      ProfilerConfig      `mapstructure:"profiler" yaml:"profiler"`
	SelfTelemetry SelfTelemetryConfig `mapstructure:"selfTelemetry" yaml:"selfTelemetry"`
	Log           LogConfig           `mapstructure:"log" yaml:"log"`
	Watch         WatchConfig         `mapstructure:"watch" yaml:"watch"`
}

// ProfilerConfig holds rotation and sampling settings
type ProfilerConfig struct {
	SampleInterval    time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	CollectInterval   time.Duration `mapstructure:"collect_interval" yaml:"collect_interval"`
	AllowProfiling    *bool         `mapstructure:"allow_profiling" yaml:"allow_profiling"`
	MaxStackDepth     int           `mapstructure:"max_stack_depth" yaml:"max_stack_depth"`
	SymbolCacheSize   int           `mapstructure:"symbol_cache_size" yaml:"symbol_cache_size"`
	MinSampleInterval time.Duration `mapstructure:"min_sample_interval" yaml:"min_sample_interval"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// SelfTelemetryConfig holds the metrics/health endpoint settings
type SelfTelemetryConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	NS     string `mapstructure:"prometheus_namespace" yaml:"prometheus_namespace"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Options returns the rotation controller options
func (p ProfilerConfig) Options() profiler.Options {
	return profiler.Options{
		SampleInterval:  p.SampleInterval,
		CollectInterval: p.CollectInterval,
	}
}

// Sampler returns the sampling engine configuration
func (p ProfilerConfig) Sampler() sampler.Config {
	return sampler.Config{
		AllowProfiling:    p.AllowProfiling == nil || *p.AllowProfiling,
		MaxStackDepth:     p.MaxStackDepth,
		SymbolCacheSize:   p.SymbolCacheSize,
		MinSampleInterval: p.MinSampleInterval,
	}
}

// SlogLevel parses the configured level, defaulting to info
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the agent logger. The level is read from level so it can
// be changed at runtime; format is "json" or "text".
func (l LogConfig) NewLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	level.Set(l.SlogLevel())
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Default returns the configuration used for unset fields
func Default() *Config {
	opts := profiler.DefaultOptions()
	smp := sampler.DefaultConfig()
	allow := smp.AllowProfiling
	return &Config{
		Profiler: ProfilerConfig{
			SampleInterval:    opts.SampleInterval,
			CollectInterval:   opts.CollectInterval,
			AllowProfiling:    &allow,
			MaxStackDepth:     smp.MaxStackDepth,
			SymbolCacheSize:   smp.SymbolCacheSize,
			MinSampleInterval: smp.MinSampleInterval,
			StopTimeout:       5 * time.Second,
		},
		SelfTelemetry: SelfTelemetryConfig{
			Listen: ":19090",
			NS:     "contprof",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Watch: WatchConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

// Load reads the YAML file at path and fills unset fields with defaults
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML configuration and applies defaults
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.applyDefaults(Default())
	return &c, nil
}

func (c *Config) applyDefaults(d *Config) {
	p := &c.Profiler
	if p.SampleInterval <= 0 {
		p.SampleInterval = d.Profiler.SampleInterval
	}
	if p.CollectInterval <= 0 {
		p.CollectInterval = d.Profiler.CollectInterval
	}
	if p.AllowProfiling == nil {
		p.AllowProfiling = d.Profiler.AllowProfiling
	}
	if p.MaxStackDepth <= 0 {
		p.MaxStackDepth = d.Profiler.MaxStackDepth
	}
	if p.SymbolCacheSize <= 0 {
		p.SymbolCacheSize = d.Profiler.SymbolCacheSize
	}
	if p.MinSampleInterval <= 0 {
		p.MinSampleInterval = d.Profiler.MinSampleInterval
	}
	if p.StopTimeout <= 0 {
		p.StopTimeout = d.Profiler.StopTimeout
	}
	if c.SelfTelemetry.Listen == "" {
		c.SelfTelemetry.Listen = d.SelfTelemetry.Listen
	}
	if c.SelfTelemetry.NS == "" {
		c.SelfTelemetry.NS = d.SelfTelemetry.NS
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = d.Watch.PollInterval
	}
}
