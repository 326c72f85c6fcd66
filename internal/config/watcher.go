// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WatchConfig controls polling of the config file for changes
type WatchConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ChangeHandler is called with the parsed configuration after the file changes
type ChangeHandler func(cfg *Config) error

// Watcher polls a configuration file and notifies handlers when its content
// changes. Only the log section is reloadable at runtime; profiler settings
// take effect on restart.
type Watcher struct {
	path     string
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	handlers []ChangeHandler
	hash     [32]byte
	modTime  time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for path
func NewWatcher(path string, interval time.Duration, log *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid poll interval %v", interval)
	}
	if log == nil {
		log = slog.Default()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	w := &Watcher{
		path:     abs,
		interval: interval,
		log:      log.With("component", "config_watcher"),
		stopCh:   make(chan struct{}),
	}

	data, info, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("failed to read initial config: %w", err)
	}
	w.hash = sha256.Sum256(data)
	w.modTime = info.ModTime()

	return w, nil
}

// OnChange registers a handler
func (w *Watcher) OnChange(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Path returns the watched file
func (w *Watcher) Path() string {
	return w.path
}

// Start begins polling until ctx is done or Stop is called
func (w *Watcher) Start(ctx context.Context) {
	w.log.Info("starting config watcher", "path", w.path, "interval", w.interval)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				if err := w.Reload(); err != nil {
					w.log.Warn("error checking for config changes", "error", err)
				}
			}
		}
	}()
}

// Stop halts polling and waits for the poll loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Reload checks the file immediately and notifies handlers if its content
// changed
func (w *Watcher) Reload() error {
	data, info, err := w.read()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if info.ModTime().Equal(w.modTime) {
		w.mu.Unlock()
		return nil
	}
	hash := sha256.Sum256(data)
	changed := hash != w.hash
	w.hash = hash
	w.modTime = info.ModTime()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()

	if !changed {
		return nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}

	w.log.Info("config file changed, reloading")
	for _, h := range handlers {
		if err := h(cfg); err != nil {
			w.log.Warn("config change handler failed", "error", err)
		}
	}
	return nil
}

func (w *Watcher) read() ([]byte, os.FileInfo, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}
	return data, info, nil
}
