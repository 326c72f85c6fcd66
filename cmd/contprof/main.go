// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platformbuilds/contprof/internal/config"
	"github.com/platformbuilds/contprof/internal/profiler"
	"github.com/platformbuilds/contprof/internal/sampler"
	"github.com/platformbuilds/contprof/internal/selftelemetry"
	"github.com/platformbuilds/contprof/internal/version"
)

func main() {
	cfgPath := flag.String("config", "/etc/contprof/config.yaml", "path to config yaml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var level slog.LevelVar
	logger := cfg.Log.NewLogger(os.Stdout, &level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a := &agent{cfg: cfg, cfgPath: *cfgPath, log: logger, level: &level}
	if err := a.run(ctx); err != nil {
		logger.Error("contprof exited with error", "error", err)
		os.Exit(1)
	}
}

type agent struct {
	cfg     *config.Config
	cfgPath string
	log     *slog.Logger
	level   *slog.LevelVar

	// handler receives every collected trace; defaults to logging a summary
	handler profiler.TraceHandler
}

// run profiles the process and serves self-telemetry until ctx is done
func (a *agent) run(ctx context.Context) error {
	cfg := a.cfg
	a.log.Info("contprof starting", "version", version.Version(), "commit", version.Commit())

	st := selftelemetry.NewMetrics(cfg.SelfTelemetry.NS)
	st.SetBuildInfo(version.Version(), version.Commit(), version.BuildDate())

	pm, err := profiler.NewMetrics(cfg.SelfTelemetry.NS, st.Registry())
	if err != nil {
		return err
	}

	engine, err := sampler.New(cfg.Profiler.Sampler(), a.log)
	if err != nil {
		return err
	}

	handler := a.handler
	if handler == nil {
		handler = logTraces(a.log)
	}
	ctrl := profiler.New(engine, handler, cfg.Profiler.Options(), a.log, profiler.WithMetrics(pm))

	mux := http.NewServeMux()
	st.InstallHandlers(mux)
	ln, err := net.Listen("tcp", cfg.SelfTelemetry.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.SelfTelemetry.Listen, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("self-telemetry HTTP listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if cfg.Watch.Enabled && a.cfgPath != "" {
		w, err := config.NewWatcher(a.cfgPath, cfg.Watch.PollInterval, a.log)
		if err != nil {
			a.log.Warn("config watcher disabled", "error", err)
		} else {
			w.OnChange(func(c *config.Config) error {
				a.level.Set(c.Log.SlogLevel())
				a.log.Info("log level updated", "level", c.Log.SlogLevel().String())
				return nil
			})
			w.Start(gctx)
			defer w.Stop()
		}
	}

	if err := ctrl.Start(); err != nil {
		if !errors.Is(err, profiler.ErrUnsupportedEnvironment) {
			_ = srv.Close()
			_ = g.Wait()
			return err
		}
		a.log.Warn("profiling not available, serving self-telemetry only", "error", err)
	} else {
		st.SetReady(true)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("contprof shutting down")
		st.SetReady(false)

		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Profiler.StopTimeout)
		defer cancel()

		var errs []error
		if err := ctrl.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop profiler: %w", err))
		}
		if err := srv.Shutdown(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// hotFunctionCount bounds the per-trace function summary
const hotFunctionCount = 5

// logTraces summarizes each trace in the log
func logTraces(log *slog.Logger) profiler.TraceHandler {
	return func(trace *profiler.ContinuousTrace) {
		hot := trace.HotFunctions(hotFunctionCount)
		top := make([]string, 0, len(hot))
		for _, fc := range hot {
			top = append(top, fmt.Sprintf("%s=%d", fc.Name, fc.Self))
		}
		log.Info("trace collected",
			"start", trace.Start,
			"end", trace.End,
			"duration", trace.Duration(),
			"samples", trace.SampleCount(),
			"stacks", len(trace.Stacks),
			"frames", len(trace.Frames),
			"hot", top,
		)
	}
}
