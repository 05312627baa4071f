package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vg-engine/vg/engine"
	"github.com/vg-engine/vg/frontend"
	"github.com/vg-engine/vg/frontend/headless"
	"github.com/vg-engine/vg/frontend/tui"
	"github.com/vg-engine/vg/internal/config"
	"github.com/vg-engine/vg/runtime"
	_ "github.com/vg-engine/vg/runtime/wazero"
)

// host is everything a run needs besides the guest images.
type host struct {
	backend  runtime.Backend
	frontend frontend.Frontend
	engine   *engine.Engine

	// done is closed when the user quits the frontend. Nil for frontends
	// without a quit action.
	done    <-chan struct{}
	closers []func() error
}

func addHostFlags(f *pflag.FlagSet) {
	f.String("frontend", config.FrontendAuto, "frontend: auto, headless or tui")
	f.Float64("fps", 60, "frame rate cap, 0 for none")
	f.Uint64("ticks", 0, "stop after this many ticks, 0 for no limit")
	f.String("metrics-addr", "", "serve prometheus metrics on this address, e.g. :9090")
}

// frontendName resolves the auto frontend.
func (a *app) frontendName() string {
	name := a.cfg.Frontend
	if name == config.FrontendAuto {
		name = "headless"
		if tui.IsTerminal(os.Stdout.Fd()) {
			name = "tui"
		}
	}
	return name
}

func (a *app) startHost() (_ *host, err error) {
	h := &host{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, h.Close())
		}
	}()

	switch a.frontendName() {
	case "tui":
		// The terminal belongs to the game now.
		logPath := filepath.Join(os.TempDir(), "vg.log")
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, logFile.Close)
		a.logger.Info("logging to file while the terminal frontend runs", zap.String("path", logPath))
		if a.logger, err = newLogger(a.cfg.LogLevel, logFile); err != nil {
			return nil, err
		}

		t, err := tui.New()
		if err != nil {
			return nil, err
		}
		t.Start()
		h.frontend, h.done = t, t.Done()
		h.closers = append(h.closers, t.Close)
	default:
		h.frontend = headless.New(
			headless.WithLogger(a.logger.Named("frontend")),
			headless.WithConsole(a.stdout),
		)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if a.cfg.MetricsAddr != "" {
		stop, err := a.serveMetrics(reg)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, stop)
	}

	rcfg := a.cfg.Runtime
	rcfg.Logger = a.logger.Named("runtime")
	h.backend, err = runtime.New(a.cfg.Backend, &rcfg)
	if err != nil {
		return nil, err
	}
	h.closers = append(h.closers, func() error { return h.backend.Close(context.Background()) })

	h.engine, err = engine.New(h.backend, h.frontend, a.cfg.Engine,
		engine.WithLogger(a.logger.Named("engine")),
		engine.WithMetrics(engine.NewMetrics(reg)),
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// context returns a context that also ends when the user quits.
func (h *host) context(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	if h.done != nil {
		go func() {
			select {
			case <-h.done:
				cancel()
			case <-ctx.Done():
			}
		}()
	}
	return ctx, cancel
}

// Close releases everything in reverse order of acquisition.
func (h *host) Close() error {
	var err error
	for i := len(h.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, h.closers[i]())
	}
	h.closers = nil
	return err
}

func (a *app) serveMetrics(reg *prometheus.Registry) (func() error, error) {
	ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}, nil
}
