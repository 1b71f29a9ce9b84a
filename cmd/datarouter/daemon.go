package main

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dataroute/internal/backend"
	"dataroute/internal/config"
	"dataroute/internal/health"
	"dataroute/internal/logging"
	"dataroute/internal/metrics"
	"dataroute/internal/provider"
	"dataroute/internal/router"
)

// state is everything rebuilt on a config reload.
type state struct {
	backends  []backend.Backend
	router    *router.Router
	providers map[string]config.ProviderCfg
}

// daemon holds the running state and swaps it on reload.
type daemon struct {
	sink metrics.Sink
	prom *metrics.Prometheus // nil when metrics are disabled

	current atomic.Pointer[state]

	// retire disposes of a replaced state.
	retire func(old *state)

	mu      sync.Mutex
	probe   config.ProbeCfg
	monitor *health.Monitor
}

func newDaemon(ctx context.Context, cfg config.Config, sink metrics.Sink, prom *metrics.Prometheus) (*daemon, error) {
	st, err := build(ctx, cfg, sink)
	if err != nil {
		return nil, err
	}
	d := &daemon{
		sink: sink,
		prom: prom,
		retire: func(old *state) {
			time.AfterFunc(retireDelay, func() {
				if err := backend.CloseAll(old.backends); err != nil {
					slog.Warn("hot-reload: closing retired backends", "error", err)
				}
			})
		},
		probe: cfg.Probe,
	}
	d.current.Store(st)
	d.monitor = startMonitor(cfg.Probe, st.router.Probers())
	return d, nil
}

func (d *daemon) currentRouter() *router.Router { return d.current.Load().router }

// reload builds a router for cfg and swaps it in. Dead providers whose
// configuration did not change stay dead until probed. The monitor is
// restarted when the probe settings change.
func (d *daemon) reload(ctx context.Context, cfg config.Config) error {
	next, err := build(ctx, cfg, d.sink)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	old := d.current.Load()
	carried := next.router.InheritDead(old.router, func(name string) bool {
		return old.providers[name] == next.providers[name]
	})

	logging.SetLevel(cfg.Log)
	if d.prom != nil {
		d.prom.ResetDead()
		for _, g := range next.router.Groups() {
			if n := len(g.Tracker().DeadProviders()); n > 0 {
				d.prom.SetDead(g.Name(), n)
			}
		}
	}

	d.current.Store(next)
	if cfg.Probe != d.probe {
		d.monitor.Stop()
		d.monitor = startMonitor(cfg.Probe, next.router.Probers())
		d.probe = cfg.Probe
		slog.Info("hot-reload: probe settings applied",
			"enabled", cfg.Probe.Enabled,
			"interval", cfg.Probe.ParsedInterval().String(),
			"timeout", cfg.Probe.ParsedTimeout().String(),
		)
	} else {
		d.monitor.UpdateProbers(next.router.Probers())
	}
	d.retire(old)

	slog.Info("hot-reload applied",
		"providers", len(cfg.Providers),
		"groups", len(cfg.Groups),
		"dead_carried_over", carried,
	)
	return nil
}

// close stops probing and closes the current backends.
func (d *daemon) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.monitor.Stop()
	return backend.CloseAll(d.current.Load().backends)
}

func startMonitor(cfg config.ProbeCfg, probers []health.Prober) *health.Monitor {
	m := health.NewMonitor(probers, health.Config{
		Interval: cfg.ParsedInterval(),
		Timeout:  cfg.ParsedTimeout(),
	})
	if cfg.Enabled {
		m.Start()
	}
	return m
}

// build opens the configured backends and wires them into a router.
func build(ctx context.Context, cfg config.Config, sink metrics.Sink) (*state, error) {
	bs, err := backend.OpenAll(ctx, cfg.Providers)
	if err != nil {
		return nil, err
	}
	reg, err := provider.NewRegistry(backend.Providers(bs)...)
	if err != nil {
		_ = backend.CloseAll(bs)
		return nil, err
	}
	rt, err := router.FromConfig(cfg, reg, sink)
	if err != nil {
		_ = backend.CloseAll(bs)
		return nil, err
	}
	providers := make(map[string]config.ProviderCfg, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providers[pc.Name] = pc
	}
	return &state{backends: bs, router: rt, providers: providers}, nil
}
