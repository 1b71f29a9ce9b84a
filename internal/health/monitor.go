// Package health owns per-provider liveness state and the schedule on which
// dead providers are re-checked.
//
// Tracker is the passive half: the router records every connection outcome
// in it and consults it before each pick. Monitor is the active half: it
// periodically asks every registered Prober to re-check its dead providers.
// Monitor knows when to probe; what a probe does is up to the Prober.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeReport summarises one probe pass over a group's dead set.
type ProbeReport struct {
	Group     string   `json:"group"`
	Recovered []string `json:"recovered"`
	StillDead []string `json:"still_dead"`
}

// Prober re-checks dead providers. Probe must not panic or block forever;
// it reports results instead of returning errors.
type Prober interface {
	Probe(ctx context.Context) ProbeReport
}

// Config holds the parameters for the monitor.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration // per pass; zero means no deadline
}

// Monitor periodically runs every registered Prober. It is safe to call
// UpdateProbers while the monitor is running.
type Monitor struct {
	cfg Config

	mu      sync.RWMutex
	probers []Prober

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor but does not start it; call Start to begin probing.
func NewMonitor(probers []Prober, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Monitor{
		cfg:     cfg,
		probers: probers,
	}
}

// Start begins the background loop. One pass runs immediately so providers
// marked dead before startup are not left waiting a full interval.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				m.RunOnce(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the background goroutine and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// UpdateProbers atomically replaces the prober list (e.g. on config hot-reload).
func (m *Monitor) UpdateProbers(probers []Prober) {
	m.mu.Lock()
	m.probers = probers
	m.mu.Unlock()
}

// RunOnce runs every prober concurrently and waits for all of them.
func (m *Monitor) RunOnce(ctx context.Context) []ProbeReport {
	m.mu.RLock()
	probers := m.probers
	m.mu.RUnlock()

	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	reports := make([]ProbeReport, len(probers))
	var wg sync.WaitGroup
	for i, p := range probers {
		wg.Add(1)
		go func(i int, p Prober) {
			defer wg.Done()
			reports[i] = m.run(ctx, p)
		}(i, p)
	}
	wg.Wait()
	return reports
}

// run shields the loop from a misbehaving prober.
func (m *Monitor) run(ctx context.Context, p Prober) (report ProbeReport) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("health: prober panicked", "panic", r)
		}
	}()

	report = p.Probe(ctx)
	if len(report.Recovered) > 0 || len(report.StillDead) > 0 {
		slog.Debug("health: probe pass finished",
			"group", report.Group,
			"recovered", len(report.Recovered),
			"still_dead", len(report.StillDead),
		)
	}
	return report
}
