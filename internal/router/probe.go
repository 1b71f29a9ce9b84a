package router

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"dataroute/internal/health"
	"dataroute/internal/metrics"
	"dataroute/internal/provider"
)

// Probe re-checks every provider in the group's dead set. A provider whose
// connection opens and answers a ping is revived; any other outcome leaves
// it dead. Providers are probed independently and concurrently, and no
// failure or panic escapes Probe.
func (g *Group) Probe(ctx context.Context) health.ProbeReport {
	report := health.ProbeReport{Group: g.name}

	dead := g.tracker.DeadProviders()
	if len(dead) == 0 {
		return report
	}

	revived := make([]bool, len(dead))
	var eg errgroup.Group
	eg.SetLimit(g.probeConcurrency)
	for i, name := range dead {
		eg.Go(func() error {
			revived[i] = g.probeOne(ctx, name)
			return nil
		})
	}
	_ = eg.Wait()

	for i, name := range dead {
		if revived[i] {
			report.Recovered = append(report.Recovered, name)
		} else if !g.tracker.IsLive(name) {
			report.StillDead = append(report.StillDead, name)
		}
	}
	return report
}

func (g *Group) probeOne(ctx context.Context, name string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("router: probe panicked", "group", g.name, "target", name, "panic", r)
			ok = false
		}
	}()

	p, found := g.providers[name]
	if !found {
		return false
	}

	conn, err := p.Connect(ctx, provider.Credentials{})
	if err != nil {
		slog.Debug("router: probe failed", "group", g.name, "target", name, "error", err)
		return false
	}
	err = conn.Ping(ctx)
	if cerr := conn.Close(); cerr != nil {
		slog.Debug("router: closing probe connection", "group", g.name, "target", name, "error", cerr)
	}
	if err != nil {
		slog.Debug("router: probe ping failed", "group", g.name, "target", name, "error", err)
		return false
	}

	if !g.tracker.Revive(name) {
		return false
	}
	slog.Warn("router: provider recovered", "group", g.name, "target", name)
	g.sink.Emit(metrics.NewEvent(g.name, name, metrics.OutcomeRecovered, metrics.ModeProbe))
	return true
}
