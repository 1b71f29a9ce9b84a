package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataroute/internal/backend"
	"dataroute/internal/config"
	"dataroute/internal/metrics"
	"dataroute/internal/provider"
	"dataroute/internal/router"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func sqliteConfig(dir string) config.Config {
	return config.Config{
		Providers: []config.ProviderCfg{
			{Name: "m", Kind: config.KindSQLite, DSN: filepath.Join(dir, "m.db")},
			{Name: "a", Kind: config.KindSQLite, DSN: filepath.Join(dir, "a.db")},
		},
		Groups: []config.GroupCfg{{
			Name:          "main",
			Master:        "m",
			WriteReplicas: []config.ReplicaCfg{{Name: "a", Weight: 1}},
		}},
	}
}

func startDaemon(t *testing.T, cfg config.Config, sink metrics.Sink, prom *metrics.Prometheus) *daemon {
	t.Helper()
	d, err := newDaemon(context.Background(), cfg, sink, prom)
	require.NoError(t, err)
	d.retire = func(old *state) { _ = backend.CloseAll(old.backends) }
	t.Cleanup(func() { _ = d.close() })
	return d
}

func mainGroup(t *testing.T, d *daemon) *router.Group {
	t.Helper()
	g, ok := d.currentRouter().Group("main")
	require.True(t, ok)
	return g
}

// ── reload ───────────────────────────────────────────────────────────────────

func TestReload_KeepsDeadProvidersUntilProbed(t *testing.T) {
	cfg := sqliteConfig(t.TempDir())
	rec := &metrics.Recorder{}
	reg := prometheus.NewRegistry()
	prom := metrics.NewPrometheus(reg, "dataroute")
	d := startDaemon(t, cfg, metrics.Multi{rec, prom}, prom)

	before := mainGroup(t, d)
	require.True(t, before.Tracker().MarkDead("a"))

	require.NoError(t, d.reload(context.Background(), cfg))

	after := mainGroup(t, d)
	assert.NotSame(t, before, after)
	assert.Equal(t, []string{"a"}, after.Tracker().DeadProviders())

	conn, err := d.currentRouter().Obtain(context.Background(), "main", provider.Credentials{})
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.Equal(t, 1, rec.Count("main", "m", metrics.OutcomeSuccess), "writes fall back to the master")
	assert.Zero(t, rec.Count("main", "a", metrics.OutcomeSuccess))

	expected := `
# HELP dataroute_router_dead_providers Providers currently in the dead set.
# TYPE dataroute_router_dead_providers gauge
dataroute_router_dead_providers{group="main"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "dataroute_router_dead_providers"))
}

func TestReload_ChangedProviderStartsLive(t *testing.T) {
	dir := t.TempDir()
	cfg := sqliteConfig(dir)
	d := startDaemon(t, cfg, metrics.Nop{}, nil)
	require.True(t, mainGroup(t, d).Tracker().MarkDead("a"))

	next := sqliteConfig(dir)
	next.Providers[1].DSN = filepath.Join(dir, "a2.db")
	require.NoError(t, d.reload(context.Background(), next))

	assert.Empty(t, mainGroup(t, d).Tracker().DeadProviders())
}

func TestReload_AppliesProbeSettings(t *testing.T) {
	cfg := sqliteConfig(t.TempDir())
	d := startDaemon(t, cfg, metrics.Nop{}, nil)
	require.True(t, mainGroup(t, d).Tracker().MarkDead("a"))

	// Probing is off, so a reload alone keeps the provider dead.
	require.NoError(t, d.reload(context.Background(), cfg))
	assert.False(t, mainGroup(t, d).Tracker().IsLive("a"))

	cfg.Probe = config.ProbeCfg{Enabled: true, Interval: "1h", Timeout: "5s"}
	require.NoError(t, d.reload(context.Background(), cfg))

	g := mainGroup(t, d)
	assert.Eventually(t, func() bool { return g.Tracker().IsLive("a") },
		3*time.Second, 10*time.Millisecond, "the restarted monitor probes right away")
}

func TestReload_BuildFailureKeepsCurrentRouter(t *testing.T) {
	cfg := sqliteConfig(t.TempDir())
	d := startDaemon(t, cfg, metrics.Nop{}, nil)
	before := d.currentRouter()

	bad := cfg
	bad.Groups = []config.GroupCfg{{Name: "main", Master: "missing"}}
	assert.Error(t, d.reload(context.Background(), bad))
	assert.Same(t, before, d.currentRouter())
}
