// Command datarouter runs the data-source router daemon: it opens every
// configured backend, builds the routing groups, re-checks dead providers in
// the background and serves the admin API.
//
// Usage:
//
//	datarouter [-config path/to/dataroute.yaml]
//
// Editing dataroute.yaml while the process runs rebuilds backends and groups
// and swaps them in; the previous backends are closed after a grace period.
// Send SIGINT or SIGTERM for a graceful shutdown.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"dataroute/internal/admin"
	"dataroute/internal/config"
	"dataroute/internal/logging"
	"dataroute/internal/metrics"
)

// Version information, set at build time via -ldflags.
//
//	-X main.version=$(git describe --tags --always)
var version = "dev"

// retireDelay is how long replaced backends stay open after a hot reload so
// connections already handed out can finish.
const retireDelay = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/dataroute.yaml", "path to dataroute.yaml")
	flag.Parse()

	// A .env file next to the binary may carry DATAROUTE_* overrides.
	_ = godotenv.Load()

	startTime := time.Now()

	// ── Load initial configuration ────────────────────────────────────────────
	cfg, v, err := config.Load(*configPath)
	logging.Setup(os.Stdout, cfg.Log)
	if err != nil {
		slog.Warn("could not load config file, using defaults",
			"path", *configPath,
			"error", err,
		)
		cfg = config.Default()
		logging.Setup(os.Stdout, cfg.Log)
		v = nil
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	var gatherer prometheus.Gatherer
	var prom *metrics.Prometheus
	sink := metrics.Multi{metrics.Log{}}
	if cfg.Metrics.Enabled {
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		prom = metrics.NewPrometheus(promReg, cfg.Metrics.Namespace)
		sink = append(sink, prom)
		gatherer = promReg
	}

	// ── Build runtime objects ─────────────────────────────────────────────────
	ctx := context.Background()
	d, err := newDaemon(ctx, cfg, sink, prom)
	if err != nil {
		slog.Error("failed to initialise router", "error", err)
		os.Exit(1)
	}

	// ── Hot-reload ────────────────────────────────────────────────────────────
	if v != nil {
		config.Watch(v, func(newCfg config.Config) {
			if err := d.reload(ctx, newCfg); err != nil {
				slog.Error("hot-reload: rebuilding router failed", "error", err)
			}
		})
	}

	// ── Admin API ─────────────────────────────────────────────────────────────
	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.New(cfg.Admin, d.currentRouter, gatherer, startTime, version)
		adminSrv.Start()
	}

	slog.Info("datarouter started",
		"providers", len(cfg.Providers),
		"groups", len(cfg.Groups),
		"probe", cfg.Probe.Enabled,
		"probe_interval", cfg.Probe.ParsedInterval().String(),
		"metrics", cfg.Metrics.Enabled,
		"admin", cfg.Admin.Enabled,
		"version", version,
	)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down datarouter")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if adminSrv != nil {
		if err := adminSrv.Stop(shutdownCtx); err != nil {
			slog.Error("admin server forced shutdown", "error", err)
		}
	}
	if err := d.close(); err != nil {
		slog.Error("closing backends", "error", err)
	}

	slog.Info("datarouter stopped")
}
