// Package admin serves the router's status and maintenance HTTP API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dataroute/internal/config"
	"dataroute/internal/middleware"
	"dataroute/internal/provider"
	"dataroute/internal/router"
)

// Server is the admin HTTP server. It reads the router through current on
// every request, so a hot-reloaded router is picked up without a restart.
type Server struct {
	current   func() *router.Router
	startTime time.Time
	version   string

	limiter *middleware.RateLimiter
	handler http.Handler
	srv     *http.Server
}

// New creates an admin Server. A nil gatherer leaves /metrics unregistered.
// Call Start to begin listening.
func New(
	cfg config.AdminCfg,
	current func() *router.Router,
	gatherer prometheus.Gatherer,
	startTime time.Time,
	version string,
) *Server {
	s := &Server{
		current:   current,
		startTime: startTime,
		version:   version,
	}

	r := mux.NewRouter()
	r.Use(middleware.Logger)
	if cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		r.Use(s.limiter.Middleware)
	}
	if cfg.Auth.Enabled {
		r.Use(middleware.JWTAuth(cfg.Auth.Secret, cfg.Auth.Exclude))
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/groups", s.handleListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups/{group}", s.handleGetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{group}/probe", s.handleProbe).Methods(http.MethodPost)
	api.HandleFunc("/groups/{group}/check", s.handleCheck).Methods(http.MethodPost)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	s.handler = r
	s.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening in a background goroutine. It returns immediately.
func (s *Server) Start() {
	go func() {
		slog.Info("admin: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin: server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server within the given context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.srv.Shutdown(ctx)
}

// ── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, healthOf(s.current(), s.startTime, s.version))
}

func (s *Server) handleListGroups(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, groupStatuses(s.current()))
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	jsonOK(w, g.Status())
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	report := g.Probe(r.Context())
	slog.Info("admin: probe requested",
		"group", g.Name(),
		"recovered", len(report.Recovered),
		"still_dead", len(report.StillDead),
		"subject", middleware.Subject(r.Context()),
	)
	jsonOK(w, report)
}

// handleCheck obtains a connection through the router the way an
// application would, pings it and hands it back.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}

	mode := r.URL.Query().Get("mode")
	ctx := r.Context()
	switch mode {
	case "", "write":
		mode = "write"
	case "read":
		ctx = router.WithReadOnly(ctx)
	default:
		jsonErr(w, "mode must be read or write", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp := checkResponse{Group: g.Name(), Mode: mode}
	err := checkConn(ctx, g)
	resp.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	resp.OK = true
	jsonOK(w, resp)
}

func checkConn(ctx context.Context, g *router.Group) error {
	conn, err := g.Obtain(ctx, provider.Credentials{})
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Ping(ctx)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func (s *Server) group(w http.ResponseWriter, r *http.Request) (*router.Group, bool) {
	name := mux.Vars(r)["group"]
	g, ok := s.current().Group(name)
	if !ok {
		jsonErr(w, "unknown group "+name, http.StatusNotFound)
	}
	return g, ok
}

func jsonOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
