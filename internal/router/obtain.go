package router

import (
	"context"
	"fmt"
	"log/slog"

	"dataroute/internal/metrics"
	"dataroute/internal/provider"
)

// Obtain returns a connection from a live provider of the group.
//
// Read-only contexts (see WithReadOnly) try the read replicas first and get a
// read-only connection. Otherwise, or when no read replica is usable, the
// write rotation is used, and when that has nothing usable either the master
// is used regardless of its health.
//
// A failed attempt is counted against the provider and retried, possibly on
// another provider, until MaxAttempts attempts have been made. The error of
// the last attempt is then returned unwrapped. ErrNoBackendAvailable is
// returned when there is nothing left to try.
//
// Once ctx is done no further attempt is made, and an attempt that fails
// because ctx is done is not counted against the provider.
func (g *Group) Obtain(ctx context.Context, creds provider.Credentials) (provider.Conn, error) {
	mode := metrics.ModeWrite
	if IsReadOnly(ctx) {
		mode = metrics.ModeRead
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target, ok := g.choose(mode == metrics.ModeRead)
		if !ok {
			if lastErr != nil {
				return nil, fmt.Errorf("%w: group %q: %w", ErrNoBackendAvailable, g.name, lastErr)
			}
			return nil, fmt.Errorf("%w: group %q", ErrNoBackendAvailable, g.name)
		}

		conn, err := g.attempt(ctx, target, mode, creds)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		slog.Error("router: connection attempt failed",
			"group", g.name,
			"target", target,
			"mode", string(mode),
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"error", err,
		)
	}
	return nil, lastErr
}

// choose picks the target for one attempt.
func (g *Group) choose(readOnly bool) (string, bool) {
	if readOnly && g.read != nil {
		if name, err := g.read.Pick(g.tracker.IsLive); err == nil {
			return name, true
		}
	}
	if g.write != nil {
		if name, err := g.write.Pick(g.tracker.IsLive); err == nil {
			return name, true
		}
	}
	if g.master != "" {
		return g.master, true
	}
	return "", false
}

// attempt opens one connection and records the outcome.
func (g *Group) attempt(ctx context.Context, target string, mode metrics.Mode, creds provider.Credentials) (provider.Conn, error) {
	conn, err := g.providers[target].Connect(ctx, creds)
	if err == nil && mode == metrics.ModeRead {
		if err = conn.SetReadOnly(ctx); err != nil {
			_ = conn.Close()
			conn = nil
		}
	}
	if err != nil {
		// The caller gave up; the provider did not fail.
		if ctx.Err() == nil {
			g.recordFailure(target, mode)
		}
		return nil, err
	}

	g.tracker.RecordSuccess(target)
	g.sink.Emit(metrics.NewEvent(g.name, target, metrics.OutcomeSuccess, mode))
	slog.Debug("router: connection obtained", "group", g.name, "target", target, "mode", string(mode))
	return conn, nil
}

func (g *Group) recordFailure(target string, mode metrics.Mode) {
	g.sink.Emit(metrics.NewEvent(g.name, target, metrics.OutcomeFailed, mode))
	if !g.tracker.RecordFailure(target) {
		return
	}
	slog.Error("router: provider down",
		"group", g.name,
		"target", target,
		"threshold", g.tracker.Threshold(),
	)
	g.sink.Emit(metrics.NewEvent(g.name, target, metrics.OutcomeDown, mode))
}
