// Package backend implements providers for the data stores the router can
// front: PostgreSQL through pgx or database/sql, SQLite, and Redis.
//
// Opening a backend never dials. Connection problems surface from Connect,
// where the router counts them like any other failure, so a store that is
// down at startup is still routed around and later picked up by the probe.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"dataroute/internal/config"
	"dataroute/internal/provider"
)

// resetTimeout bounds the statement that undoes read-only mode on release.
const resetTimeout = 2 * time.Second

// Backend is a provider that holds pooled resources.
type Backend interface {
	provider.Provider
	io.Closer
}

// Open returns the backend for cfg.Kind.
func Open(ctx context.Context, cfg config.ProviderCfg) (Backend, error) {
	switch cfg.Kind {
	case config.KindPgx:
		p, err := NewPgx(ctx, cfg.Name, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.KindPostgres, config.KindSQLite:
		p, err := NewSQL(cfg.Name, cfg.Kind, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.KindRedis:
		p, err := NewRedis(cfg.Name, cfg.DSN, cfg.ClusterReadOnly)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("backend: provider %q: unknown kind %q", cfg.Name, cfg.Kind)
	}
}

// OpenAll opens every configured provider. If one fails, the ones already
// opened are closed again.
func OpenAll(ctx context.Context, cfgs []config.ProviderCfg) ([]Backend, error) {
	out := make([]Backend, 0, len(cfgs))
	for _, cfg := range cfgs {
		b, err := Open(ctx, cfg)
		if err != nil {
			_ = CloseAll(out)
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// CloseAll closes every backend and joins their errors.
func CloseAll(backends []Backend) error {
	var errs []error
	for _, b := range backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend: closing %q: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Providers narrows backends to the provider view used by the registry.
func Providers(backends []Backend) []provider.Provider {
	out := make([]provider.Provider, len(backends))
	for i, b := range backends {
		out[i] = b
	}
	return out
}
