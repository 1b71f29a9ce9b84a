package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"dataroute/internal/provider"
)

// RedisProvider hands out dedicated connections from a go-redis client pool.
type RedisProvider struct {
	name            string
	opts            *redis.Options
	client          *redis.Client
	clusterReadOnly bool
}

// NewRedis parses a redis:// URL and creates the client without connecting.
// With clusterReadOnly set, read-only connections issue READONLY so a
// cluster replica serves reads.
func NewRedis(name, dsn string, clusterReadOnly bool) (*RedisProvider, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: parsing redis url: %w", name, err)
	}
	return &RedisProvider{
		name:            name,
		opts:            opts,
		client:          redis.NewClient(opts),
		clusterReadOnly: clusterReadOnly,
	}, nil
}

func (p *RedisProvider) Name() string { return p.name }

// Connect checks out a connection and pings it, since go-redis dials lazily.
// Explicit credentials get a single-connection client of their own so AUTH
// state never leaks back into the shared pool.
func (p *RedisProvider) Connect(ctx context.Context, creds provider.Credentials) (provider.Conn, error) {
	client, owned := p.client, false
	if !creds.IsZero() {
		opts := *p.opts
		opts.Username = creds.Username
		opts.Password = creds.Password
		opts.PoolSize = 1
		client, owned = redis.NewClient(&opts), true
	}

	conn := client.Conn()
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		if owned {
			_ = client.Close()
		}
		return nil, fmt.Errorf("backend: %s: connecting: %w", p.name, err)
	}

	rc := &RedisConn{conn: conn, clusterReadOnly: p.clusterReadOnly}
	if owned {
		rc.owner = client
	}
	return rc, nil
}

func (p *RedisProvider) Close() error { return p.client.Close() }

// RedisConn is a connection handed out by RedisProvider.
type RedisConn struct {
	conn            *redis.Conn
	owner           *redis.Client
	clusterReadOnly bool
	readOnly        bool
	closed          atomic.Bool
}

// Conn exposes the underlying connection. It must not be used after Close.
func (c *RedisConn) Conn() *redis.Conn { return c.conn }

// SetReadOnly issues READONLY when the provider fronts a cluster replica.
// Plain redis has no session-level read-only mode, so it is a no-op there.
func (c *RedisConn) SetReadOnly(ctx context.Context) error {
	if !c.clusterReadOnly {
		return nil
	}
	if err := c.conn.ReadOnly(ctx).Err(); err != nil {
		return fmt.Errorf("backend: setting read only: %w", err)
	}
	c.readOnly = true
	return nil
}

func (c *RedisConn) Ping(ctx context.Context) error { return c.conn.Ping(ctx).Err() }

// Close issues READWRITE if needed and returns the connection. A connection
// that cannot be reverted is discarded instead. It is safe to call more than
// once.
func (c *RedisConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if c.readOnly {
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		defer cancel()
		if err := c.conn.ReadWrite(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("backend: reverting read only: %w", err))
			c.discard(ctx)
		}
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.owner != nil {
		if err := c.owner.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// discard has the server close this connection. The ping that follows fails,
// and go-redis removes a connection that failed that way from its pool
// rather than reusing it.
func (c *RedisConn) discard(ctx context.Context) {
	id, err := c.conn.ClientID(ctx).Result()
	if err != nil {
		return
	}
	_ = c.conn.ClientKillByFilter(ctx, "ID", strconv.FormatInt(id, 10), "SKIPME", "no").Err()
	_ = c.conn.Ping(ctx).Err()
}
