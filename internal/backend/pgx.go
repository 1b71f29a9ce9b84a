package backend

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dataroute/internal/provider"
)

const (
	pgReadOnly  = "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"
	pgReadWrite = "SET SESSION CHARACTERISTICS AS TRANSACTION READ WRITE"
)

// PgxProvider serves PostgreSQL connections from a pgxpool.Pool.
// Requests with explicit credentials bypass the pool and get a dedicated
// connection for that user.
type PgxProvider struct {
	name string
	pool *pgxpool.Pool
}

// NewPgx parses dsn and creates the pool without connecting.
func NewPgx(ctx context.Context, name, dsn string) (*PgxProvider, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: parsing dsn: %w", name, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: creating pool: %w", name, err)
	}
	return &PgxProvider{name: name, pool: pool}, nil
}

func (p *PgxProvider) Name() string { return p.name }

func (p *PgxProvider) Connect(ctx context.Context, creds provider.Credentials) (provider.Conn, error) {
	if creds.IsZero() {
		pc, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend: %s: acquiring connection: %w", p.name, err)
		}
		return &PgxConn{
			conn: pc.Conn(),
			release: func(broken bool) error {
				if broken {
					// A closed conn is destroyed by the pool instead of reused.
					_ = pc.Conn().Close(context.Background())
				}
				pc.Release()
				return nil
			},
		}, nil
	}

	cc := p.pool.Config().ConnConfig.Copy()
	cc.User = creds.Username
	cc.Password = creds.Password
	conn, err := pgx.ConnectConfig(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: connecting as %q: %w", p.name, creds.Username, err)
	}
	return &PgxConn{
		conn: conn,
		release: func(bool) error {
			return conn.Close(context.Background())
		},
	}, nil
}

// Close closes the pool. Connections still checked out are closed as they
// are released.
func (p *PgxProvider) Close() error {
	p.pool.Close()
	return nil
}

// PgxConn is a connection handed out by PgxProvider.
type PgxConn struct {
	conn     *pgx.Conn
	release  func(broken bool) error
	readOnly bool
	closed   atomic.Bool
}

// Conn exposes the underlying pgx connection. It must not be used after Close.
func (c *PgxConn) Conn() *pgx.Conn { return c.conn }

func (c *PgxConn) SetReadOnly(ctx context.Context) error {
	if _, err := c.conn.Exec(ctx, pgReadOnly); err != nil {
		return fmt.Errorf("backend: setting read only: %w", err)
	}
	c.readOnly = true
	return nil
}

func (c *PgxConn) Ping(ctx context.Context) error { return c.conn.Ping(ctx) }

// Close reverts read-only mode and gives the connection back. It is safe to
// call more than once.
func (c *PgxConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	broken := false
	if c.readOnly {
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		defer cancel()
		_, err := c.conn.Exec(ctx, pgReadWrite)
		broken = err != nil
	}
	return c.release(broken)
}
