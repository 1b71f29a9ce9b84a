package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // registers "postgres"
	_ "modernc.org/sqlite" // registers "sqlite"

	"dataroute/internal/config"
	"dataroute/internal/provider"
)

// dialect holds the statements that toggle a session's read-only mode.
type dialect struct {
	readOnly  string
	readWrite string
}

var dialects = map[string]dialect{
	config.KindPostgres: {readOnly: pgReadOnly, readWrite: pgReadWrite},
	config.KindSQLite:   {readOnly: "PRAGMA query_only = ON", readWrite: "PRAGMA query_only = OFF"},
}

// SQLProvider serves connections from a database/sql pool through sqlx.
// The driver name doubles as the dialect.
type SQLProvider struct {
	name    string
	driver  string
	dsn     string
	dialect dialect
	db      *sqlx.DB
}

// NewSQL opens the pool for driver without connecting.
func NewSQL(name, driver, dsn string) (*SQLProvider, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("backend: %s: unsupported sql driver %q", name, driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: opening %s: %w", name, driver, err)
	}
	return &SQLProvider{name: name, driver: driver, dsn: dsn, dialect: d, db: db}, nil
}

func (p *SQLProvider) Name() string { return p.name }

// DB exposes the pool, mainly so callers can size it.
func (p *SQLProvider) DB() *sqlx.DB { return p.db }

func (p *SQLProvider) Connect(ctx context.Context, creds provider.Credentials) (provider.Conn, error) {
	if creds.IsZero() {
		conn, err := p.db.Connx(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend: %s: connecting: %w", p.name, err)
		}
		return &SQLConn{conn: conn, dialect: p.dialect, release: conn.Close}, nil
	}

	dsn, err := withCredentials(p.dsn, creds)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", p.name, err)
	}
	db, err := sqlx.Open(p.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: opening %s: %w", p.name, p.driver, err)
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Connx(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("backend: %s: connecting as %q: %w", p.name, creds.Username, err)
	}
	return &SQLConn{
		conn:    conn,
		dialect: p.dialect,
		release: func() error {
			_ = conn.Close()
			return db.Close()
		},
	}, nil
}

func (p *SQLProvider) Close() error { return p.db.Close() }

// withCredentials replaces the user info of a URL-form DSN.
func withCredentials(dsn string, creds provider.Credentials) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return "", fmt.Errorf("explicit credentials need a postgres:// dsn")
	}
	u.User = url.UserPassword(creds.Username, creds.Password)
	return u.String(), nil
}

// SQLConn is a connection handed out by SQLProvider.
type SQLConn struct {
	conn     *sqlx.Conn
	dialect  dialect
	release  func() error
	readOnly bool
	closed   atomic.Bool
}

// Conn exposes the underlying connection. It must not be used after Close.
func (c *SQLConn) Conn() *sqlx.Conn { return c.conn }

func (c *SQLConn) SetReadOnly(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, c.dialect.readOnly); err != nil {
		return fmt.Errorf("backend: setting read only: %w", err)
	}
	c.readOnly = true
	return nil
}

func (c *SQLConn) Ping(ctx context.Context) error { return c.conn.PingContext(ctx) }

// Close reverts read-only mode and returns the connection to the pool. A
// connection that cannot be reverted is discarded instead. It is safe to
// call more than once.
func (c *SQLConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.readOnly {
		ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
		defer cancel()
		if _, err := c.conn.ExecContext(ctx, c.dialect.readWrite); err != nil {
			// Raw with a driver.ErrBadConn result makes database/sql drop the conn.
			_ = c.conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}
	if err := c.release(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
