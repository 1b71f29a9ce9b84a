// Package provider defines the contract between the router and the backends
// it routes to. A Provider is a named source of connections; the router knows
// nothing about what sits behind it beyond Connect, Ping and Close.
package provider

import (
	"context"
	"fmt"
)

// Role is the part a provider plays inside a group.
type Role int

const (
	RoleMaster Role = iota
	RoleWriteReplica
	RoleReadReplica
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleWriteReplica:
		return "write_replica"
	case RoleReadReplica:
		return "read_replica"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Credentials optionally override the provider's configured login.
// The zero value means "use the provider default".
type Credentials struct {
	Username string
	Password string
}

// IsZero reports whether no override was supplied.
func (c Credentials) IsZero() bool { return c.Username == "" && c.Password == "" }

// Conn is a single connection handed to a caller. The caller owns it and
// must Close it on every exit path.
type Conn interface {
	// SetReadOnly marks the connection so the backend rejects writes.
	SetReadOnly(ctx context.Context) error

	// Ping performs a cheap round trip to validate the connection.
	Ping(ctx context.Context) error

	Close() error
}

// Provider produces connections to one backend.
type Provider interface {
	Name() string
	Connect(ctx context.Context, creds Credentials) (Conn, error)
}
