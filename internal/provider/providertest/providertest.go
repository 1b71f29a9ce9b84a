// Package providertest provides scriptable in-memory providers for tests.
package providertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"dataroute/internal/provider"
)

// ErrDown is the default error returned by a provider that is down.
var ErrDown = errors.New("providertest: backend down")

// Provider is a fake provider. By default every Connect succeeds; failures
// are scripted with FailNext or made sticky with SetDown.
type Provider struct {
	name string

	mu          sync.Mutex
	script      []error
	downErr     error
	readOnlyErr error
	pingErr     error
	panicMsg    any
	onConnect   func()
	conns       []*Conn

	connects atomic.Int64
}

// New returns a healthy fake provider.
func New(name string) *Provider { return &Provider{name: name} }

func (p *Provider) Name() string { return p.name }

// FailNext makes the next len(errs) Connect calls fail with errs in order,
// ahead of any SetDown state.
func (p *Provider) FailNext(errs ...error) {
	p.mu.Lock()
	p.script = append(p.script, errs...)
	p.mu.Unlock()
}

// SetDown makes every Connect fail with err (ErrDown when nil) until SetUp.
func (p *Provider) SetDown(err error) {
	if err == nil {
		err = ErrDown
	}
	p.mu.Lock()
	p.downErr = err
	p.mu.Unlock()
}

// SetUp clears SetDown.
func (p *Provider) SetUp() {
	p.mu.Lock()
	p.downErr = nil
	p.mu.Unlock()
}

// FailReadOnly makes SetReadOnly on connections opened afterwards return err.
func (p *Provider) FailReadOnly(err error) {
	p.mu.Lock()
	p.readOnlyErr = err
	p.mu.Unlock()
}

// FailPing makes Ping on connections opened afterwards return err.
func (p *Provider) FailPing(err error) {
	p.mu.Lock()
	p.pingErr = err
	p.mu.Unlock()
}

// PanicOnConnect makes Connect panic with v.
func (p *Provider) PanicOnConnect(v any) {
	p.mu.Lock()
	p.panicMsg = v
	p.mu.Unlock()
}

// OnConnect registers fn to run at the start of every Connect call, before
// the context is checked.
func (p *Provider) OnConnect(fn func()) {
	p.mu.Lock()
	p.onConnect = fn
	p.mu.Unlock()
}

// Connects returns how many times Connect was called.
func (p *Provider) Connects() int { return int(p.connects.Load()) }

// Conns returns every connection handed out so far.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Conn, len(p.conns))
	copy(out, p.conns)
	return out
}

// Connect fails with ctx.Err() once ctx is done, like a real driver dial.
func (p *Provider) Connect(ctx context.Context, creds provider.Credentials) (provider.Conn, error) {
	p.connects.Add(1)

	p.mu.Lock()
	hook := p.onConnect
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.panicMsg != nil {
		panic(p.panicMsg)
	}
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		if err != nil {
			return nil, err
		}
	} else if p.downErr != nil {
		return nil, p.downErr
	}

	c := &Conn{
		Provider:    p.name,
		Creds:       creds,
		readOnlyErr: p.readOnlyErr,
		pingErr:     p.pingErr,
	}
	p.conns = append(p.conns, c)
	return c, nil
}

// Conn is a fake connection that records how it was used.
type Conn struct {
	Provider string
	Creds    provider.Credentials

	readOnlyErr error
	pingErr     error

	readOnly atomic.Bool
	closed   atomic.Bool
	pings    atomic.Int64
}

func (c *Conn) SetReadOnly(context.Context) error {
	if c.readOnlyErr != nil {
		return c.readOnlyErr
	}
	c.readOnly.Store(true)
	return nil
}

func (c *Conn) Ping(context.Context) error {
	c.pings.Add(1)
	return c.pingErr
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Conn) ReadOnly() bool { return c.readOnly.Load() }
func (c *Conn) Closed() bool   { return c.closed.Load() }
func (c *Conn) Pings() int     { return int(c.pings.Load()) }
