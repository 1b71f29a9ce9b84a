// Package router hands out connections from groups of data sources.
//
// Each group has a master, weighted write replicas and weighted read
// replicas. Providers that keep failing are marked dead and skipped until
// the recovery probe finds them healthy again.
package router

import (
	"context"
	"fmt"
	"sort"

	"dataroute/internal/config"
	"dataroute/internal/health"
	"dataroute/internal/metrics"
	"dataroute/internal/provider"
)

// Router is a fixed set of groups addressed by name. It is safe for
// concurrent use.
type Router struct {
	groups map[string]*Group
	names  []string
}

// New returns a Router over groups. Group names must be unique.
func New(groups ...*Group) (*Router, error) {
	r := &Router{groups: make(map[string]*Group, len(groups))}
	for _, g := range groups {
		if g == nil {
			return nil, fmt.Errorf("router: nil group")
		}
		if _, dup := r.groups[g.name]; dup {
			return nil, fmt.Errorf("router: duplicate group %q", g.name)
		}
		r.groups[g.name] = g
		r.names = append(r.names, g.name)
	}
	sort.Strings(r.names)
	return r, nil
}

// FromConfig builds one Group per configured group, resolving providers
// through reg.
func FromConfig(cfg config.Config, reg provider.Registry, sink metrics.Sink) (*Router, error) {
	groups := make([]*Group, 0, len(cfg.Groups))
	for _, gc := range cfg.Groups {
		g, err := NewGroup(Options{
			Name:                 gc.Name,
			Master:               gc.Master,
			MasterWeight:         gc.MasterWeight,
			WriteReplicas:        gc.WriteWeights(),
			ReadReplicas:         gc.ReadWeights(),
			Algorithm:            gc.Algorithm,
			MaxAttempts:          gc.MaxAttempts,
			DeadFailureThreshold: gc.DeadFailureThreshold,
			ProbeConcurrency:     cfg.Probe.Concurrency,
		}, reg, sink)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return New(groups...)
}

// Obtain returns a connection from the named group. See Group.Obtain.
func (r *Router) Obtain(ctx context.Context, group string, creds provider.Credentials) (provider.Conn, error) {
	g, ok := r.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	return g.Obtain(ctx, creds)
}

// Group returns the named group.
func (r *Router) Group(name string) (*Group, bool) {
	g, ok := r.groups[name]
	return g, ok
}

// Groups returns all groups sorted by name.
func (r *Router) Groups() []*Group {
	out := make([]*Group, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.groups[name])
	}
	return out
}

// ProbeAll probes every group in turn.
func (r *Router) ProbeAll(ctx context.Context) []health.ProbeReport {
	reports := make([]health.ProbeReport, 0, len(r.names))
	for _, g := range r.Groups() {
		reports = append(reports, g.Probe(ctx))
	}
	return reports
}

// Probers adapts the groups for a health.Monitor.
func (r *Router) Probers() []health.Prober {
	out := make([]health.Prober, 0, len(r.names))
	for _, g := range r.Groups() {
		out = append(out, g)
	}
	return out
}

// InheritDead copies the dead sets of prev into r, group by group, so a
// rebuilt router does not hand out providers that never passed a probe.
// Providers r's group no longer uses, and those for which keep returns
// false, are left live. It returns how many providers were carried over.
func (r *Router) InheritDead(prev *Router, keep func(provider string) bool) int {
	if prev == nil {
		return 0
	}
	carried := 0
	for _, g := range r.Groups() {
		old, ok := prev.groups[g.name]
		if !ok {
			continue
		}
		for _, name := range old.tracker.DeadProviders() {
			if _, uses := g.providers[name]; !uses {
				continue
			}
			if keep != nil && !keep(name) {
				continue
			}
			if g.tracker.MarkDead(name) {
				carried++
			}
		}
	}
	return carried
}
