package router

import (
	"fmt"
	"sort"

	"dataroute/internal/health"
	"dataroute/internal/metrics"
	"dataroute/internal/provider"
	"dataroute/internal/strategy"
)

const (
	// DefaultMaxAttempts bounds connection attempts per Obtain call.
	DefaultMaxAttempts = 3

	// DefaultProbeConcurrency bounds concurrent provider probes per group.
	DefaultProbeConcurrency = 4
)

// Options describes one group.
type Options struct {
	Name string

	// Master is the primary provider. It is always the last resort for
	// traffic, even when dead.
	Master string

	// MasterWeight > 0 also puts the master into the weighted write
	// rotation next to the write replicas. With 0 the master only serves
	// traffic once no write replica is usable.
	MasterWeight int

	WriteReplicas map[string]int
	ReadReplicas  map[string]int

	// Algorithm is a strategy algorithm name; empty selects weighted round robin.
	Algorithm string

	MaxAttempts          int
	DeadFailureThreshold int
	ProbeConcurrency     int

	// Tracker overrides the group's health state; nil creates a fresh one.
	Tracker *health.Tracker
}

// Group routes connection requests across one master and its replicas.
// Its configuration is fixed at construction; only health state changes.
type Group struct {
	name   string
	master string

	providers map[string]provider.Provider
	write     strategy.Selector
	read      strategy.Selector

	maxAttempts      int
	probeConcurrency int

	tracker *health.Tracker
	sink    metrics.Sink
}

// NewGroup resolves every provider named in opts through reg and builds the
// group's selectors. A nil sink discards events.
func NewGroup(opts Options, reg provider.Registry, sink metrics.Sink) (*Group, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("router: group name is required")
	}
	if opts.Master == "" && len(opts.WriteReplicas) == 0 {
		return nil, fmt.Errorf("router: group %q needs a master or at least one write replica", opts.Name)
	}

	writeWeights := make(map[string]int, len(opts.WriteReplicas)+1)
	for name, w := range opts.WriteReplicas {
		writeWeights[name] = w
	}
	if opts.Master != "" && opts.MasterWeight > 0 {
		if _, dup := writeWeights[opts.Master]; dup {
			return nil, fmt.Errorf("router: group %q: master %q is also listed as a write replica", opts.Name, opts.Master)
		}
		writeWeights[opts.Master] = opts.MasterWeight
	}

	g := &Group{
		name:             opts.Name,
		master:           opts.Master,
		providers:        make(map[string]provider.Provider),
		maxAttempts:      opts.MaxAttempts,
		probeConcurrency: opts.ProbeConcurrency,
		tracker:          opts.Tracker,
		sink:             sink,
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.probeConcurrency <= 0 {
		g.probeConcurrency = DefaultProbeConcurrency
	}
	if g.tracker == nil {
		g.tracker = health.NewTracker(opts.DeadFailureThreshold)
	}
	if g.sink == nil {
		g.sink = metrics.Nop{}
	}

	var err error
	if len(writeWeights) > 0 {
		if g.write, err = strategy.New(opts.Algorithm, writeWeights); err != nil {
			return nil, fmt.Errorf("router: group %q write replicas: %w", opts.Name, err)
		}
	}
	if len(opts.ReadReplicas) > 0 {
		if g.read, err = strategy.New(opts.Algorithm, opts.ReadReplicas); err != nil {
			return nil, fmt.Errorf("router: group %q read replicas: %w", opts.Name, err)
		}
	}

	names := make([]string, 0, len(writeWeights)+len(opts.ReadReplicas)+1)
	if opts.Master != "" {
		names = append(names, opts.Master)
	}
	for name := range writeWeights {
		names = append(names, name)
	}
	for name := range opts.ReadReplicas {
		names = append(names, name)
	}
	for _, name := range names {
		if _, ok := g.providers[name]; ok {
			continue
		}
		p, err := reg.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("router: group %q: %w", opts.Name, err)
		}
		g.providers[name] = p
	}

	return g, nil
}

func (g *Group) Name() string { return g.name }

// Tracker exposes the group's health state.
func (g *Group) Tracker() *health.Tracker { return g.tracker }

// ProviderStatus is the JSON view of one provider inside a group.
type ProviderStatus struct {
	Name        string   `json:"name"`
	Roles       []string `json:"roles"`
	WriteWeight int      `json:"write_weight,omitempty"`
	ReadWeight  int      `json:"read_weight,omitempty"`
	Live        bool     `json:"live"`
	Failures    int      `json:"failures"`
}

// GroupStatus is the JSON view of a group's configuration and health.
type GroupStatus struct {
	Name                 string           `json:"name"`
	Master               string           `json:"master,omitempty"`
	MaxAttempts          int              `json:"max_attempts"`
	DeadFailureThreshold int              `json:"dead_failure_threshold"`
	Providers            []ProviderStatus `json:"providers"`
	Dead                 []string         `json:"dead"`
}

// Status reports every provider of the group, master first, then by name.
func (g *Group) Status() GroupStatus {
	byName := make(map[string]*ProviderStatus, len(g.providers))
	get := func(name string) *ProviderStatus {
		ps, ok := byName[name]
		if !ok {
			ps = &ProviderStatus{Name: name}
			byName[name] = ps
		}
		return ps
	}

	if g.master != "" {
		ps := get(g.master)
		ps.Roles = append(ps.Roles, provider.RoleMaster.String())
	}
	if g.write != nil {
		for _, t := range g.write.Targets() {
			ps := get(t.Name)
			ps.WriteWeight = t.Weight
			if t.Name != g.master {
				ps.Roles = append(ps.Roles, provider.RoleWriteReplica.String())
			}
		}
	}
	if g.read != nil {
		for _, t := range g.read.Targets() {
			ps := get(t.Name)
			ps.ReadWeight = t.Weight
			ps.Roles = append(ps.Roles, provider.RoleReadReplica.String())
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		if name != g.master {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if g.master != "" {
		names = append([]string{g.master}, names...)
	}

	st := GroupStatus{
		Name:                 g.name,
		Master:               g.master,
		MaxAttempts:          g.maxAttempts,
		DeadFailureThreshold: g.tracker.Threshold(),
		Providers:            make([]ProviderStatus, 0, len(names)),
		Dead:                 g.tracker.DeadProviders(),
	}
	for _, name := range names {
		ps := byName[name]
		ps.Live = g.tracker.IsLive(name)
		ps.Failures = g.tracker.Failures(name)
		st.Providers = append(st.Providers, *ps)
	}
	return st
}
