package health

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultDeadFailureThreshold is used when NewTracker is given a non-positive threshold.
const DefaultDeadFailureThreshold = 3

// State is a point-in-time view of one provider's health.
type State struct {
	Failures int  `json:"failures"`
	Dead     bool `json:"dead"`
}

// Tracker counts consecutive connection failures per provider and keeps the
// set of providers that crossed the threshold ("dead"). A provider leaves the
// dead set only through Revive; MarkDead puts it there directly.
//
// Each provider's counter and dead flag are guarded by their own mutex; the
// map lock is only held to find or lazily create an entry. IsLive reads an
// atomic and never blocks behind a failure being recorded.
type Tracker struct {
	threshold int

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	failures int
	dead     atomic.Bool
}

// NewTracker returns an empty tracker that marks a provider dead after
// threshold consecutive failures.
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultDeadFailureThreshold
	}
	return &Tracker{
		threshold: threshold,
		entries:   make(map[string]*entry),
	}
}

// Threshold returns the configured dead-failure threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// RecordFailure counts one failed attempt against name. It returns true when
// this failure moved the provider into the dead set; for any one transition
// exactly one caller sees true. Failures against a dead provider are ignored.
func (t *Tracker) RecordFailure(name string) bool {
	e := t.getOrCreate(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead.Load() {
		return false
	}
	e.failures++
	if e.failures < t.threshold {
		return false
	}
	e.failures = 0
	e.dead.Store(true)
	return true
}

// RecordSuccess clears the failure counter for name.
func (t *Tracker) RecordSuccess(name string) {
	e := t.get(name)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.failures = 0
	e.mu.Unlock()
}

// MarkDead puts name into the dead set without counting failures, for
// carrying dead state over into a rebuilt tracker. It returns false if name
// was already dead.
func (t *Tracker) MarkDead(name string) bool {
	e := t.getOrCreate(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead.Load() {
		return false
	}
	e.failures = 0
	e.dead.Store(true)
	return true
}

// IsLive reports whether name is outside the dead set.
func (t *Tracker) IsLive(name string) bool {
	e := t.get(name)
	return e == nil || !e.dead.Load()
}

// Revive removes name from the dead set. It returns false if name was not dead.
func (t *Tracker) Revive(name string) bool {
	e := t.get(name)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dead.Load() {
		return false
	}
	e.failures = 0
	e.dead.Store(false)
	return true
}

// Failures returns the current consecutive-failure count for name.
func (t *Tracker) Failures(name string) int {
	e := t.get(name)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// DeadProviders returns a sorted snapshot of the dead set.
func (t *Tracker) DeadProviders() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var dead []string
	for name, e := range t.entries {
		if e.dead.Load() {
			dead = append(dead, name)
		}
	}
	sort.Strings(dead)
	return dead
}

// Snapshot returns the state of every provider that has ever failed.
func (t *Tracker) Snapshot() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]State, len(t.entries))
	for name, e := range t.entries {
		e.mu.Lock()
		out[name] = State{Failures: e.failures, Dead: e.dead.Load()}
		e.mu.Unlock()
	}
	return out
}

func (t *Tracker) get(name string) *entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[name]
}

func (t *Tracker) getOrCreate(name string) *entry {
	if e := t.get(name); e != nil {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[name]; ok {
		return e
	}
	e := &entry{}
	t.entries[name] = e
	return e
}
