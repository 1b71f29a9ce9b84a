// Package metrics carries routing outcome events out of the router.
// The router only knows the Sink interface; what happens to an event
// (Prometheus counters, log lines, an in-memory record) is chosen at wiring time.
package metrics

import (
	"log/slog"
	"sync"
)

// FacilityRouter tags every event emitted by the router.
const FacilityRouter = "router"

// Outcome is what happened to a provider.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeDown      Outcome = "down"
	OutcomeRecovered Outcome = "recovered"
)

// Mode tells read-only traffic apart from read/write traffic.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
	ModeProbe Mode = "probe"
)

// Event is one routing outcome.
type Event struct {
	Facility string  `json:"facility"`
	Success  bool    `json:"success"`
	Group    string  `json:"group"`
	Target   string  `json:"target"`
	Outcome  Outcome `json:"outcome"`
	Mode     Mode    `json:"mode"`
}

// NewEvent builds a router event. Success is derived from the outcome:
// connections obtained and providers recovered are successes.
func NewEvent(group, target string, outcome Outcome, mode Mode) Event {
	return Event{
		Facility: FacilityRouter,
		Success:  outcome == OutcomeSuccess || outcome == OutcomeRecovered,
		Group:    group,
		Target:   target,
		Outcome:  outcome,
		Mode:     mode,
	}
}

// Sink receives events. Emit is called on the request path and must be
// cheap and safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(Event) {}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Log writes every event as a debug line on the default logger.
type Log struct{}

func (Log) Emit(e Event) {
	slog.Debug("metrics: event",
		"facility", e.Facility,
		"success", e.Success,
		"group", e.Group,
		"target", e.Target,
		"outcome", string(e.Outcome),
		"mode", string(e.Mode),
	)
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many recorded events match group, target and outcome.
// Empty group or target match anything.
func (r *Recorder) Count(group, target string, outcome Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if (group == "" || e.Group == group) && (target == "" || e.Target == target) && e.Outcome == outcome {
			n++
		}
	}
	return n
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
