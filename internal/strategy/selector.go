// Package strategy implements weighted selection over a fixed set of named
// targets. Selectors never track liveness themselves: every Pick is handed a
// predicate and only returns names for which it reports true.
// All selectors are safe for concurrent use.
package strategy

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoUsableTarget is returned when the predicate rejects every target.
var ErrNoUsableTarget = errors.New("strategy: no usable target")

// Algorithm names accepted by New.
const (
	AlgorithmWeightedRoundRobin = "weighted_round_robin"
	AlgorithmRoundRobin         = "round_robin"
)

// Target is a named entry in a selector's rotation.
type Target struct {
	Name   string
	Weight int
}

// Selector picks the next target for a connection attempt.
type Selector interface {
	// Pick returns a name for which usable reports true. Over many calls each
	// usable name is returned with a frequency proportional to its weight.
	Pick(usable func(name string) bool) (string, error)

	// Targets returns the configured targets sorted by name.
	Targets() []Target
}

// New constructs the Selector named by algorithm over weights.
// An empty algorithm selects weighted_round_robin.
func New(algorithm string, weights map[string]int) (Selector, error) {
	targets, err := targetsOf(weights)
	if err != nil {
		return nil, err
	}
	switch algorithm {
	case AlgorithmWeightedRoundRobin, "":
		return newWeightedRoundRobin(targets), nil
	case AlgorithmRoundRobin:
		return newRoundRobin(targets), nil
	default:
		return nil, fmt.Errorf("strategy: unknown algorithm %q", algorithm)
	}
}

// NewWeightedRoundRobin is New with the smooth weighted algorithm.
func NewWeightedRoundRobin(weights map[string]int) (*WeightedRoundRobin, error) {
	targets, err := targetsOf(weights)
	if err != nil {
		return nil, err
	}
	return newWeightedRoundRobin(targets), nil
}

// NewRoundRobin is New with the expanded-ring algorithm.
func NewRoundRobin(weights map[string]int) (*RoundRobin, error) {
	targets, err := targetsOf(weights)
	if err != nil {
		return nil, err
	}
	return newRoundRobin(targets), nil
}

// targetsOf validates weights and returns them in name order so that
// rotation order does not depend on map iteration.
func targetsOf(weights map[string]int) ([]Target, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("strategy: at least one target required")
	}
	targets := make([]Target, 0, len(weights))
	for name, w := range weights {
		if name == "" {
			return nil, fmt.Errorf("strategy: empty target name")
		}
		if w <= 0 {
			return nil, fmt.Errorf("strategy: target %q has non-positive weight %d", name, w)
		}
		targets = append(targets, Target{Name: name, Weight: w})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
	return targets, nil
}

func copyTargets(targets []Target) []Target {
	out := make([]Target, len(targets))
	copy(out, targets)
	return out
}
