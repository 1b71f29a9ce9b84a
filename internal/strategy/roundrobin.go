package strategy

import "sync/atomic"

// RoundRobin walks a ring in which every target appears Weight times
// (weights reduced by their greatest common divisor). The ring is laid out
// once with the smooth weighted order so heavy targets are interleaved.
//
// Each pick filters the ring down to usable entries and indexes it with a
// lock-free counter that only ever increases, so an unusable target's slots
// disappear instead of being handed to whichever neighbour follows them.
type RoundRobin struct {
	targets []Target
	ring    []string
	counter atomic.Uint64
}

func newRoundRobin(targets []Target) *RoundRobin {
	return &RoundRobin{
		targets: copyTargets(targets),
		ring:    expand(targets),
	}
}

func (r *RoundRobin) Pick(usable func(name string) bool) (string, error) {
	live := r.ring
	if usable != nil {
		live = make([]string, 0, len(r.ring))
		ok := make(map[string]bool, len(r.targets))
		for _, t := range r.targets {
			ok[t.Name] = usable(t.Name)
		}
		for _, name := range r.ring {
			if ok[name] {
				live = append(live, name)
			}
		}
	}
	if len(live) == 0 {
		return "", ErrNoUsableTarget
	}
	idx := r.counter.Add(1) - 1
	return live[idx%uint64(len(live))], nil
}

func (r *RoundRobin) Targets() []Target { return copyTargets(r.targets) }

// expand lays out one full smooth-weighted cycle.
func expand(targets []Target) []string {
	g := 0
	for _, t := range targets {
		g = gcd(g, t.Weight)
	}
	reduced := make([]Target, len(targets))
	size := 0
	for i, t := range targets {
		reduced[i] = Target{Name: t.Name, Weight: t.Weight / g}
		size += reduced[i].Weight
	}

	w := newWeightedRoundRobin(reduced)
	ring := make([]string, 0, size)
	for i := 0; i < size; i++ {
		name, _ := w.Pick(nil)
		ring = append(ring, name)
	}
	return ring
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
