package strategy

import "sync"

// WeightedRoundRobin implements the Smooth Weighted Round Robin algorithm
// (the one nginx uses). Picks are spread proportionally to weight without
// long consecutive runs on a single target.
//
// Per pick, over the targets the predicate accepts:
//  1. add each target's weight to its currentWeight;
//  2. select the target with the highest currentWeight;
//  3. subtract the sum of the accepted weights from the winner.
//
// Rejected targets are left out of all three steps and their currentWeight
// is reset, so they neither consume turns nor bank credit while unusable.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	entries []*wrrEntry
}

type wrrEntry struct {
	target        Target
	currentWeight int
}

func newWeightedRoundRobin(targets []Target) *WeightedRoundRobin {
	entries := make([]*wrrEntry, len(targets))
	for i, t := range targets {
		entries[i] = &wrrEntry{target: t}
	}
	return &WeightedRoundRobin{entries: entries}
}

func (w *WeightedRoundRobin) Pick(usable func(name string) bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var best *wrrEntry
	total := 0
	for _, e := range w.entries {
		if usable != nil && !usable(e.target.Name) {
			e.currentWeight = 0
			continue
		}
		e.currentWeight += e.target.Weight
		total += e.target.Weight
		if best == nil || e.currentWeight > best.currentWeight {
			best = e
		}
	}
	if best == nil {
		return "", ErrNoUsableTarget
	}

	best.currentWeight -= total
	return best.target.Name, nil
}

func (w *WeightedRoundRobin) Targets() []Target {
	out := make([]Target, len(w.entries))
	for i, e := range w.entries {
		out[i] = e.target
	}
	return out
}
