package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SlidingWindow keeps the timestamps of recently allowed actions per
// identifier and allows a new one only while fewer than Limit fall inside
// the trailing window.
type SlidingWindow struct {
	rule  Rule
	clock clockwork.Clock

	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewSlidingWindow(rule Rule, clock clockwork.Clock) *SlidingWindow {
	return &SlidingWindow{
		rule:  rule,
		clock: clock,
		hits:  make(map[string][]time.Time),
	}
}

func (sw *SlidingWindow) Allow(_ context.Context, identifier string) (bool, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock.Now()
	recent := sw.prune(identifier, now)
	if len(recent) >= sw.rule.Limit {
		sw.hits[identifier] = recent
		return false, nil
	}

	sw.hits[identifier] = append(recent, now)
	return true, nil
}

// prune drops the hits that fell out of the window ending at now.
func (sw *SlidingWindow) prune(identifier string, now time.Time) []time.Time {
	hits := sw.hits[identifier]
	cutoff := now.Add(-sw.rule.Window)

	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == len(hits) {
		delete(sw.hits, identifier)
		return nil
	}
	return hits[i:]
}
