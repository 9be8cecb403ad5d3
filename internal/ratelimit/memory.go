package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a sliding-window limiter holding the admitted timestamps
// of every key. Entries older than the window are pruned lazily on access
// and by Sweep.
type MemoryLimiter struct {
	mu   sync.Mutex
	now  func() time.Time
	hits map[string][]time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		now:  time.Now,
		hits: make(map[string][]time.Time),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := l.now()

	if max <= 0 || window <= 0 {
		return Decision{Allowed: true, Remaining: 0, ResetAt: now}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := prune(l.hits[key], now.Add(-window))

	if len(kept) >= max {
		l.hits[key] = kept
		return Decision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   kept[0].Add(window),
		}, nil
	}

	kept = append(kept, now)
	l.hits[key] = kept

	return Decision{
		Allowed:   true,
		Remaining: max - len(kept),
		ResetAt:   kept[0].Add(window),
	}, nil
}

// Sweep drops keys whose every hit is older than maxWindow.
func (l *MemoryLimiter) Sweep(maxWindow time.Duration) int {
	cutoff := l.now().Add(-maxWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, hits := range l.hits {
		kept := prune(hits, cutoff)
		if len(kept) == 0 {
			delete(l.hits, key)
			removed++
			continue
		}
		l.hits[key] = kept
	}

	return removed
}

// prune drops timestamps at or before cutoff. hits is sorted ascending.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append([]time.Time(nil), hits[i:]...)
}
