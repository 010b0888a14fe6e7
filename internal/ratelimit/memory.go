package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MemoryLimiter is a sliding-window limiter backed by an in-process
// map. Safe for concurrent use.
type MemoryLimiter struct {
	mu        sync.Mutex
	failures  map[string][]time.Time
	window    time.Duration
	threshold int
	clock     clock.Clock
}

// NewMemoryLimiter creates a limiter allowing threshold failures per
// key within window.
func NewMemoryLimiter(window time.Duration, threshold int, clk clock.Clock) *MemoryLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	if threshold <= 0 {
		threshold = 6
	}
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryLimiter{
		failures:  make(map[string][]time.Time),
		window:    window,
		threshold: threshold,
		clock:     clk,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key)) < l.threshold, nil
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[key] = append(l.prune(key), l.clock.Now())
	return nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, key)
	return nil
}

// prune drops entries older than the window. Caller holds mu.
func (l *MemoryLimiter) prune(key string) []time.Time {
	cutoff := l.clock.Now().Add(-l.window)
	kept := l.failures[key][:0]
	for _, t := range l.failures[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, key)
		return nil
	}
	l.failures[key] = kept
	return kept
}
