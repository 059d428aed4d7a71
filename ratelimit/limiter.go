// Package ratelimit caps calls to a quota-limited dependency over a sliding
// time window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so tests can drive the window.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Limiter allows at most capacity calls within any trailing window. It is
// shared by every worker that issues enrichment calls.
type Limiter struct {
	capacity int
	window   time.Duration
	clock    Clock

	// turn admits one waiter at a time. Blocked channel senders are released
	// in arrival order, so the first caller to block is the first to proceed.
	turn chan struct{}

	mu    sync.Mutex
	calls []time.Time
}

// New builds a limiter. A nil clock means the system clock.
func New(capacity int, window time.Duration, clock Clock) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Limiter{
		capacity: capacity,
		window:   window,
		clock:    clock,
		turn:     make(chan struct{}, 1),
		calls:    make([]time.Time, 0, capacity),
	}
}

// Acquire blocks until one more call fits in the window, then records it.
// The only error it returns is ctx's.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.turn }()

	for {
		wait, ok := l.tryRecord()
		if ok {
			return nil
		}
		select {
		case <-l.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryRecord records a call if the window has room. Otherwise it returns how
// long until the oldest call leaves the window.
func (l *Limiter) tryRecord() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.pruneLocked(now)
	if len(l.calls) < l.capacity {
		l.calls = append(l.calls, now)
		return 0, true
	}
	// The oldest call leaves strictly after it is window old.
	return l.calls[0].Add(l.window).Sub(now) + time.Nanosecond, false
}

// pruneLocked drops calls older than window. The window is closed: a call
// exactly window ago still counts, so no span [t, t+window] ever holds more
// than capacity calls.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	drop := 0
	for drop < len(l.calls) && l.calls[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		l.calls = append(l.calls[:0], l.calls[drop:]...)
	}
}

// InWindow reports how many calls currently count against the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.clock.Now())
	return len(l.calls)
}

// Capacity returns the configured calls per window.
func (l *Limiter) Capacity() int {
	return l.capacity
}
