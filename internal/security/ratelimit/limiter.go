package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a fixed-window rate limiter keyed by caller identity. Stale
// windows are evicted lazily during Allow calls rather than by a background
// timer, so the limiter carries no process-wide ticker state.
type Limiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	maxReqs   int
	window    time.Duration
	lastSweep time.Time
}

type window struct {
	start time.Time
	count int
}

func NewLimiter(maxRequests int, windowSize time.Duration) *Limiter {
	return &Limiter{
		windows:   make(map[string]*window),
		maxReqs:   maxRequests,
		window:    windowSize,
		lastSweep: time.Now(),
	}
}

// Allow records a request for the caller and reports whether it fits inside
// the current window. Empty callers are never limited.
func (l *Limiter) Allow(caller string) bool {
	if caller == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.sweepLocked(now)

	w, exists := l.windows[caller]
	if !exists || now.Sub(w.start) >= l.window {
		l.windows[caller] = &window{start: now, count: 1}
		return true
	}

	if w.count >= l.maxReqs {
		return false
	}
	w.count++
	return true
}

// AllowStrict applies a tighter limit for sensitive endpoints, tracked under a
// separate key so it does not interfere with the caller's normal window.
func (l *Limiter) AllowStrict(identifier string, maxReqs int, windowSize time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := "strict:" + identifier
	now := time.Now()

	w, exists := l.windows[key]
	if !exists || now.Sub(w.start) >= windowSize {
		l.windows[key] = &window{start: now, count: 1}
		return true
	}

	if w.count >= maxReqs {
		return false
	}
	w.count++
	return true
}

// sweepLocked drops windows that expired long ago. Runs at most once per
// minute, piggybacking on Allow so no timer goroutine is needed.
func (l *Limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	stale := now.Add(-10 * l.window)
	for caller, w := range l.windows {
		if w.start.Before(stale) {
			delete(l.windows, caller)
		}
	}
}
