// Package ratelimit provides a small fixed-window limiter for abuse-prone
// auth endpoints such as confirmation resends.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts attempts per key within a fixed window.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// NewLimiter allows limit attempts per key in each window.
func NewLimiter(limit int, windowLen time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  windowLen,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow records an attempt for key. It returns false with a retry-after hint
// when the key has exhausted the current window.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[key]
	if w == nil || now.Sub(w.start) >= l.window {
		l.windows[key] = &window{start: now, count: 1}
		return true, 0
	}
	if w.count >= l.limit {
		return false, w.start.Add(l.window).Sub(now)
	}
	w.count++
	return true, 0
}

// Reset forgets all attempts for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Prune drops windows that have lapsed. Intended to be called periodically
// so the map does not grow with every distinct key ever seen.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}
