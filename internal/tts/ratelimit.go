package tts

import (
	"sync"
	"time"

	"github.com/mindfulchat/meditation-gateway/internal/clock"
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window per-key limiter. Expired windows are swept on
// access and the number of tracked keys is bounded; when full, the window
// closest to expiry is evicted.
type RateLimiter struct {
	limit   int
	window  time.Duration
	maxKeys int
	clock   clock.Clock

	mu        sync.Mutex
	entries   map[string]*rateWindow
	lastSweep time.Time
}

// NewRateLimiter allows limit requests per key per window.
func NewRateLimiter(limit int, window time.Duration, maxKeys int, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &RateLimiter{
		limit:     limit,
		window:    window,
		maxKeys:   maxKeys,
		clock:     clk,
		entries:   make(map[string]*rateWindow),
		lastSweep: clk.Now(),
	}
}

// Allow records a request for key and reports whether it is within the limit.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(now)
	}

	w, ok := l.entries[key]
	if !ok || now.After(w.resetAt) {
		if !ok && len(l.entries) >= l.maxKeys {
			l.sweepLocked(now)
			if len(l.entries) >= l.maxKeys {
				l.evictOldestLocked()
			}
		}
		l.entries[key] = &rateWindow{count: 1, resetAt: now.Add(l.window)}
		return true
	}

	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Remaining returns how many requests key may still make in its window.
func (l *RateLimiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.entries[key]
	if !ok || l.clock.Now().After(w.resetAt) {
		return l.limit
	}
	return l.limit - w.count
}

// Len returns the number of tracked keys.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *RateLimiter) sweepLocked(now time.Time) {
	for k, w := range l.entries {
		if now.After(w.resetAt) {
			delete(l.entries, k)
		}
	}
	l.lastSweep = now
}

func (l *RateLimiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, w := range l.entries {
		if oldestKey == "" || w.resetAt.Before(oldest) {
			oldestKey, oldest = k, w.resetAt
		}
	}
	delete(l.entries, oldestKey)
}
