package middleware

import (
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter for inbound client
// messages.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connID -> timestamps inside the window
	mu          sync.Mutex

	// Now is replaceable in tests.
	Now func() time.Time
}

// NewRateLimiter allows maxRequests per window for each connection. A
// non-positive maxRequests disables limiting.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		Now:         time.Now,
	}
}

// Allow records one message from connID and reports whether it is within the limit.
func (r *RateLimiter) Allow(connID string) bool {
	if r.maxRequests <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[connID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connID] = valid
		return false
	}
	r.requests[connID] = append(valid, now)
	return true
}

// Cleanup drops connections with no message inside the window.
func (r *RateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.Now().Add(-r.window)
	for connID, timestamps := range r.requests {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(r.requests, connID)
		}
	}
}

// Remove forgets a closed connection.
func (r *RateLimiter) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connID)
}

// Tracked returns the number of connections with recorded messages.
func (r *RateLimiter) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
