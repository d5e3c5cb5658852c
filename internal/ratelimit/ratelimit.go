package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter gates requests per key (the gateway keys by client IP) using token
// buckets. Buckets are created lazily on first sight of a key.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func NewLimiter() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether one request for key fits within rps/burst, updating
// the bucket's configuration when it changed.
func (l *Limiter) Allow(key string, rps float64, burst int) bool {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		lim, ok = l.limiters[key]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rps), burst)
			l.limiters[key] = lim
		}
		l.mu.Unlock()
	}

	if lim.Limit() != rate.Limit(rps) {
		lim.SetLimit(rate.Limit(rps))
	}
	if lim.Burst() != burst {
		lim.SetBurst(burst)
	}
	return lim.Allow()
}

// Remove drops the bucket for key.
func (l *Limiter) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}
