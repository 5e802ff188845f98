// rate_limiter.go - Per-sender rate limiting for the pool service
package main

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"shieldpool/internal/poolrpc"
)

// SenderRateLimiter keeps one token bucket per sender id.
type SenderRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ poolrpc.Limiter = (*SenderRateLimiter)(nil)

// NewSenderRateLimiter allows perSecond requests per sender with bursts of
// burst. Buckets idle for longer than idle are dropped on the next call.
func NewSenderRateLimiter(perSecond float64, burst int, idle time.Duration) *SenderRateLimiter {
	return &SenderRateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

// Allow implements poolrpc.Limiter.
func (l *SenderRateLimiter) Allow(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)
	e, ok := l.limiters[senderID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[senderID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Tokens returns the tokens currently available to senderID.
func (l *SenderRateLimiter) Tokens(senderID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[senderID]
	if !ok {
		return float64(l.burst)
	}
	return e.limiter.TokensAt(l.now())
}

// Reset drops every bucket.
func (l *SenderRateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*entry)
}

func (l *SenderRateLimiter) evict(now time.Time) {
	if l.idle <= 0 {
		return
	}
	for id, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.limiters, id)
		}
	}
}
