package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrLimited is returned when a requester exceeded its budget.
var ErrLimited = errors.New("rate_limited")

// Fingerprint identifies a requester for throttling purposes,
// typically derived from the client IP.
type Fingerprint string

// Limiter throttles requests per requester fingerprint using a token
// bucket per fingerprint. It gates request volume ahead of the grant
// state machines and is independent of their transactional guarantees.
type Limiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	buckets map[Fingerprint]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter allowing r sustained requests per second with
// the given burst per fingerprint.
func New(r float64, burst int) *Limiter {
	return &Limiter{
		rate:    rate.Limit(r),
		burst:   burst,
		buckets: make(map[Fingerprint]*bucket),
	}
}

// Check consumes one token for the fingerprint, returning ErrLimited
// when the bucket is empty.
func (l *Limiter) Check(fp Fingerprint) error {
	l.mu.Lock()
	b, ok := l.buckets[fp]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[fp] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	if !b.limiter.Allow() {
		return ErrLimited
	}
	return nil
}

// GC drops buckets idle for longer than maxIdle. It is advisory; a
// dropped bucket simply resets that requester's budget.
func (l *Limiter) GC(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()
	for fp, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, fp)
		}
	}
}
