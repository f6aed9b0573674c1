package clock

import (
	"crypto/rand"
	"sync"
	"time"
)

// Clock supplies wall time. Services take a Clock instead of calling
// time.Now so expiry behavior is deterministic under test.
type Clock interface {
	Now() time.Time
}

// Rng supplies cryptographic randomness.
type Rng interface {
	Bytes(n int) ([]byte, error)
}

// System reads the real wall clock and crypto/rand.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

func (System) Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Fake is a settable clock for tests.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

// NewFake returns a Fake pinned to t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t.UTC()
}

// FakeRng hands out a deterministic byte pattern, counting up per call
// so generated values stay unique within a test.
type FakeRng struct {
	mu  sync.Mutex
	ctr byte
}

func (r *FakeRng) Bytes(n int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctr++
	b := make([]byte, n)
	for i := range b {
		b[i] = r.ctr + byte(i)
	}
	return b, nil
}
