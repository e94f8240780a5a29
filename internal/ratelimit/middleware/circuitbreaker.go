package middleware

import "sync"

const (
	defaultTripAfter    = 5
	defaultRecoverAfter = 3
)

// breaker guards the bucket store. It trips after tripAfter consecutive store
// errors; while tripped the limiter answers from its in-memory fallback and
// keeps probing the store, and recoverAfter consecutive good probes reset it.
type breaker struct {
	mu           sync.Mutex
	tripped      bool
	failures     int
	probes       int
	tripAfter    int
	recoverAfter int
}

func newBreaker(tripAfter, recoverAfter int) *breaker {
	if tripAfter < 1 {
		tripAfter = defaultTripAfter
	}
	if recoverAfter < 1 {
		recoverAfter = defaultRecoverAfter
	}
	return &breaker{tripAfter: tripAfter, recoverAfter: recoverAfter}
}

func (b *breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Fail records a store error and returns whether the breaker is tripped.
func (b *breaker) Fail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probes = 0
	b.failures++
	if !b.tripped && b.failures >= b.tripAfter {
		b.tripped = true
	}
	return b.tripped
}

// Succeed records a good store call and returns whether the breaker is reset.
func (b *breaker) Succeed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		b.failures = 0
		return true
	}
	b.probes++
	if b.probes < b.recoverAfter {
		return false
	}
	b.tripped = false
	b.failures, b.probes = 0, 0
	return true
}
