package resolver

import (
	"sync"
	"time"

	"yasmin/internal/provider"
)

// breaker skips a vendor for a cooldown after threshold consecutive failures.
// A zero threshold disables it.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	failures  map[provider.Vendor]int
	openUntil map[provider.Vendor]time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		failures:  make(map[provider.Vendor]int),
		openUntil: make(map[provider.Vendor]time.Time),
	}
}

func (b *breaker) allow(v provider.Vendor) bool {
	if b == nil || b.threshold <= 0 {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.openUntil[v]
	if !ok {
		return true
	}
	if b.now().Before(until) {
		return false
	}
	// Half open: let one call through, a failure re-opens immediately.
	delete(b.openUntil, v)
	b.failures[v] = b.threshold - 1
	return true
}

func (b *breaker) success(v provider.Vendor) {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, v)
	delete(b.openUntil, v)
}

func (b *breaker) failure(v provider.Vendor) {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[v]++
	if b.failures[v] >= b.threshold {
		b.openUntil[v] = b.now().Add(b.cooldown)
	}
}
