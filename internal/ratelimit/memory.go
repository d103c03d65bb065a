package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Buckets idle longer than this are evicted by the sweeper.
const idleEviction = 10 * time.Minute

// tokenBucket tracks remaining capacity for one key. Refill happens lazily
// on access rather than on a timer, so idle keys cost nothing until swept.
type tokenBucket struct {
	remaining float64
	touchedAt time.Time
}

// MemoryLimiter is an in-process token bucket Limiter keyed by caller
// identity. Every key refills at the same sustained rate and shares the
// same burst capacity. A sweeper goroutine drops idle keys so the bucket
// map stays bounded; stop it with Close.
type MemoryLimiter struct {
	refillPerSec float64
	capacity     float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemoryLimiter creates a limiter allowing rate sustained requests per
// second per key, with bursts up to burst requests.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		refillPerSec: rate,
		capacity:     float64(burst),
		buckets:      make(map[string]*tokenBucket),
		closed:       make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Allow spends one token for key, reporting whether the request may proceed.
// An unseen key starts with a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &tokenBucket{remaining: m.capacity, touchedAt: now}
		m.buckets[key] = b
	} else {
		b.remaining += now.Sub(b.touchedAt).Seconds() * m.refillPerSec
		if b.remaining > m.capacity {
			b.remaining = m.capacity
		}
		b.touchedAt = now
	}

	if b.remaining < 1 {
		return false, nil
	}
	b.remaining--
	return true, nil
}

// Close stops the sweeper goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *MemoryLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.closed:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idleEviction)
			m.mu.Lock()
			for key, b := range m.buckets {
				if b.touchedAt.Before(cutoff) {
					delete(m.buckets, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
