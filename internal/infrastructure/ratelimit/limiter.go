// Package ratelimit throttles outbound provider calls with one token bucket
// per integration.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// burstDivisor sets the bucket size to a tenth of the per-minute allowance
const burstDivisor = 10

// Stats contains usage counters of a limiter
type Stats struct {
	Acquired  int64
	WaitTotal time.Duration
	Buckets   int
}

// ProviderLimiter holds a token bucket per integration. The allowance is
// re-read on every call so configuration changes apply to the next request.
//
// Thread Safety: Safe for concurrent use.
type ProviderLimiter struct {
	mu      sync.Mutex
	buckets map[uuid.UUID]*bucket

	acquired  atomic.Int64
	waitTotal atomic.Int64
}

type bucket struct {
	limiter   *rate.Limiter
	perMinute int
}

// NewProviderLimiter creates an empty ProviderLimiter
func NewProviderLimiter() *ProviderLimiter {
	return &ProviderLimiter{buckets: make(map[uuid.UUID]*bucket)}
}

func burstFor(perMinute int) int {
	return max(1, perMinute/burstDivisor)
}

func (l *ProviderLimiter) bucketFor(integrationID uuid.UUID, perMinute int) *rate.Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	limit := rate.Limit(float64(perMinute) / 60.0)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[integrationID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(limit, burstFor(perMinute)), perMinute: perMinute}
		l.buckets[integrationID] = b
		return b.limiter
	}
	if b.perMinute != perMinute {
		b.limiter.SetLimit(limit)
		b.limiter.SetBurst(burstFor(perMinute))
		b.perMinute = perMinute
	}
	return b.limiter
}

// Wait blocks until the integration may issue another provider call or ctx ends
func (l *ProviderLimiter) Wait(ctx context.Context, integrationID uuid.UUID, perMinute int) error {
	start := time.Now()
	if err := l.bucketFor(integrationID, perMinute).Wait(ctx); err != nil {
		return err
	}
	l.acquired.Add(1)
	l.waitTotal.Add(int64(time.Since(start)))
	return nil
}

// Allow reports whether a call may be issued now without waiting
func (l *ProviderLimiter) Allow(integrationID uuid.UUID, perMinute int) bool {
	ok := l.bucketFor(integrationID, perMinute).Allow()
	if ok {
		l.acquired.Add(1)
	}
	return ok
}

// Forget drops the bucket of an integration
func (l *ProviderLimiter) Forget(integrationID uuid.UUID) {
	l.mu.Lock()
	delete(l.buckets, integrationID)
	l.mu.Unlock()
}

// Stats returns usage counters
func (l *ProviderLimiter) Stats() Stats {
	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	return Stats{
		Acquired:  l.acquired.Load(),
		WaitTotal: time.Duration(l.waitTotal.Load()),
		Buckets:   n,
	}
}
