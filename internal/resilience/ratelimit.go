package resilience

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// LimiterSet holds one token-bucket limiter per external adapter. Vendor
// quotas are shared across workflows on a worker, so the set is process-wide.
type LimiterSet struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	defaults rate.Limit
	burst    int
}

// NewLimiterSet creates a set with a default rate applied to adapters that
// have no explicit configuration.
func NewLimiterSet(defaultPerSec float64, burst int) *LimiterSet {
	if defaultPerSec <= 0 {
		defaultPerSec = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &LimiterSet{
		limiters: make(map[string]*rate.Limiter),
		defaults: rate.Limit(defaultPerSec),
		burst:    burst,
	}
}

// Configure sets an explicit rate for an adapter.
func (s *LimiterSet) Configure(adapter string, perSec float64, burst int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if burst <= 0 {
		burst = 1
	}
	s.limiters[adapter] = rate.NewLimiter(rate.Limit(perSec), burst)
}

func (s *LimiterSet) limiter(adapter string) *rate.Limiter {
	s.mu.RLock()
	l, ok := s.limiters[adapter]
	s.mu.RUnlock()
	if ok {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.limiters[adapter]; ok {
		return l
	}
	l = rate.NewLimiter(s.defaults, s.burst)
	s.limiters[adapter] = l
	return l
}

// Wait blocks until the adapter's bucket yields a token or the context is
// done. Waiting (rather than failing fast) keeps activity latency smooth
// under normal load.
func (s *LimiterSet) Wait(ctx context.Context, adapter string) error {
	if err := s.limiter(adapter).Wait(ctx); err != nil {
		return eris.Wrapf(err, "ratelimit: wait %s", adapter)
	}
	return nil
}

// Reserve returns a RATE_LIMITED error carrying the wait hint when the
// bucket is exhausted, letting the workflow apply rate-aware retry instead
// of blocking the worker slot.
func (s *LimiterSet) Reserve(adapter string) error {
	r := s.limiter(adapter).Reserve()
	if !r.OK() {
		return RateLimited(eris.Errorf("ratelimit: %s bucket unservable", adapter), 0)
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return RateLimited(eris.Errorf("ratelimit: %s exhausted", adapter), d)
	}
	return nil
}
