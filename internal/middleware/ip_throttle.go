package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// IPThrottle is an in-process token bucket per client address. It guards the
// provider callbacks and read endpoints against bursts; CallRateLimiter owns
// the durable per-phone limits.
type IPThrottle struct {
	mu       sync.Mutex
	rate     float64
	burst    float64
	idleTTL  time.Duration
	buckets  map[string]*tokenBucket
	lastScan time.Time
	now      func() time.Time
}

// NewIPThrottle allows ratePerSec sustained requests with bursts up to burst.
// A non-positive rate disables throttling.
func NewIPThrottle(ratePerSec float64, burst int) *IPThrottle {
	if burst <= 0 {
		burst = int(ratePerSec) + 1
	}
	return &IPThrottle{
		rate:    ratePerSec,
		burst:   float64(burst),
		idleTTL: 10 * time.Minute,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

func (t *IPThrottle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t == nil || t.rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !t.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(int(1/t.rate)+1))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow spends one token from key's bucket.
func (t *IPThrottle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.evictIdle(now)
	b, ok := t.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: t.burst, lastRefill: now}
		t.buckets[key] = b
	}
	return b.take(now, t.rate, t.burst)
}

func (t *IPThrottle) evictIdle(now time.Time) {
	if now.Sub(t.lastScan) < t.idleTTL {
		return
	}
	t.lastScan = now
	for k, b := range t.buckets {
		if now.Sub(b.lastRefill) > t.idleTTL {
			delete(t.buckets, k)
		}
	}
}

// Len is the number of live buckets.
func (t *IPThrottle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

func (b *tokenBucket) take(now time.Time, rate, capacity float64) bool {
	b.tokens += now.Sub(b.lastRefill).Seconds() * rate
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastRefill = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
