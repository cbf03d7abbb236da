// Implements a per client token bucket rate limiter.

package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/maruel/mdbooks/internal/errors"
)

// limiterIdle is how long a bucket is kept without requests.
const limiterIdle = 10 * time.Minute

// limiter manages one token bucket per key.
type limiter struct {
	rate  rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newLimiter allows requests per window for each key, with a burst of
// requests. Stale buckets are removed until ctx is canceled.
func newLimiter(ctx context.Context, requests int, window time.Duration) *limiter {
	l := &limiter{
		rate:    rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		now:     time.Now,
		buckets: map[string]*bucket{},
	}
	go l.cleanupLoop(ctx)
	return l
}

// allow consumes a token of key. It returns the delay before a token is
// available when the request is rejected.
func (l *limiter) allow(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, max(delay, time.Second)
}

func (l *limiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup removes buckets that haven't been used recently and are full.
func (l *limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := l.now().Add(-limiterIdle)
	for key, b := range l.buckets {
		if b.lastSeen.Before(stale) && b.limiter.TokensAt(l.now()) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// rateLimit rejects requests of clients that exhausted their bucket with a
// 429. A nil limiter allows everything.
func rateLimit(l *limiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := l.allow(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
		if !ok {
			writeError(w, apierrors.TooManyRequests(retry))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of the remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
