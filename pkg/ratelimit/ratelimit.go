// Package ratelimit provides the per-caller token bucket limiter that
// sits in front of all business logic at ingress.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ressKim-io/goeats/pkg/apperr"
	"github.com/ressKim-io/goeats/pkg/log"
	"github.com/ressKim-io/goeats/pkg/metrics"
)

// Limiter keeps one token bucket per caller identity. The key is the
// trusted X-User-Id header when present, the client IP otherwise.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a limiter allowing requestsPerSecond with the
// given burst per caller.
func NewLimiter(requestsPerSecond, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether one request for key may proceed.
func (l *Limiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

// Middleware rejects over-limit requests with 429 problem details
// before any business logic runs.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	logger := log.WithComponent("ratelimit")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := CallerKey(r)
		if !l.Allow(key) {
			metrics.RateLimitedTotal.Inc()
			logger.Warn().
				Str("caller", key).
				Str("path", r.URL.Path).
				Msg("Rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(1))
			apperr.WriteProblem(w, apperr.RateLimitExceeded(key))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CallerKey extracts the caller identity: the edge-validated user id
// when present, client IP as the fallback for unauthenticated paths.
func CallerKey(r *http.Request) string {
	if uid := r.Header.Get("X-User-Id"); uid != "" {
		return "user:" + uid
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// StartCleanup checks the bucket map periodically and drops all buckets
// once it holds more than 10,000 callers, so the map does not grow
// without bound. Returns a stop function.
func (l *Limiter) StartCleanup(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				l.mu.Lock()
				if len(l.limiters) > 10000 {
					l.limiters = make(map[string]*rate.Limiter)
				}
				l.mu.Unlock()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
