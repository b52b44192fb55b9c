// Package ratelimit throttles browser requests per client address
package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// idleWindow is how long an unused per-client limiter is kept
const idleWindow = 5 * time.Minute

// Limiter enforces a per-client request budget
type Limiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients *ttlcache.Cache[string, *rate.Limiter]
}

// New creates a limiter for the given requests-per-minute budget. A
// non-positive budget returns nil, which disables throttling.
func New(requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	clients := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](idleWindow),
	)
	go clients.Start()

	return &Limiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		clients: clients,
	}
}

// Middleware rejects requests over budget with 429 slow_down
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reservation := l.limiter(clientKey(r)).Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			retry := int(math.Ceil(delay.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "slow_down",
				"error_description": "Too many requests. Please slow down.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop ends the eviction loop
func (l *Limiter) Stop() {
	if l != nil {
		l.clients.Stop()
	}
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Get refreshes the idle window on every hit
	if item := l.clients.Get(key); item != nil {
		return item.Value()
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.clients.Set(key, limiter, ttlcache.DefaultTTL)
	return limiter
}

// clientKey expects RemoteAddr to have been rewritten by a real-IP middleware
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
