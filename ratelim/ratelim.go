package ratelim

import (
	"net"
	"net/http"
	"sync"
	"time"

	"mentorly/globals"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per caller.
type RateLimiter struct {
	visitors map[string]*rate.Limiter
	mu       sync.Mutex
	every    rate.Limit
	burst    int
	ttl      time.Duration
}

// NewRateLimiter allows perMinute requests per caller with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 60
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*rate.Limiter),
		every:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		ttl:      10 * time.Minute,
	}
}

// Get or create a rate limiter for a caller
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.visitors[key]; exists {
		return limiter
	}

	limiter := rate.NewLimiter(rl.every, rl.burst)
	rl.visitors[key] = limiter

	// Forget the caller after ttl
	go func() {
		time.Sleep(rl.ttl)
		rl.mu.Lock()
		delete(rl.visitors, key)
		rl.mu.Unlock()
	}()

	return limiter
}

// callerKey prefers the authenticated user over the remote address.
func callerKey(r *http.Request) string {
	if id, ok := r.Context().Value(globals.UserIDKey).(string); ok && id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Limit is the middleware enforcing the rate.
func (rl *RateLimiter) Limit(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !rl.getLimiter(callerKey(r)).Allow() {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r, ps)
	}
}
