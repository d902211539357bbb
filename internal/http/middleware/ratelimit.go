package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/setu/events-api/internal/utils/response"
)

const limiterTTL = 15 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

func (s *limiterStore) limiter(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stale clients are swept inline so no background goroutine is needed.
	if now.Sub(s.lastSweep) > limiterTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > limiterTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	if e, ok := s.limiters[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMinute)), s.perMinute)
	s.limiters[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

// RateLimit allows each client address perMinute requests per minute, with
// a burst of the same size. perMinute <= 0 disables limiting.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	store := &limiterStore{perMinute: perMinute, limiters: make(map[string]*limiterEntry)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.limiter(clientKey(r), time.Now()).Allow() {
				w.Header().Set("Retry-After", "60")
				response.WriteJSON(w, http.StatusTooManyRequests,
					response.Fail(response.CodeRateLimited, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
