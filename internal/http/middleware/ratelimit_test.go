package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimit(t *testing.T) {
	h := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1111"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:2222"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:3333"), "same host, different port")
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1111"), "other clients are unaffected")
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestLimiterStoreSweepsStaleClients(t *testing.T) {
	s := &limiterStore{perMinute: 1, limiters: make(map[string]*limiterEntry)}
	start := time.Now()
	s.lastSweep = start

	s.limiter("a", start)
	s.limiter("b", start.Add(limiterTTL))
	s.limiter("b", start.Add(limiterTTL+time.Minute))

	assert.NotContains(t, s.limiters, "a")
	assert.Contains(t, s.limiters, "b")
}
