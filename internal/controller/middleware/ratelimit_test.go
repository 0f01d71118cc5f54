package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func TestRateLimitMiddleware_AllowsRequestUnderLimit(t *testing.T) {
	handler := NewRateLimiter(WithLimit(100, 200)).Middleware()(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request("10.0.0.1:1234"))

	if rr.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_RejectsRequestOverLimit(t *testing.T) {
	handler := NewRateLimiter(WithLimit(1, 1)).Middleware()(okHandler())

	// First request should succeed (uses the burst)
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, request("10.0.0.1:1234"))
	if rr1.Code != http.StatusOK {
		t.Errorf("first request: got status %d, want %d", rr1.Code, http.StatusOK)
	}

	// Second request should be rate limited (burst exhausted)
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, request("10.0.0.1:5678"))
	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: got status %d, want %d", rr2.Code, http.StatusTooManyRequests)
	}
	if got := rr2.Header().Get("Retry-After"); got != "1" {
		t.Errorf("got Retry-After %q, want %q", got, "1")
	}
}

func TestRateLimitMiddleware_IndependentLimitsPerClient(t *testing.T) {
	handler := NewRateLimiter(WithLimit(1, 1)).Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), request("10.0.0.1:1"))

	rrA := httptest.NewRecorder()
	handler.ServeHTTP(rrA, request("10.0.0.1:2"))
	if rrA.Code != http.StatusTooManyRequests {
		t.Errorf("client A second request: got status %d, want %d", rrA.Code, http.StatusTooManyRequests)
	}

	rrB := httptest.NewRecorder()
	handler.ServeHTTP(rrB, request("10.0.0.2:1"))
	if rrB.Code != http.StatusOK {
		t.Errorf("client B request: got status %d, want %d", rrB.Code, http.StatusOK)
	}
}

func TestRateLimitMiddleware_UnlimitedWhenRateLimitZero(t *testing.T) {
	handlerCallCount := 0
	handler := NewRateLimiter().Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 10 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, request("10.0.0.1:1"))
		if rr.Code != http.StatusOK {
			t.Errorf("request %d: got status %d, want %d", i, rr.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 10 {
		t.Errorf("expected 10 handler calls, got %d", handlerCallCount)
	}
}

func TestRateLimitMiddleware_ExpiredLimiterIsReplaced(t *testing.T) {
	rl := NewRateLimiter(WithLimit(1, 1), WithTTL(time.Minute))
	now := time.Now()
	rl.now = func() time.Time { return now }
	handler := rl.Middleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), request("10.0.0.1:1"))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, request("10.0.0.1:1"))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusTooManyRequests)
	}

	now = now.Add(2 * time.Minute)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, request("10.0.0.1:1"))
	if rr.Code != http.StatusOK {
		t.Errorf("after ttl: got status %d, want %d", rr.Code, http.StatusOK)
	}
}
