package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/bulkmail/internal/auth"
	"github.com/stiffinWanjohi/bulkmail/internal/ratelimit"
)

func setupTestRateLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.New(client)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func countResults(handler http.Handler, n int, build func() *http.Request) (ok, limited int) {
	for range n {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, build())
		switch rr.Code {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			limited++
		}
	}
	return ok, limited
}

func TestRateLimitMiddleware_NoLimits(t *testing.T) {
	handler := RateLimitMiddleware(setupTestRateLimiter(t), RateLimitConfig{})(okHandler())

	ok, limited := countResults(handler, 50, func() *http.Request {
		return httptest.NewRequest(http.MethodGet, "/api/drafts", nil)
	})
	if ok != 50 || limited != 0 {
		t.Errorf("expected all requests to pass, got ok=%d limited=%d", ok, limited)
	}
}

func TestRateLimitMiddleware_GlobalLimit(t *testing.T) {
	handler := RateLimitMiddleware(setupTestRateLimiter(t), RateLimitConfig{GlobalLimit: 5})(okHandler())

	ok, limited := countResults(handler, 10, func() *http.Request {
		return httptest.NewRequest(http.MethodGet, "/api/drafts", nil)
	})
	if ok != 5 || limited != 5 {
		t.Errorf("expected 5 allowed and 5 limited, got ok=%d limited=%d", ok, limited)
	}
}

func TestRateLimitMiddleware_ClientLimitByAPIKey(t *testing.T) {
	handler := RateLimitMiddleware(setupTestRateLimiter(t), RateLimitConfig{ClientLimit: 2})(okHandler())

	forClient := func(id string) func() *http.Request {
		return func() *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/api/drafts", nil)
			return req.WithContext(auth.WithClientID(req.Context(), id))
		}
	}

	ok, limited := countResults(handler, 4, forClient("key-a"))
	if ok != 2 || limited != 2 {
		t.Errorf("client a: expected 2/2, got ok=%d limited=%d", ok, limited)
	}

	ok, _ = countResults(handler, 2, forClient("key-b"))
	if ok != 2 {
		t.Errorf("client b should have its own budget, got ok=%d", ok)
	}
}

func TestRateLimitMiddleware_ClientLimitByAddress(t *testing.T) {
	handler := RateLimitMiddleware(setupTestRateLimiter(t), RateLimitConfig{ClientLimit: 1})(okHandler())

	from := func(addr string) func() *http.Request {
		return func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/api/connection/test", nil)
			req.RemoteAddr = addr
			return req
		}
	}

	if ok, limited := countResults(handler, 2, from("10.0.0.1:5000")); ok != 1 || limited != 1 {
		t.Errorf("expected 1/1 for first address, got ok=%d limited=%d", ok, limited)
	}
	if ok, _ := countResults(handler, 1, from("10.0.0.1:6000")); ok != 0 {
		t.Error("a different port on the same host must share the budget")
	}
	if ok, _ := countResults(handler, 1, from("10.0.0.2:5000")); ok != 1 {
		t.Error("a different host must have its own budget")
	}
}

func TestRateLimitMiddleware_ScopesAreSeparate(t *testing.T) {
	limiter := setupTestRateLimiter(t)
	api := RateLimitMiddleware(limiter, RateLimitConfig{Scope: "api:", GlobalLimit: 1})(okHandler())
	send := RateLimitMiddleware(limiter, RateLimitConfig{Scope: "send:", GlobalLimit: 1})(okHandler())

	build := func() *http.Request { return httptest.NewRequest(http.MethodGet, "/", nil) }
	if ok, _ := countResults(api, 1, build); ok != 1 {
		t.Fatal("api scope should allow its first request")
	}
	if ok, _ := countResults(send, 1, build); ok != 1 {
		t.Fatal("send scope must not share the api counter")
	}
}

func TestRateLimitMiddleware_ResponseHeaders(t *testing.T) {
	limiter := setupTestRateLimiter(t).WithWindow(time.Minute)
	handler := RateLimitMiddleware(limiter, RateLimitConfig{GlobalLimit: 1})(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Errorf("expected Retry-After 60 for a one minute window, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Errorf("expected X-RateLimit-Limit 1, got %q", got)
	}
	if rr.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset header")
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", got)
	}
}

func TestRateLimitClient(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	if got := rateLimitClient(req); got != "ip:192.0.2.7" {
		t.Errorf("rateLimitClient() = %q", got)
	}

	req = req.WithContext(auth.WithClientID(context.Background(), "key-abc"))
	if got := rateLimitClient(req); got != "key-abc" {
		t.Errorf("rateLimitClient() = %q, want key-abc", got)
	}
}
