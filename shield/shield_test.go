package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options: got %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got == "" {
		t.Error("missing Content-Security-Policy")
	}
}

func TestTraceIDInjectsContextAndHeader(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTraceID(r.Context())
		if Logger(r.Context()) == nil {
			t.Error("no logger in context")
		}
	})
	rec := httptest.NewRecorder()
	TraceID(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Error("no trace ID in context")
	}
	if got := rec.Header().Get("X-Trace-ID"); got != seen {
		t.Errorf("header %q != context %q", got, seen)
	}
}

func TestRateLimiterAllowWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 2, Window: time.Hour})
	defer rl.Close()

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("third request should be blocked")
	}
	// Other clients have their own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("different IP should pass")
	}
}

func TestRateLimiterMiddleware429(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxRequests: 1, Window: time.Hour})
	defer rl.Close()
	h := rl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/deploy", nil)
	req.RemoteAddr = "192.0.2.1:4711"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After: got %q", got)
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	if got := ExtractIP(req); got != "192.0.2.7" {
		t.Errorf("RemoteAddr: got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 192.0.2.7")
	if got := ExtractIP(req); got != "203.0.113.5" {
		t.Errorf("X-Forwarded-For: got %q", got)
	}
}

func TestMaxBody(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := MaxBody(4)(inner)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("small body: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("well over four bytes"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: got %d", rec.Code)
	}
}
