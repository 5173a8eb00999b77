package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(1, 3, time.Minute)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("ip1") {
			t.Fatalf("request %d denied within burst", i+1)
		}
	}
	if l.Allow("ip1") {
		t.Error("request beyond burst allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Stop()

	if !l.Allow("a") {
		t.Fatal("first key denied")
	}
	if !l.Allow("b") {
		t.Error("second key affected by first")
	}
}

func TestRefill(t *testing.T) {
	l := New(1, 1, 20*time.Millisecond)
	defer l.Stop()

	if !l.Allow("k") {
		t.Fatal("initial token missing")
	}
	if l.Allow("k") {
		t.Fatal("empty bucket allowed")
	}
	time.Sleep(30 * time.Millisecond)
	if !l.Allow("k") {
		t.Error("bucket not refilled after interval")
	}
}

func TestLRUEviction(t *testing.T) {
	l := New(1, 1, time.Minute, WithMaxKeys(2))
	defer l.Stop()

	l.Allow("a")
	l.Allow("b")
	l.Allow("c") // evicts "a"

	// "a" gets a fresh bucket, so it is allowed again despite being drained.
	if !l.Allow("a") {
		t.Error("evicted key did not get a fresh bucket")
	}
}

func TestMiddleware(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "10.0.0.1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestClientKeyPrefersProxyHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:5678"
	if got := clientKey(req); got != "1.2.3.4:5678" {
		t.Errorf("clientKey = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "9.9.9.9, 8.8.8.8")
	if got := clientKey(req); got != "9.9.9.9" {
		t.Errorf("clientKey with XFF = %q", got)
	}
	req.Header.Set("X-Real-IP", "7.7.7.7")
	if got := clientKey(req); got != "7.7.7.7" {
		t.Errorf("clientKey with X-Real-IP = %q", got)
	}
}

func TestUpdateLimits(t *testing.T) {
	l := New(1, 1, time.Minute)
	defer l.Stop()

	l.Allow("k")
	l.UpdateLimits(100, 100)
	// New burst applies on next refill; existing token count stays drained.
	if l.Allow("k") {
		t.Error("drained bucket allowed immediately after UpdateLimits")
	}
}
