package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nerrad567/homecore/internal/infrastructure/config"
)

func TestRateLimiter_PerClient(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2})
	l.now = func() time.Time { return now }

	if !l.allow("a") || !l.allow("a") {
		t.Fatal("burst not honoured")
	}
	if l.allow("a") {
		t.Error("third request within burst window allowed")
	}
	if !l.allow("b") {
		t.Error("second client shares first client's bucket")
	}

	now = now.Add(time.Second)
	if !l.allow("a") {
		t.Error("token not refilled after one second at 60 rpm")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	l := newRateLimiter(config.RateLimitConfig{Enabled: true})
	if l.burst != 1 || l.perSecond != 1 {
		t.Errorf("defaults = burst %d, rate %v; want 1, 1", l.burst, l.perSecond)
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(config.RateLimitConfig{RequestsPerMinute: 60, Burst: 1})
	l.now = func() time.Time { return now }

	l.allow("old")
	now = now.Add(10 * time.Minute)
	l.allow("recent")

	if removed := l.sweep(5 * time.Minute); removed != 1 {
		t.Errorf("sweep() removed %d, want 1", removed)
	}
	if _, ok := l.visitors["recent"]; !ok {
		t.Error("recent visitor was swept")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		xff    string
		want   string
	}{
		{"192.0.2.1:1234", "", "192.0.2.1"},
		{"[2001:db8::1]:443", "", "2001:db8::1"},
		{"192.0.2.1:1234", "203.0.113.9", "192.0.2.1"},
		{"unix-socket", "", "unix-socket"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		if tt.xff != "" {
			req.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
