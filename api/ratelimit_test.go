package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*ipWindowLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	rl := newIPWindowLimiter(limit, window)
	rl.now = clock.now
	return rl, clock
}

func TestIPWindowLimiter_AllowsUpToLimit(t *testing.T) {
	rl, _ := newTestLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		ok, _ := rl.allow("198.51.100.1")
		assert.True(t, ok, "request %d should pass", i+1)
	}
	ok, retryAfter := rl.allow("198.51.100.1")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestIPWindowLimiter_SlidingWindow(t *testing.T) {
	rl, clock := newTestLimiter(2, time.Minute)

	ok, _ := rl.allow("198.51.100.1")
	require.True(t, ok)
	clock.advance(40 * time.Second)
	ok, _ = rl.allow("198.51.100.1")
	require.True(t, ok)

	ok, retryAfter := rl.allow("198.51.100.1")
	require.False(t, ok)
	assert.Equal(t, 20*time.Second, retryAfter, "oldest request ages out first")

	// The first request leaves the window; one slot opens.
	clock.advance(21 * time.Second)
	ok, _ = rl.allow("198.51.100.1")
	assert.True(t, ok)
	ok, _ = rl.allow("198.51.100.1")
	assert.False(t, ok)
}

func TestIPWindowLimiter_RejectedRequestsNotCounted(t *testing.T) {
	rl, clock := newTestLimiter(1, time.Minute)
	ok, _ := rl.allow("198.51.100.1")
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		clock.advance(10 * time.Second)
		ok, _ = rl.allow("198.51.100.1")
		require.False(t, ok)
	}
	clock.advance(11 * time.Second)
	ok, _ = rl.allow("198.51.100.1")
	assert.True(t, ok, "hammering while blocked must not extend the block")
}

func TestIPWindowLimiter_IsolatesIPs(t *testing.T) {
	rl, _ := newTestLimiter(1, time.Minute)
	ok, _ := rl.allow("198.51.100.1")
	require.True(t, ok)
	ok, _ = rl.allow("198.51.100.1")
	require.False(t, ok)

	ok, _ = rl.allow("198.51.100.2")
	assert.True(t, ok)
}

func TestIPWindowLimiter_DisabledWhenLimitZero(t *testing.T) {
	rl, _ := newTestLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		ok, _ := rl.allow("198.51.100.1")
		require.True(t, ok)
	}
	assert.Empty(t, rl.requests)
}

func TestIPWindowLimiter_SweepRemovesIdle(t *testing.T) {
	rl, clock := newTestLimiter(5, time.Minute)
	rl.allow("198.51.100.1")
	clock.advance(30 * time.Second)
	rl.allow("198.51.100.2")

	clock.advance(45 * time.Second)
	rl.sweep()

	assert.NotContains(t, rl.requests, "198.51.100.1")
	assert.Contains(t, rl.requests, "198.51.100.2")
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(200*time.Millisecond))
	assert.Equal(t, "60", retryAfterString(59*time.Second+time.Millisecond))
	assert.Equal(t, "900", retryAfterString(15*time.Minute))
}

func TestRateLimitAssumeMiddleware(t *testing.T) {
	store, err := newAuditStore(newTestRepo(), 0)
	require.NoError(t, err)
	a := &API{
		assumeLimiter: newIPWindowLimiter(1, time.Minute),
		audit:         newAuditLogger(discardLogger()),
	}
	a.audit.store = store

	calls := 0
	h := a.rateLimitAssume(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/assume-role", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"success":false,"error":"Too many assume-role requests. Try again later."}`, rec.Body.String())
	assert.Equal(t, 1, calls)

	entries, _, err := store.entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, AuditAssumeRoleRateLimited, entries[0].Event)
	assert.Equal(t, "198.51.100.7", entries[0].RemoteAddr)
}

// ---------------------------------------------------------------------------
// extractClientIP tests
// ---------------------------------------------------------------------------

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "remote ipv6", remoteAddr: "[::1]:8080", want: "::1"},
		{
			name:       "xff ignored without trusted proxies",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			want:       "10.0.0.1",
		},
		{
			name:       "x-real-ip ignored without trusted proxies",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.11"},
			want:       "10.0.0.1",
		},
		{name: "empty when nothing parseable", remoteAddr: "not-a-hostport", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIP(r))
		})
	}
}

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		proxies    []netip.Prefix
		want       string
	}{
		{
			name:       "trusted proxy honors first valid XFF entry",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "unknown, 203.0.113.50, 10.0.0.3"},
			proxies:    trusted,
			want:       "203.0.113.50",
		},
		{
			name:       "trusted proxy falls back to Forwarded",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": `for=198.51.100.1;proto=https`},
			proxies:    trusted,
			want:       "198.51.100.1",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "198.51.100.30"},
			proxies:    trusted,
			want:       "198.51.100.30",
		},
		{
			name:       "trusted proxy with no headers uses remote",
			remoteAddr: "10.0.0.1:80",
			proxies:    trusted,
			want:       "10.0.0.1",
		},
		{
			name:       "spoofed headers from untrusted peer ignored",
			remoteAddr: "203.0.113.99:12345",
			headers: map[string]string{
				"X-Forwarded-For": "10.0.0.1",
				"Forwarded":       "for=10.0.0.2",
				"X-Real-IP":       "10.0.0.3",
			},
			proxies: trusted,
			want:    "203.0.113.99",
		},
		{
			name:       "quoted IPv6 in Forwarded",
			remoteAddr: "[fd00::1]:80",
			headers:    map[string]string{"Forwarded": `for="[2001:db8::42]:1234"`},
			proxies:    []netip.Prefix{netip.MustParsePrefix("fd00::/8")},
			want:       "2001:db8::42",
		},
		{
			name:       "adjacent IP outside /32 not trusted",
			remoteAddr: "10.0.0.2:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			proxies:    []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")},
			want:       "10.0.0.2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.proxies))
		})
	}
}

func TestWithTrustedProxies(t *testing.T) {
	opt, err := WithTrustedProxies([]string{"10.1.2.3/8", " 172.16.0.1 ", "::1", ""})
	require.NoError(t, err)
	a := &API{}
	opt(a)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.1/32"),
		netip.MustParsePrefix("::1/128"),
	}, a.trustedProxies)

	_, err = WithTrustedProxies([]string{"10.0.0.0/8", "garbage"})
	assert.Error(t, err)
	_, err = WithTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
