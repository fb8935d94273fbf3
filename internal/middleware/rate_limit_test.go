package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()

	ok, _ := rl.Allow("198.51.100.2")
	assert.True(t, ok)
	ok, _ = rl.Allow("198.51.100.2")
	assert.True(t, ok)

	ok, retry := rl.Allow("198.51.100.2")
	assert.False(t, ok)
	assert.Positive(t, retry)

	ok, _ = rl.Allow("203.0.113.7")
	assert.True(t, ok, "other clients keep their own bucket")
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Stop()

	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/authorization/login", nil)
	req.RemoteAddr = "192.0.2.10:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"forwarded chain", "203.0.113.7, 10.0.0.1", "10.0.0.1:443", "203.0.113.7"},
		{"single forwarded", "198.51.100.2", "10.0.0.1:443", "198.51.100.2"},
		{"remote addr", "", "192.0.2.44:51234", "192.0.2.44"},
		{"ipv6 remote addr", "", "[2001:db8::1]:8080", "2001:db8::1"},
		{"remote addr without port", "", "192.0.2.44", "192.0.2.44"},
		{"nothing", "", "", FallbackIP},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/authorization/public-ip", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}

func TestConnectionIPIgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/authorization/login", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")

	assert.Equal(t, "127.0.0.1", ConnectionIP(req))
}

func TestRateLimitIgnoresForwardedForFromDirectClients(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()

	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/authorization/check-address", nil)
		req.RemoteAddr = "203.0.113.10:40000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			allowed++
		}
	}

	assert.Equal(t, 2, allowed, "rotating X-Forwarded-For must not buy new buckets")
	rl.mu.Lock()
	assert.Len(t, rl.visitors, 1)
	rl.mu.Unlock()
}

func TestRateLimitHonoursForwardedForFromTrustedProxy(t *testing.T) {
	rl := NewRateLimiter(0.001, 1).TrustProxies([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})
	defer rl.Stop()

	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/authorization/login", nil)
		req.RemoteAddr = "10.0.0.5:443"
		req.Header.Set("X-Forwarded-For", client)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, send("198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.2"))
	assert.Equal(t, http.StatusOK, send("198.51.100.3"), "clients behind the proxy keep their own bucket")
}

func TestForwardedClientIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	cases := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"trusted proxy", "203.0.113.7, 10.0.0.1", "10.0.0.1:443", "203.0.113.7"},
		{"mapped trusted proxy", "203.0.113.7", "[::ffff:10.0.0.1]:443", "203.0.113.7"},
		{"direct client", "203.0.113.7", "192.0.2.44:51234", "192.0.2.44"},
		{"proxy without header", "", "10.0.0.1:443", "10.0.0.1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/authorization/login", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, ForwardedClientIP(req, proxies))
		})
	}
}
