package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// FallbackIP is reported when a request carries no usable client address
const FallbackIP = "127.0.0.1"

// ClientIP returns the originating client address: the first X-Forwarded-For entry,
// else the host part of RemoteAddr, else FallbackIP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return FallbackIP
}

// ConnectionIP returns the host part of RemoteAddr and ignores forwarding headers
func ConnectionIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ForwardedClientIP returns ClientIP when the connection comes from one of proxies
// and ConnectionIP otherwise, so a direct client cannot choose its own address.
func ForwardedClientIP(r *http.Request, proxies []netip.Prefix) string {
	conn := ConnectionIP(r)
	addr, err := netip.ParseAddr(conn)
	if err != nil {
		return conn
	}
	addr = addr.Unmap()
	for _, p := range proxies {
		if p.Contains(addr) {
			return ClientIP(r)
		}
	}
	return conn
}
