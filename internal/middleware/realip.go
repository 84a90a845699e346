package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RealIP rewrites r.RemoteAddr to the client address reported by
// X-Forwarded-For or X-Real-IP, but only when the connecting peer is one of
// trusted. Requests from any other peer keep their connection address, so a
// client cannot pick its own identity for the rate limiter.
func RealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peer, ok := parseIP(r.RemoteAddr); ok && isTrusted(peer, trusted) {
				if ip := forwardedFor(r, trusted); ip != "" {
					r.RemoteAddr = ip
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedFor walks X-Forwarded-For from the nearest hop outwards and
// returns the first address that is not a trusted proxy.
func forwardedFor(r *http.Request, trusted []netip.Prefix) string {
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		var outermost string
		for i := len(hops) - 1; i >= 0; i-- {
			addr, ok := parseIP(strings.TrimSpace(hops[i]))
			if !ok {
				// Anything left of a malformed hop is client controlled.
				break
			}
			outermost = addr.String()
			if !isTrusted(addr, trusted) {
				return outermost
			}
		}
		return outermost
	}
	if addr, ok := parseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ok {
		return addr.String()
	}
	return ""
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// parseIP accepts a bare IP or a host:port pair.
func parseIP(s string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
