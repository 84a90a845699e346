package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRealIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("192.0.2.7/32")}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trusted    []netip.Prefix
		want       string
	}{
		{"untrusted peer keeps its address", "203.0.113.5:4000", "1.2.3.4", "", trusted, "203.0.113.5:4000"},
		{"untrusted peer ignores x-real-ip", "203.0.113.5:4000", "", "1.2.3.4", trusted, "203.0.113.5:4000"},
		{"no trusted proxies configured", "10.0.0.1:4000", "1.2.3.4", "", nil, "10.0.0.1:4000"},
		{"trusted peer forwards client", "10.0.0.1:4000", "1.2.3.4", "", trusted, "1.2.3.4"},
		{"trusted chain skips inner proxies", "10.0.0.1:4000", "1.2.3.4, 192.0.2.7, 10.1.1.1", "", trusted, "1.2.3.4"},
		{"spoofed hop left of client is ignored", "10.0.0.1:4000", "6.6.6.6, 1.2.3.4", "", trusted, "1.2.3.4"},
		{"trusted peer with x-real-ip", "192.0.2.7:80", "", "1.2.3.4", trusted, "1.2.3.4"},
		{"trusted peer without headers", "10.0.0.1:4000", "", "", trusted, "10.0.0.1:4000"},
		{"malformed header", "10.0.0.1:4000", "not-an-ip", "", trusted, "10.0.0.1:4000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			var got string
			RealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			})).ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}
