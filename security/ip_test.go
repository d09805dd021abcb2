package security

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name:       "headers ignored without trustProxy",
			remoteAddr: "192.0.2.1:1234",
			xff:        "203.0.113.9",
			xRealIP:    "203.0.113.10",
			want:       "192.0.2.1",
		},
		{
			name:       "single proxy",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.9, 10.0.0.1",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:              "spoofed leftmost entry skipped",
			remoteAddr:        "10.0.0.1:1234",
			xff:               "6.6.6.6, 203.0.113.9, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.9",
		},
		{
			name:              "short chain uses leftmost",
			remoteAddr:        "10.0.0.1:1234",
			xff:               "203.0.113.9",
			trustProxy:        true,
			trustedProxyCount: 3,
			want:              "203.0.113.9",
		},
		{
			name:       "invalid xff falls back to x-real-ip",
			remoteAddr: "10.0.0.1:1234",
			xff:        "not-an-ip, 10.0.0.1",
			xRealIP:    "203.0.113.10",
			trustProxy: true,
			want:       "203.0.113.10",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := ClientIP(req, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
