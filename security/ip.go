package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address of the caller. With trustProxy set the
// X-Forwarded-For chain is consulted, skipping trustedProxyCount hops from
// the right (0 is treated as 1), then X-Real-IP. Otherwise only the
// connection's remote address is used, since both headers are caller
// controlled.
func ClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := fromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// fromForwardedFor picks the client entry out of "client, proxy1, proxy2".
// When the chain is shorter than the trusted hop count the leftmost entry
// is used.
func fromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	if trustedProxyCount <= 0 {
		trustedProxyCount = 1
	}

	hops := strings.Split(xff, ",")
	idx := len(hops) - trustedProxyCount - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
