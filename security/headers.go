package security

import (
	"net/http"
	"strings"
)

// SetSecurityHeaders sets the response headers every OAuth endpoint carries.
// HSTS is only sent when the issuer is served over https.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")

	if strings.HasPrefix(strings.ToLower(issuer), "https://") {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

// SecurityHeaders is middleware applying SetSecurityHeaders to every response
func SecurityHeaders(issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			SetSecurityHeaders(w, issuer)
			next.ServeHTTP(w, r)
		})
	}
}
