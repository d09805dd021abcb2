package security

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

type requestIDContextKey struct{}

// RequestIDHeader is the HTTP header carrying the request ID
const RequestIDHeader = "X-Request-ID"

// Upstream IDs are accepted only if they cannot smuggle header content.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// GenerateRequestID returns a new random request ID
func GenerateRequestID() string {
	return uuid.NewString()
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return ""
}

// RequestIDMiddleware keeps a well-formed upstream X-Request-ID or generates
// a new one, echoes it on the response, and stores it in the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !requestIDPattern.MatchString(requestID) {
			requestID = GenerateRequestID()
		}

		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}
