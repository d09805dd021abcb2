package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if !requestIDPattern.MatchString(id) {
			t.Fatalf("generated ID %q does not match the accepted pattern", id)
		}
		if seen[id] {
			t.Fatalf("duplicate request ID %q", id)
		}
		seen[id] = true
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		upstream     string
		wantUpstream bool
	}{
		{name: "no upstream id", upstream: "", wantUpstream: false},
		{name: "valid upstream id", upstream: "abc-123_DEF", wantUpstream: true},
		{name: "header injection attempt", upstream: "abc\r\nX-Evil: 1", wantUpstream: false},
		{name: "too long", upstream: strings.Repeat("a", 129), wantUpstream: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromContext string
			handler := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				fromContext = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/", nil)
			if tt.upstream != "" {
				req.Header.Set(RequestIDHeader, tt.upstream)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if got == "" {
				t.Fatal("response is missing the request ID header")
			}
			if got != fromContext {
				t.Errorf("header %q and context %q disagree", got, fromContext)
			}
			if (got == tt.upstream) != tt.wantUpstream {
				t.Errorf("request ID = %q, upstream %q, wantUpstream %v", got, tt.upstream, tt.wantUpstream)
			}
		})
	}
}
