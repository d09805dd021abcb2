package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/giantswarm/mcp-authserver/server"
)

func TestWriteError(t *testing.T) {
	env := newTestEnv(t)
	h := env.svc.Handler

	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantCode      string
		wantDesc      string
		wantChallenge bool
	}{
		{
			name:       "protocol error",
			err:        server.ErrInvalidGrant("Invalid, expired or already used authorization code"),
			wantStatus: http.StatusBadRequest,
			wantCode:   server.ErrorCodeInvalidGrant,
			wantDesc:   "Invalid, expired or already used authorization code",
		},
		{
			name:          "unauthorized carries a challenge",
			err:           server.ErrInvalidClient("Client authentication failed"),
			wantStatus:    http.StatusUnauthorized,
			wantCode:      server.ErrorCodeInvalidClient,
			wantDesc:      "Client authentication failed",
			wantChallenge: true,
		},
		{
			name:       "internal cause is not rendered",
			err:        server.ErrServerError("Failed to register client").WithCause(errors.New("disk full at /var/lib/x")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   server.ErrorCodeServerError,
			wantDesc:   "Failed to register client",
		},
		{
			name:       "plain error becomes server_error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   server.ErrorCodeServerError,
			wantDesc:   "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeError(rec, httptest.NewRequest(http.MethodPost, "/oauth/token", nil), tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.wantCode || body.ErrorDescription != tt.wantDesc {
				t.Errorf("body = %+v, want %s / %s", body, tt.wantCode, tt.wantDesc)
			}
			if strings.Contains(rec.Body.String(), "disk full") {
				t.Error("internal cause leaked into the response")
			}
			if got := rec.Header().Get("WWW-Authenticate") != ""; got != tt.wantChallenge {
				t.Errorf("WWW-Authenticate present = %v, want %v", got, tt.wantChallenge)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Error("error response is cacheable")
			}
		})
	}
}

func TestWriteError_BasicChallenge(t *testing.T) {
	env := newTestEnv(t)
	h := env.svc.Handler

	req := httptest.NewRequest(http.MethodPost, "/oauth/token", nil)
	req.SetBasicAuth("client", "wrong")
	rec := httptest.NewRecorder()
	h.writeError(rec, req, server.ErrInvalidClient("Client authentication failed"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got, want := rec.Header().Get("WWW-Authenticate"), `Basic realm="`+testIssuer+`"`; got != want {
		t.Errorf("WWW-Authenticate = %q, want %q", got, want)
	}

	// Other 401s keep the Bearer challenge even with Basic credentials
	rec = httptest.NewRecorder()
	h.writeError(rec, req, server.ErrInvalidToken("The access token is invalid"))
	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer ") {
		t.Errorf("WWW-Authenticate = %q, want a Bearer challenge", got)
	}
}

func TestQuoteEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: `say "hi"`, want: `say \"hi\"`},
		{in: `back\slash`, want: `back\\slash`},
		{in: `\"`, want: `\\\"`},
	}
	for _, tt := range tests {
		if got := quoteEscape(tt.in); got != tt.want {
			t.Errorf("quoteEscape(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsClientError(t *testing.T) {
	if !isClientError(server.ErrInvalidRequest("x")) {
		t.Error("invalid_request should be a client error")
	}
	if isClientError(server.ErrServerError("x")) {
		t.Error("server_error should not be a client error")
	}
	if isClientError(errors.New("x")) {
		t.Error("plain errors should not be client errors")
	}
}
