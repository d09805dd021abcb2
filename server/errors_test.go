package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *Error
		wantCode   string
		wantStatus int
	}{
		{"invalid_request", ErrInvalidRequest("x"), ErrorCodeInvalidRequest, http.StatusBadRequest},
		{"invalid_client_metadata", ErrInvalidClientMetadata("x"), ErrorCodeInvalidClientMetadata, http.StatusBadRequest},
		{"invalid_redirect_uri", ErrInvalidRedirectURI("x"), ErrorCodeInvalidRedirectURI, http.StatusBadRequest},
		{"invalid_grant", ErrInvalidGrant("x"), ErrorCodeInvalidGrant, http.StatusBadRequest},
		{"invalid_client", ErrInvalidClient("x"), ErrorCodeInvalidClient, http.StatusUnauthorized},
		{"invalid_scope", ErrInvalidScope("x"), ErrorCodeInvalidScope, http.StatusBadRequest},
		{"invalid_token", ErrInvalidToken("x"), ErrorCodeInvalidToken, http.StatusUnauthorized},
		{"unauthorized_client", ErrUnauthorizedClient("x"), ErrorCodeUnauthorizedClient, http.StatusBadRequest},
		{"unknown client", ErrUnknownClient("x"), ErrorCodeUnauthorizedClient, http.StatusUnauthorized},
		{"unsupported_grant_type", ErrUnsupportedGrantType("x"), ErrorCodeUnsupportedGrantType, http.StatusBadRequest},
		{"unsupported_response_type", ErrUnsupportedResponseType("x"), ErrorCodeUnsupportedResponseType, http.StatusBadRequest},
		{"rate_limit_exceeded", ErrRateLimitExceeded("x"), ErrorCodeRateLimitExceeded, http.StatusTooManyRequests},
		{"server_error", ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Description != "x" {
				t.Errorf("Description = %q, want x", tt.err.Description)
			}
		})
	}
}

func TestError_WithCause(t *testing.T) {
	cause := errors.New("disk full")
	base := ErrServerError("Failed to save")
	wrapped := base.WithCause(cause)

	if base.Err != nil {
		t.Error("WithCause must not modify the receiver")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should find the cause")
	}
	if got := wrapped.Error(); got != "server_error: Failed to save: disk full" {
		t.Errorf("Error() = %q", got)
	}
	if got := base.Error(); got != "server_error: Failed to save" {
		t.Errorf("Error() = %q", got)
	}
}

func TestAsError(t *testing.T) {
	oerr := ErrInvalidGrant("bad code")
	if got := AsError(fmt.Errorf("wrapped: %w", oerr)); got != oerr {
		t.Errorf("AsError() = %v, want the wrapped protocol error", got)
	}

	plain := errors.New("boom")
	got := AsError(plain)
	if got.Code != ErrorCodeServerError || got.Status != http.StatusInternalServerError {
		t.Errorf("AsError(plain) = %+v, want server_error/500", got)
	}
	if !errors.Is(got, plain) {
		t.Error("AsError should keep the original error as cause")
	}
}
