package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClientMetadata   = "invalid_client_metadata"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// Error is a protocol error: an OAuth error code, a description safe to show
// the client, and the HTTP status it maps to. Err holds the internal cause,
// which is logged but never rendered.
type Error struct {
	Code        string
	Description string
	Status      int
	Err         error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the internal cause
func (e *Error) Unwrap() error {
	return e.Err
}

// WithCause attaches an internal cause to a copy of e
func (e *Error) WithCause(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// NewError creates a new protocol error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// AsError extracts a protocol error from err. Any other error becomes a
// server_error wrapping it.
func AsError(err error) *Error {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return ErrServerError("Internal server error").WithCause(err)
}

// Constructors for the protocol errors the engine returns
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidClientMetadata indicates registration metadata failed validation
	ErrInvalidClientMetadata = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClientMetadata, desc, http.StatusBadRequest)
	}

	// ErrInvalidRedirectURI indicates a registered redirect URI is malformed
	ErrInvalidRedirectURI = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code is invalid, expired,
	// already used, or the PKCE verifier does not match
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is not supported
	ErrInvalidScope = func(desc string) *Error {
		return NewError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrInvalidToken indicates the bearer token is invalid or expired
	ErrInvalidToken = func(desc string) *Error {
		return NewError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
	}

	// ErrUnauthorizedClient indicates the client may not use this flow.
	// Status is 400; the unknown-client case at the authorization endpoint
	// uses 401 via ErrUnknownClient.
	ErrUnauthorizedClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnknownClient is unauthorized_client for a client_id that is not registered
	ErrUnknownClient = func(desc string) *Error {
		return NewError(ErrorCodeUnauthorizedClient, desc, http.StatusUnauthorized)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates a response_type other than "code"
	ErrUnsupportedResponseType = func(desc string) *Error {
		return NewError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrRateLimitExceeded indicates the caller exceeded its request budget
	ErrRateLimitExceeded = func(desc string) *Error {
		return NewError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
