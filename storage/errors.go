package storage

import "errors"

// Sentinel errors returned by storage implementations. Callers match them
// with errors.Is; implementations may wrap them with additional context.
var (
	// ErrClientNotFound is returned when a client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrClientExists is returned when saving a client whose ID is taken
	ErrClientExists = errors.New("client already exists")

	// ErrInvalidClientCredentials is returned when secret validation fails
	ErrInvalidClientCredentials = errors.New("invalid client credentials")

	// ErrAuthorizationCodeNotFound is returned when a code does not exist
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeUsed is returned when a code was already consumed
	ErrAuthorizationCodeUsed = errors.New("authorization code already used")

	// ErrAuthorizationCodeExpired is returned when a code is past its expiry
	ErrAuthorizationCodeExpired = errors.New("authorization code expired")
)
