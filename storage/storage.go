package storage

import (
	"context"
	"slices"
	"time"
)

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient persists a newly registered client. It returns ErrClientExists
	// if the identifier is already taken; registered clients are immutable.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID. The returned value is a copy.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// DeleteClient removes a client (administrative action only)
	DeleteClient(ctx context.Context, clientID string) error
}

// FlowStore defines the interface for managing issued authorization codes.
// All methods accept context.Context for tracing and cancellation.
type FlowStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// AtomicCheckAndMarkAuthCodeUsed atomically consumes a code.
	//
	// The code is marked used as part of the same step that observes it, so a
	// code is spent even when the caller later rejects the exchange. Errors:
	//   - ErrAuthorizationCodeNotFound: no such code
	//   - ErrAuthorizationCodeUsed: another caller already consumed it
	//   - ErrAuthorizationCodeExpired: the code was found past its expiry
	//
	// SECURITY: concurrent callers with the same code must see exactly one
	// success.
	AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteExpiredAuthorizationCodes removes codes whose expiry has passed
	// and returns how many were removed.
	DeleteExpiredAuthorizationCodes(ctx context.Context) (int, error)
}

// Store is a complete backend: clients and codes behind one durable state.
type Store interface {
	ClientStore
	FlowStore

	// Close releases the backend's resources.
	Close() error
}

// Client represents a registered OAuth client
type Client struct {
	ClientID                string    `json:"client_id"`
	ClientSecretHash        string    `json:"client_secret_hash,omitempty"` // bcrypt hash
	// RegistrationAccessTokenHash is the bcrypt hash of the token that reads
	// the client's configuration back (RFC 7592)
	RegistrationAccessTokenHash string `json:"registration_access_token_hash,omitempty"`
	ClientType              string    `json:"client_type"`                  // "public" or "confidential"
	ClientName              string    `json:"client_name,omitempty"`
	RedirectURIs            []string  `json:"redirect_uris"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types,omitempty"`
	Scope                   string    `json:"scope,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// HasGrantType reports whether the client registered for grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	cp.ResponseTypes = slices.Clone(c.ResponseTypes)
	return &cp
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	Used                bool      `json:"used"`
}

// Clone returns a copy of the code.
func (c *AuthorizationCode) Clone() *AuthorizationCode {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// IsExpiredAt reports whether the code is past its expiry at now.
// Codes have no grace period: a code is dead from its expiry instant on.
func (c *AuthorizationCode) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
