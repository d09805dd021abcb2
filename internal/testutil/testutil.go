package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/storage"
)

// MockTime provides a controllable time source for deterministic testing.
// Safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GenerateRandomString returns a URL-safe random string of the given length
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair returns an S256 challenge and its verifier
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// GenerateTestClient creates a confidential client registered for both grants
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                uuid.NewString(),
		ClientType:              "confidential",
		ClientName:              "Test Client",
		RedirectURIs:            []string{"https://cli.example/cb"},
		TokenEndpointAuthMethod: "client_secret_basic",
		GrantTypes:              []string{"authorization_code", "client_credentials"},
		ResponseTypes:           []string{"code"},
		CreatedAt:               time.Now().UTC().Truncate(time.Second),
	}
}

// GenerateTestAuthorizationCode creates an unused S256 code that expires in
// ten minutes from now
func GenerateTestAuthorizationCode(clientID string) *storage.AuthorizationCode {
	challenge, _ := GeneratePKCEPair()
	now := time.Now().UTC()
	return &storage.AuthorizationCode{
		Code:                oauth2.GenerateVerifier(),
		ClientID:            clientID,
		RedirectURI:         "https://cli.example/cb",
		Scope:               "mcp:tools",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		CreatedAt:           now,
		ExpiresAt:           now.Add(10 * time.Minute),
	}
}
