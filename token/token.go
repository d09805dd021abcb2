// Package token mints and verifies the RS256 JWT access tokens issued by the
// authorization server.
//
// Tokens are self-contained: validity is decided by the signature, the
// issuer, the audience and the expiry. The server keeps no per-token state.
package token

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claim names beyond the registered JWT claims
const (
	ClaimScope     = "scope"
	ClaimClientID  = "client_id"
	ClaimGrantType = "gty"
)

const (
	// DefaultTTL is the validity window of an access token
	DefaultTTL = time.Hour

	// DefaultClockSkew is the tolerance applied to expiry checks
	DefaultClockSkew = 5 * time.Second
)

// Verification errors. Callers match them with errors.Is.
var (
	ErrMalformed        = errors.New("token is malformed")
	ErrSignatureInvalid = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token has expired")
	ErrNotYetValid      = errors.New("token is not yet valid")
	ErrIssuerMismatch   = errors.New("token issuer mismatch")
	ErrAudienceMismatch = errors.New("token audience mismatch")
)

// Signer signs tokens with the server's key and publishes the matching
// public key set. Implemented by keys.Manager.
type Signer interface {
	Sign(tok jwt.Token) ([]byte, error)
	PublicJWKS() jwk.Set
}

// Config configures an Issuer
type Config struct {
	// Issuer is the iss claim and the value verified tokens must carry
	Issuer string

	// Audience is the aud claim. Empty disables the audience check.
	Audience string

	// TTL is the default validity window (default: 1 hour)
	TTL time.Duration

	// ClockSkew is tolerated past exp (default: 5 seconds)
	ClockSkew time.Duration

	// Now is the time source (default: time.Now)
	Now func() time.Time
}

// Claims is the verified content of an access token
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	JWTID     string
	Scope     string
	ClientID  string
	GrantType string
}

// IssueRequest describes a token to mint
type IssueRequest struct {
	ClientID  string
	GrantType string
	Scope     string

	// TTL overrides Config.TTL when positive
	TTL time.Duration
}

// Issued is a freshly minted token
type Issued struct {
	AccessToken string
	ExpiresIn   int64
	Claims      *Claims
}

// Issuer mints and verifies access tokens
type Issuer struct {
	config Config
	signer Signer
}

// NewIssuer creates an issuer. Signer and Config.Issuer are required.
func NewIssuer(signer Signer, config Config) (*Issuer, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.ClockSkew < 0 {
		config.ClockSkew = 0
	} else if config.ClockSkew == 0 {
		config.ClockSkew = DefaultClockSkew
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Issuer{config: config, signer: signer}, nil
}

// Issue mints a signed access token for req.ClientID
func (i *Issuer) Issue(req IssueRequest) (*Issued, error) {
	if req.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = i.config.TTL
	}

	// JWT timestamps have second precision
	now := i.config.Now().Truncate(time.Second)
	claims := &Claims{
		Issuer:    i.config.Issuer,
		Subject:   req.ClientID,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		JWTID:     uuid.NewString(),
		Scope:     req.Scope,
		ClientID:  req.ClientID,
		GrantType: req.GrantType,
	}

	b := jwt.NewBuilder().
		Issuer(claims.Issuer).
		Subject(claims.Subject).
		IssuedAt(claims.IssuedAt).
		Expiration(claims.ExpiresAt).
		JwtID(claims.JWTID).
		Claim(ClaimClientID, claims.ClientID)
	if i.config.Audience != "" {
		claims.Audience = []string{i.config.Audience}
		b = b.Audience(claims.Audience)
	}
	if claims.Scope != "" {
		b = b.Claim(ClaimScope, claims.Scope)
	}
	if claims.GrantType != "" {
		b = b.Claim(ClaimGrantType, claims.GrantType)
	}

	tok, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build token: %w", err)
	}
	signed, err := i.signer.Sign(tok)
	if err != nil {
		return nil, err
	}

	return &Issued{
		AccessToken: string(signed),
		ExpiresIn:   int64(ttl / time.Second),
		Claims:      claims,
	}, nil
}

// Verify checks the signature against the published key set, then the
// issuer, audience and validity window.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	tok, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// The key set holds keys with alg=RS256 only, so "none" and HMAC tokens
	// never verify
	if _, err := jws.Verify([]byte(raw), jws.WithKeySet(i.signer.PublicJWKS())); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	if tok.Issuer() != i.config.Issuer {
		return nil, ErrIssuerMismatch
	}
	if i.config.Audience != "" && !slices.Contains(tok.Audience(), i.config.Audience) {
		return nil, ErrAudienceMismatch
	}

	if tok.Expiration().IsZero() || tok.IssuedAt().IsZero() {
		return nil, fmt.Errorf("%w: missing exp or iat", ErrMalformed)
	}
	now := i.config.Now()
	if now.Before(tok.IssuedAt()) {
		return nil, ErrNotYetValid
	}
	if now.After(tok.Expiration().Add(i.config.ClockSkew)) {
		return nil, ErrExpired
	}

	return claimsFromToken(tok), nil
}

func claimsFromToken(tok jwt.Token) *Claims {
	c := &Claims{
		Issuer:    tok.Issuer(),
		Subject:   tok.Subject(),
		Audience:  tok.Audience(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
		JWTID:     tok.JwtID(),
	}
	c.Scope = stringClaim(tok, ClaimScope)
	c.ClientID = stringClaim(tok, ClaimClientID)
	c.GrantType = stringClaim(tok, ClaimGrantType)
	return c
}

func stringClaim(tok jwt.Token, name string) string {
	v, ok := tok.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
