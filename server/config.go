package server

import (
	"log/slog"
	"net/url"
	"time"

	"github.com/giantswarm/mcp-authserver/internal/util"
)

// Config holds the authorization engine configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Required.
	Issuer string

	// ResourceURL identifies the protected tool API in protected resource
	// metadata. Default: Issuer
	ResourceURL string

	// Audience is the aud claim of issued access tokens and the value the
	// resource guard requires. Default: ResourceURL
	Audience string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// ClockSkewGracePeriod is tolerated past an access token's exp (in seconds).
	// Authorization codes get no grace period.
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds, default: 5

	// RequirePKCE makes code_challenge mandatory for every client.
	// Public clients always need PKCE regardless of this setting.
	// Default: true
	RequirePKCE bool // default: true

	// AllowOptionalPKCE records that RequirePKCE=false was chosen explicitly.
	// Without it a config whose security flags are all false is treated as
	// unset and RequirePKCE becomes true.
	AllowOptionalPKCE bool

	// DisablePKCEPlain rejects the 'plain' code_challenge_method and stops
	// advertising it. Default: false (S256 and plain accepted)
	DisablePKCEPlain bool

	// EnforceVerifierLength requires code verifiers of 43 to 128 characters
	// (RFC 7636 section 4.1). The unreserved character set is always enforced.
	EnforceVerifierLength bool

	// AllowInsecureHTTP permits an http:// issuer on non-loopback hosts.
	// WARNING: tokens and client secrets then travel in clear text
	AllowInsecureHTTP bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy
	TrustProxy bool // default: false

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int // default: 1

	// DefaultScope is granted when a request names no scope
	// Default: "mcp:tools"
	DefaultScope string

	// SupportedScopes lists the scopes clients may request
	// Default: [DefaultScope]
	SupportedScopes []string

	// AllowedOrigins lists origins allowed by CORS. "*" allows any origin.
	// Empty disables CORS headers.
	AllowedOrigins []string

	// MaxRedirectURIs bounds the redirect_uris of a registration
	// Default: 10
	MaxRedirectURIs int

	// InitialAccessToken, when set, must be presented as a Bearer token to
	// POST /register (RFC 7591 section 3). Empty leaves dynamic registration
	// open.
	InitialAccessToken string
}

// DefaultScope is the scope granted when none is requested
const DefaultScope = "mcp:tools"

// AuthorizationCodeTTLDuration returns AuthorizationCodeTTL as a duration
func (c *Config) AuthorizationCodeTTLDuration() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

// AccessTokenTTLDuration returns AccessTokenTTL as a duration
func (c *Config) AccessTokenTTLDuration() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

// ClockSkewDuration returns ClockSkewGracePeriod as a duration
func (c *Config) ClockSkewDuration() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}

// SupportedPKCEMethods lists the code_challenge_method values accepted
func (c *Config) SupportedPKCEMethods() []string {
	if c.DisablePKCEPlain {
		return []string{PKCEMethodS256}
	}
	return []string{PKCEMethodS256, PKCEMethodPlain}
}

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applyResourceDefaults(config)
	applySecurityDefaults(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.ClockSkewGracePeriod <= 0 {
		config.ClockSkewGracePeriod = 5
	}
	if config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = 1
	}
	if config.MaxRedirectURIs <= 0 {
		config.MaxRedirectURIs = 10
	}
}

func applyResourceDefaults(config *Config) {
	if config.ResourceURL == "" {
		config.ResourceURL = config.Issuer
	}
	if config.Audience == "" {
		config.Audience = config.ResourceURL
	}
	if config.DefaultScope == "" {
		config.DefaultScope = DefaultScope
	}
	if len(config.SupportedScopes) == 0 {
		config.SupportedScopes = []string{config.DefaultScope}
	}
}

// applySecurityDefaults sets secure defaults for security-related configuration.
// A config with every security bool false is treated as fresh.
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	isDefaultConfig := !config.RequirePKCE &&
		!config.AllowOptionalPKCE &&
		!config.DisablePKCEPlain &&
		!config.EnforceVerifierLength &&
		!config.AllowInsecureHTTP &&
		!config.TrustProxy

	if isDefaultConfig {
		config.RequirePKCE = true
		return
	}

	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("⚠️  SECURITY WARNING: PKCE is optional for confidential clients",
			"risk", "Authorization code interception attacks",
			"recommendation", "Set RequirePKCE=true",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}
}

// Endpoint paths served by the HTTP handler
const (
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	ProtectedResourceMetadataPath   = "/.well-known/oauth-protected-resource"
	JWKSPath                        = "/.well-known/jwks.json"
	RegistrationPath                = "/register"
	AuthorizationPath               = "/oauth/authorize"
	TokenPath                       = "/oauth/token"
)

// TokenAudience returns the aud claim for issued tokens. It can be called
// before New applies defaults.
func (c *Config) TokenAudience() string {
	switch {
	case c.Audience != "":
		return c.Audience
	case c.ResourceURL != "":
		return c.ResourceURL
	default:
		return c.Issuer
	}
}

// AuthorizationEndpoint returns the absolute authorization endpoint URL
func (c *Config) AuthorizationEndpoint() string {
	return util.JoinURL(c.Issuer, AuthorizationPath)
}

// TokenEndpoint returns the absolute token endpoint URL
func (c *Config) TokenEndpoint() string {
	return util.JoinURL(c.Issuer, TokenPath)
}

// RegistrationEndpoint returns the absolute dynamic registration endpoint URL
func (c *Config) RegistrationEndpoint() string {
	return util.JoinURL(c.Issuer, RegistrationPath)
}

// RegistrationClientURI returns the client configuration endpoint URL of
// clientID (RFC 7592 section 3)
func (c *Config) RegistrationClientURI(clientID string) string {
	return util.JoinURL(c.Issuer, RegistrationPath+"/"+url.PathEscape(clientID))
}

// JWKSEndpoint returns the absolute JWKS URL
func (c *Config) JWKSEndpoint() string {
	return util.JoinURL(c.Issuer, JWKSPath)
}

// ProtectedResourceMetadataEndpoint returns the RFC 9728 metadata URL
func (c *Config) ProtectedResourceMetadataEndpoint() string {
	return util.JoinURL(c.Issuer, ProtectedResourceMetadataPath)
}
