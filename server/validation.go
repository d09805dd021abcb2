package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/giantswarm/mcp-authserver/internal/util"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"

	// Challenges are bounded like verifiers; an S256 challenge is always 43
	maxCodeChallengeLength = MaxCodeVerifierLength
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// DangerousSchemes lists URI schemes that are never accepted as redirect targets
var DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about", "blob"}

const oauth21SecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-4.1.1"

// validateHTTPSEnforcement rejects an http:// issuer outside loopback unless
// AllowInsecureHTTP is set. Loopback http is accepted with a warning.
func (s *Server) validateHTTPSEnforcement() error {
	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if util.IsLoopbackHostname(hostname) {
		if !s.Config.AllowInsecureHTTP {
			s.Logger.Warn("⚠️  DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"risk", "Credentials exposed on local network",
				"recommendation", "Use HTTPS even in development for production-like testing",
				"to_suppress", "Set AllowInsecureHTTP=true in Config",
				"learn_more", oauth21SecurityBestPracticesURL)
		}
		return nil
	}

	if !s.Config.AllowInsecureHTTP {
		return fmt.Errorf(
			"SECURITY ERROR: Issuer must use HTTPS in production (got %s://%s). "+
				"OAuth over HTTP exposes tokens and credentials to interception. "+
				"To run on localhost for development, set AllowInsecureHTTP=true",
			issuerURL.Scheme,
			hostname,
		)
	}

	s.Logger.Error("🚨 CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
		"issuer", s.Config.Issuer,
		"hostname", hostname,
		"risk", "All tokens and credentials exposed to network sniffing and MITM attacks",
		"action_required", "Switch to HTTPS immediately",
		"learn_more", oauth21SecurityBestPracticesURL)

	return nil
}

// validateRegistrationRedirectURI checks one redirect URI offered at
// registration: absolute, no fragment, no script-capable scheme, and http
// only on loopback unless AllowInsecureHTTP is set. Custom schemes used by
// native clients (cursor://, vscode://) are accepted.
func (s *Server) validateRegistrationRedirectURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("redirect URI must not be empty")
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return fmt.Errorf("redirect URI must not contain whitespace")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect URI is malformed: %w", err)
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("redirect URI must be absolute: %s", raw)
	}
	if parsed.Fragment != "" || strings.Contains(raw, "#") {
		return fmt.Errorf("redirect URI must not contain a fragment: %s", raw)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if slices.Contains(DangerousSchemes, scheme) {
		return fmt.Errorf("redirect URI scheme %q is not allowed", scheme)
	}

	switch scheme {
	case SchemeHTTPS:
		if parsed.Host == "" {
			return fmt.Errorf("redirect URI must include a host: %s", raw)
		}
	case SchemeHTTP:
		if parsed.Host == "" {
			return fmt.Errorf("redirect URI must include a host: %s", raw)
		}
		if !util.IsLoopbackHostname(parsed.Hostname()) && !s.Config.AllowInsecureHTTP {
			return fmt.Errorf("http redirect URIs are only allowed for loopback hosts: %s", raw)
		}
	default:
		if parsed.Opaque != "" {
			return fmt.Errorf("redirect URI must be hierarchical: %s", raw)
		}
	}

	return nil
}

// redirectURIRegistered reports whether redirectURI is byte-for-byte one of
// the registered URIs. No normalization is applied: a trailing slash, a
// different case or a reordered query is a different URI.
func redirectURIRegistered(registered []string, redirectURI string) bool {
	for _, uri := range registered {
		if subtle.ConstantTimeCompare([]byte(uri), []byte(redirectURI)) == 1 {
			return true
		}
	}
	return false
}

// validateCodeChallenge checks the PKCE parameters of an authorization
// request. An empty method means plain (RFC 7636 section 4.3).
func (s *Server) validateCodeChallenge(challenge, method string) (string, error) {
	if method == "" {
		method = PKCEMethodPlain
	}

	switch method {
	case PKCEMethodS256:
	case PKCEMethodPlain:
		if s.Config.DisablePKCEPlain {
			return "", fmt.Errorf("'plain' code_challenge_method is not allowed, use S256")
		}
	default:
		return "", fmt.Errorf("unsupported code_challenge_method: %s (supported: %s)",
			method, strings.Join(s.Config.SupportedPKCEMethods(), ", "))
	}

	if len(challenge) > maxCodeChallengeLength {
		return "", fmt.Errorf("code_challenge must be at most %d characters", maxCodeChallengeLength)
	}
	if !isUnreserved(challenge) {
		return "", fmt.Errorf("code_challenge contains invalid characters (must be [A-Za-z0-9-._~])")
	}

	return method, nil
}

// verifyPKCE checks a code_verifier against the challenge stored with the
// code. S256 compares base64url(SHA-256(verifier)) with the challenge; plain
// compares the verifier itself. Comparisons are constant time.
func (s *Server) verifyPKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}

	if s.Config.EnforceVerifierLength {
		if len(verifier) < MinCodeVerifierLength {
			return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
		}
		if len(verifier) > MaxCodeVerifierLength {
			return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
		}
	}

	if !isUnreserved(verifier) {
		return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case PKCEMethodPlain:
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// isUnreserved reports whether s only holds RFC 3986 unreserved characters
func isUnreserved(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		ok := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !ok {
			return false
		}
	}
	return true
}

// resolveScope normalizes a requested scope. Empty means the default scope.
// Every requested scope must be supported by the server, and by the client
// when the client registered a scope.
func (s *Server) resolveScope(requested, clientScope string) (string, error) {
	scopes := strings.Fields(requested)
	if len(scopes) == 0 {
		if clientScope != "" {
			return clientScope, nil
		}
		return s.Config.DefaultScope, nil
	}

	allowedByClient := strings.Fields(clientScope)
	for _, scope := range scopes {
		if !slices.Contains(s.Config.SupportedScopes, scope) {
			return "", fmt.Errorf("unsupported scope: %s", scope)
		}
		if len(allowedByClient) > 0 && !slices.Contains(allowedByClient, scope) {
			return "", fmt.Errorf("scope not registered for client: %s", scope)
		}
	}

	return strings.Join(dedupe(scopes), " "), nil
}

// dedupe removes duplicates while keeping first-seen order
func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
