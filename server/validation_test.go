package server

import (
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

func TestValidateRegistrationRedirectURI(t *testing.T) {
	env := newTestServer(t, nil)

	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{name: "https", uri: "https://cli.example/cb"},
		{name: "https with query", uri: "https://cli.example/cb?x=1"},
		{name: "http localhost", uri: "http://localhost:3000/callback"},
		{name: "http loopback ip", uri: "http://127.0.0.1:9999/cb"},
		{name: "http ipv6 loopback", uri: "http://[::1]:9999/cb"},
		{name: "custom scheme", uri: "cursor://anysphere.cursor-retrieval/oauth/callback"},
		{name: "empty", uri: "", wantErr: true},
		{name: "relative", uri: "/cb", wantErr: true},
		{name: "no scheme", uri: "cli.example/cb", wantErr: true},
		{name: "fragment", uri: "https://cli.example/cb#frag", wantErr: true},
		{name: "empty fragment", uri: "https://cli.example/cb#", wantErr: true},
		{name: "javascript", uri: "javascript:alert(1)", wantErr: true},
		{name: "data", uri: "data:text/html,hi", wantErr: true},
		{name: "file", uri: "file:///etc/passwd", wantErr: true},
		{name: "http public host", uri: "http://cli.example/cb", wantErr: true},
		{name: "https without host", uri: "https:///cb", wantErr: true},
		{name: "whitespace", uri: "https://cli.example/c b", wantErr: true},
		{name: "opaque custom scheme", uri: "myapp:callback", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.srv.validateRegistrationRedirectURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRegistrationRedirectURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRegistrationRedirectURI_AllowInsecureHTTP(t *testing.T) {
	env := newTestServer(t, &Config{AllowInsecureHTTP: true})

	if err := env.srv.validateRegistrationRedirectURI("http://cli.example/cb"); err != nil {
		t.Errorf("http redirect should be allowed with AllowInsecureHTTP: %v", err)
	}
}

func TestRedirectURIRegistered(t *testing.T) {
	registered := []string{"https://cli.example/cb", "http://localhost:3000/callback"}

	tests := []struct {
		uri  string
		want bool
	}{
		{"https://cli.example/cb", true},
		{"http://localhost:3000/callback", true},
		{"https://cli.example/cb/", false},
		{"https://cli.example/CB", false},
		{"HTTPS://cli.example/cb", false},
		{"https://cli.example/cb?x=1", false},
		{"https://cli.example/c", false},
		{"https://cli.example/cb/extra", false},
		{"https://cli.example:443/cb", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := redirectURIRegistered(registered, tt.uri); got != tt.want {
			t.Errorf("redirectURIRegistered(%q) = %v, want %v", tt.uri, got, tt.want)
		}
	}
}

func TestValidateCodeChallenge(t *testing.T) {
	challenge := oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier())

	tests := []struct {
		name       string
		disable    bool
		challenge  string
		method     string
		wantMethod string
		wantErr    bool
	}{
		{name: "S256", challenge: challenge, method: "S256", wantMethod: "S256"},
		{name: "plain", challenge: "verifier123", method: "plain", wantMethod: "plain"},
		{name: "empty method defaults to plain", challenge: "verifier123", method: "", wantMethod: "plain"},
		{name: "plain disabled", disable: true, challenge: "verifier123", method: "plain", wantErr: true},
		{name: "default plain disabled", disable: true, challenge: "verifier123", method: "", wantErr: true},
		{name: "lowercase s256 rejected", challenge: challenge, method: "s256", wantErr: true},
		{name: "unknown method", challenge: challenge, method: "S512", wantErr: true},
		{name: "invalid characters", challenge: "abc def", method: "plain", wantErr: true},
		{name: "too long", challenge: strings.Repeat("a", 129), method: "plain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, &Config{DisablePKCEPlain: tt.disable})
			method, err := env.srv.validateCodeChallenge(tt.challenge, tt.method)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateCodeChallenge() error = %v, wantErr %v", err, tt.wantErr)
			}
			if method != tt.wantMethod {
				t.Errorf("method = %q, want %q", method, tt.wantMethod)
			}
		})
	}
}

func TestVerifyPKCE(t *testing.T) {
	longVerifier := oauth2.GenerateVerifier()
	longChallenge := oauth2.S256ChallengeFromVerifier(longVerifier)
	// base64url(SHA-256("verifier123"))
	shortChallenge := oauth2.S256ChallengeFromVerifier("verifier123")

	tests := []struct {
		name          string
		enforceLength bool
		challenge     string
		method        string
		verifier      string
		wantErr       bool
	}{
		{name: "S256 match", challenge: longChallenge, method: PKCEMethodS256, verifier: longVerifier},
		{name: "S256 short verifier", challenge: shortChallenge, method: PKCEMethodS256, verifier: "verifier123"},
		{name: "S256 mismatch", challenge: shortChallenge, method: PKCEMethodS256, verifier: "verifier124", wantErr: true},
		{name: "S256 verifier equal to challenge", challenge: shortChallenge, method: PKCEMethodS256, verifier: shortChallenge, wantErr: true},
		{name: "plain match", challenge: "verifier123", method: PKCEMethodPlain, verifier: "verifier123"},
		{name: "plain mismatch", challenge: "verifier123", method: PKCEMethodPlain, verifier: "verifier12", wantErr: true},
		{name: "missing verifier", challenge: shortChallenge, method: PKCEMethodS256, verifier: "", wantErr: true},
		{name: "invalid characters", challenge: "abc", method: PKCEMethodPlain, verifier: "ab\x00c", wantErr: true},
		{name: "unknown method", challenge: "abc", method: "S512", verifier: "abc", wantErr: true},
		{name: "length enforced short", enforceLength: true, challenge: shortChallenge, method: PKCEMethodS256, verifier: "verifier123", wantErr: true},
		{name: "length enforced ok", enforceLength: true, challenge: longChallenge, method: PKCEMethodS256, verifier: longVerifier},
		{name: "length enforced long", enforceLength: true, challenge: strings.Repeat("a", 129), method: PKCEMethodPlain, verifier: strings.Repeat("a", 129), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, &Config{EnforceVerifierLength: tt.enforceLength})
			err := env.srv.verifyPKCE(tt.challenge, tt.method, tt.verifier)
			if (err != nil) != tt.wantErr {
				t.Errorf("verifyPKCE() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveScope(t *testing.T) {
	env := newTestServer(t, &Config{SupportedScopes: []string{"mcp:tools", "mcp:admin"}})

	tests := []struct {
		name        string
		requested   string
		clientScope string
		want        string
		wantErr     bool
	}{
		{name: "default", requested: "", want: DefaultScope},
		{name: "client scope as default", requested: "", clientScope: "mcp:admin", want: "mcp:admin"},
		{name: "supported", requested: "mcp:tools", want: "mcp:tools"},
		{name: "several deduplicated", requested: "mcp:tools  mcp:admin mcp:tools", want: "mcp:tools mcp:admin"},
		{name: "unsupported", requested: "admin", wantErr: true},
		{name: "outside client scope", requested: "mcp:admin", clientScope: "mcp:tools", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.srv.resolveScope(tt.requested, tt.clientScope)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveScope() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveScope() = %q, want %q", got, tt.want)
			}
		})
	}
}
