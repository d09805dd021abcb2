package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func TestLoadOrGenerate_GeneratesThenReloads(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	first, err := LoadOrGenerate(dir, 0, nil)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	if err != nil {
		t.Fatalf("private key not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("private key mode = %o, want 600", perm)
	}
	if _, err := os.Stat(filepath.Join(dir, PublicKeyFile)); err != nil {
		t.Errorf("public key not written: %v", err)
	}

	second, err := LoadOrGenerate(dir, 0, nil)
	if err != nil {
		t.Fatalf("LoadOrGenerate() reload error = %v", err)
	}
	if first.KeyID() != second.KeyID() {
		t.Errorf("KeyID changed across restart: %q != %q", first.KeyID(), second.KeyID())
	}
}

func TestLoadOrGenerate_RewritesMissingPublicKey(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadOrGenerate(dir, 0, nil)
	if err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}
	pubPath := filepath.Join(dir, PublicKeyFile)
	if err := os.Remove(pubPath); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if _, err := LoadOrGenerate(dir, 0, nil); err != nil {
		t.Fatalf("LoadOrGenerate() error = %v", err)
	}
	got, err := os.ReadFile(pubPath)
	if err != nil {
		t.Fatalf("public key not rewritten: %v", err)
	}
	want, _ := m.PublicKeyPEM()
	if string(got) != string(want) {
		t.Error("rewritten public key does not match the private key")
	}
}

func TestLoadOrGenerate_Validation(t *testing.T) {
	if _, err := LoadOrGenerate("", 0, nil); err == nil {
		t.Error("LoadOrGenerate() with empty dir should return error")
	}
	if _, err := LoadOrGenerate(t.TempDir(), 1024, nil); err == nil {
		t.Error("LoadOrGenerate() with 1024 bits should return error")
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadOrGenerate(dir, 0, nil); err == nil {
		t.Error("LoadOrGenerate() with a corrupt key should return error")
	}
}

func TestNew_NilKey(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) should return error")
	}
}

func TestJWKS_PublishesOnlyPublicKey(t *testing.T) {
	m := newTestManager(t)

	data, err := m.JWKSJSON()
	if err != nil {
		t.Fatalf("JWKSJSON() error = %v", err)
	}

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("JWKS is not valid JSON: %v", err)
	}
	if len(doc.Keys) != 1 {
		t.Fatalf("len(keys) = %d, want 1", len(doc.Keys))
	}

	key := doc.Keys[0]
	for field, want := range map[string]string{"kty": "RSA", "use": "sig", "alg": "RS256", "kid": m.KeyID()} {
		if key[field] != want {
			t.Errorf("%s = %v, want %q", field, key[field], want)
		}
	}
	for _, field := range []string{"n", "e"} {
		if _, ok := key[field]; !ok {
			t.Errorf("JWK missing %q", field)
		}
	}
	for _, private := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		if _, ok := key[private]; ok {
			t.Errorf("JWK leaks private parameter %q", private)
		}
	}
}

func TestSign_VerifiesAgainstJWKS(t *testing.T) {
	m := newTestManager(t)

	tok, err := jwt.NewBuilder().
		Issuer("https://auth.example").
		Subject("client-1").
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	signed, err := m.Sign(tok)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	msg, err := jws.Parse(signed)
	if err != nil {
		t.Fatalf("jws.Parse() error = %v", err)
	}
	if kid := msg.Signatures()[0].ProtectedHeaders().KeyID(); kid != m.KeyID() {
		t.Errorf("kid header = %q, want %q", kid, m.KeyID())
	}

	// Round-trip the JWKS through JSON as a resource server would
	data, _ := m.JWKSJSON()
	set, err := jwk.Parse(data)
	if err != nil {
		t.Fatalf("jwk.Parse() error = %v", err)
	}
	parsed, err := jwt.Parse(signed, jwt.WithKeySet(set))
	if err != nil {
		t.Fatalf("jwt.Parse() with published JWKS error = %v", err)
	}
	if parsed.Subject() != "client-1" {
		t.Errorf("sub = %q, want client-1", parsed.Subject())
	}
}

func TestKeyID_IsThumbprint(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	a, _ := New(priv)
	b, _ := New(priv)
	if a.KeyID() == "" || a.KeyID() != b.KeyID() {
		t.Errorf("KeyID() = %q / %q, want identical non-empty ids for one key", a.KeyID(), b.KeyID())
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	m, err := New(priv)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}
