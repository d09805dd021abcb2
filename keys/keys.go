// Package keys owns the RSA signing key of the authorization server and
// publishes its public half as a JSON Web Key Set.
//
// The keypair lives in two PEM files: private_key.pem (PKCS#8, mode 0600)
// and public_key.pem (PKIX, mode 0644). A fresh keypair is generated on first
// start. The key id is the RFC 7638 SHA-256 thumbprint of the public key, so
// it is stable across restarts and derivable by anyone holding the key.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	// PrivateKeyFile is the file name of the PEM encoded private key
	PrivateKeyFile = "private_key.pem"

	// PublicKeyFile is the file name of the PEM encoded public key
	PublicKeyFile = "public_key.pem"

	// DefaultKeyBits is the RSA modulus size for generated keys
	DefaultKeyBits = 2048

	// MinKeyBits is the smallest RSA modulus accepted for signing
	MinKeyBits = 2048
)

// Algorithm is the only signing algorithm this server uses
var Algorithm = jwa.RS256

// Manager holds the single active signing key.
// It is safe for concurrent use; all state is immutable after construction.
type Manager struct {
	privateKey *rsa.PrivateKey
	publicKey  jwk.Key
	keySet     jwk.Set
	kid        string
}

// LoadOrGenerate loads the keypair from dir, generating and persisting a new
// one of the given size when no private key exists yet.
func LoadOrGenerate(dir string, bits int, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, fmt.Errorf("key directory is required")
	}
	if bits == 0 {
		bits = DefaultKeyBits
	}
	if bits < MinKeyBits {
		return nil, fmt.Errorf("key size %d is below the minimum of %d bits", bits, MinKeyBits)
	}

	privPath := filepath.Join(dir, PrivateKeyFile)
	pubPath := filepath.Join(dir, PublicKeyFile)

	priv, err := readPrivateKey(privPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("No signing key found, generating a new one", "dir", dir, "bits", bits)
		priv, err = rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		if err := writePrivateKey(privPath, priv); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if fi, statErr := os.Stat(privPath); statErr == nil && fi.Mode().Perm()&0o077 != 0 {
			logger.Warn("⚠️  SECURITY WARNING: Private signing key is readable by other users",
				"path", privPath,
				"mode", fi.Mode().Perm().String(),
				"risk", "Anyone able to read the key can mint valid access tokens",
				"recommendation", "chmod 600 "+privPath)
		}
	}

	// The public file is derived data; rewrite it when absent
	if _, err := os.Stat(pubPath); errors.Is(err, fs.ErrNotExist) {
		if err := writePublicKey(pubPath, &priv.PublicKey); err != nil {
			return nil, err
		}
	}

	m, err := New(priv)
	if err != nil {
		return nil, err
	}
	logger.Info("Signing key ready", "kid", m.kid, "bits", priv.N.BitLen())
	return m, nil
}

// New wraps an existing private key.
func New(priv *rsa.PrivateKey) (*Manager, error) {
	if priv == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if priv.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("key size %d is below the minimum of %d bits", priv.N.BitLen(), MinKeyBits)
	}

	pub, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWK: %w", err)
	}
	thumb, err := pub.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	kid := base64.RawURLEncoding.EncodeToString(thumb)

	for k, v := range map[string]any{
		jwk.KeyIDKey:     kid,
		jwk.AlgorithmKey: Algorithm,
		jwk.KeyUsageKey:  jwk.ForSignature,
	} {
		if err := pub.Set(k, v); err != nil {
			return nil, fmt.Errorf("failed to set JWK %s: %w", k, err)
		}
	}

	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		return nil, fmt.Errorf("failed to build JWKS: %w", err)
	}

	return &Manager{
		privateKey: priv,
		publicKey:  pub,
		keySet:     set,
		kid:        kid,
	}, nil
}

// KeyID returns the identifier published in the JWKS and in token headers
func (m *Manager) KeyID() string {
	return m.kid
}

// Sign serializes and signs tok as a compact JWS with the kid header set.
func (m *Manager) Sign(tok jwt.Token) ([]byte, error) {
	hdrs := jws.NewHeaders()
	if err := hdrs.Set(jws.KeyIDKey, m.kid); err != nil {
		return nil, fmt.Errorf("failed to set kid header: %w", err)
	}
	if err := hdrs.Set(jws.TypeKey, "JWT"); err != nil {
		return nil, fmt.Errorf("failed to set typ header: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(Algorithm, m.privateKey, jws.WithProtectedHeaders(hdrs)))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// PublicJWKS returns the key set holding only the active public key.
// Callers must not modify the returned set.
func (m *Manager) PublicJWKS() jwk.Set {
	return m.keySet
}

// JWKSJSON returns the JWKS document as JSON
func (m *Manager) JWKSJSON() ([]byte, error) {
	return json.Marshal(m.keySet)
}

// PublicKeyPEM returns the PKIX PEM encoding of the public key
func (m *Manager) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&m.privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ============================================================
// PEM files
// ============================================================

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}

	// PKCS#8 is what we write; PKCS#1 is accepted for keys made with openssl genrsa
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rk, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key in %s is not an RSA key", path)
		}
		return rk, nil
	}
	rk, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}
	return rk, nil
}

func writePrivateKey(path string, priv *rsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	return writePEM(path, &pem.Block{Type: "PRIVATE KEY", Bytes: der}, 0o600)
}

func writePublicKey(path string, pub *rsa.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	return writePEM(path, &pem.Block{Type: "PUBLIC KEY", Bytes: der}, 0o644)
}

func writePEM(path string, block *pem.Block, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := pem.Encode(f, block); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return f.Close()
}
