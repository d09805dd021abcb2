// Package mock provides a mock implementation of storage.Store for testing.
//
// Each method delegates to an exported function field. The defaults keep
// state in memory so the mock behaves like a real store; tests override
// individual fields to inject failures.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authserver/storage"
)

// Store is a mock implementation of storage.Store
type Store struct {
	mu        sync.Mutex
	clients   map[string]*storage.Client
	authCodes map[string]*storage.AuthorizationCode
	calls     map[string]int

	// Now is the clock used by the default consume implementation
	Now func() time.Time

	SaveClientFunc                      func(ctx context.Context, client *storage.Client) error
	GetClientFunc                       func(ctx context.Context, clientID string) (*storage.Client, error)
	ValidateClientSecretFunc            func(ctx context.Context, clientID, clientSecret string) error
	ListClientsFunc                     func(ctx context.Context) ([]*storage.Client, error)
	DeleteClientFunc                    func(ctx context.Context, clientID string) error
	SaveAuthorizationCodeFunc           func(ctx context.Context, code *storage.AuthorizationCode) error
	AtomicCheckAndMarkAuthCodeUsedFunc  func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	DeleteExpiredAuthorizationCodesFunc func(ctx context.Context) (int, error)
}

var _ storage.Store = (*Store)(nil)

// New creates a mock store with in-memory default behaviour
func New() *Store {
	m := &Store{
		clients:   make(map[string]*storage.Client),
		authCodes: make(map[string]*storage.AuthorizationCode),
		calls:     make(map[string]int),
		Now:       time.Now,
	}

	m.SaveClientFunc = func(_ context.Context, client *storage.Client) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.clients[client.ClientID]; ok {
			return storage.ErrClientExists
		}
		m.clients[client.ClientID] = client.Clone()
		return nil
	}

	m.GetClientFunc = func(_ context.Context, clientID string) (*storage.Client, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		c, ok := m.clients[clientID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return c.Clone(), nil
	}

	m.ValidateClientSecretFunc = func(ctx context.Context, clientID, clientSecret string) error {
		c, err := m.GetClientFunc(ctx, clientID)
		if err != nil || c.ClientSecretHash == "" {
			return storage.ErrInvalidClientCredentials
		}
		if bcrypt.CompareHashAndPassword([]byte(c.ClientSecretHash), []byte(clientSecret)) != nil {
			return storage.ErrInvalidClientCredentials
		}
		return nil
	}

	m.ListClientsFunc = func(context.Context) ([]*storage.Client, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		out := make([]*storage.Client, 0, len(m.clients))
		for _, c := range m.clients {
			out = append(out, c.Clone())
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ClientID < out[j].ClientID
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		return out, nil
	}

	m.DeleteClientFunc = func(_ context.Context, clientID string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.clients[clientID]; !ok {
			return storage.ErrClientNotFound
		}
		delete(m.clients, clientID)
		for code, ac := range m.authCodes {
			if ac.ClientID == clientID {
				delete(m.authCodes, code)
			}
		}
		return nil
	}

	m.SaveAuthorizationCodeFunc = func(_ context.Context, code *storage.AuthorizationCode) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.authCodes[code.Code] = code.Clone()
		return nil
	}

	m.AtomicCheckAndMarkAuthCodeUsedFunc = func(_ context.Context, code string) (*storage.AuthorizationCode, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		ac, ok := m.authCodes[code]
		if !ok {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		if ac.Used {
			return ac.Clone(), storage.ErrAuthorizationCodeUsed
		}
		ac.Used = true
		if ac.IsExpiredAt(m.Now()) {
			return nil, storage.ErrAuthorizationCodeExpired
		}
		return ac.Clone(), nil
	}

	m.DeleteExpiredAuthorizationCodesFunc = func(context.Context) (int, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		n := 0
		for code, ac := range m.authCodes {
			if ac.IsExpiredAt(m.Now()) {
				delete(m.authCodes, code)
				n++
			}
		}
		return n, nil
	}

	return m
}

// CallCount returns how many times the named method was invoked
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Store) record(method string) {
	m.mu.Lock()
	m.calls[method]++
	m.mu.Unlock()
}

// SaveClient calls SaveClientFunc
func (m *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	m.record("SaveClient")
	return m.SaveClientFunc(ctx, client)
}

// GetClient calls GetClientFunc
func (m *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.record("GetClient")
	return m.GetClientFunc(ctx, clientID)
}

// ValidateClientSecret calls ValidateClientSecretFunc
func (m *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	m.record("ValidateClientSecret")
	return m.ValidateClientSecretFunc(ctx, clientID, clientSecret)
}

// ListClients calls ListClientsFunc
func (m *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	m.record("ListClients")
	return m.ListClientsFunc(ctx)
}

// DeleteClient calls DeleteClientFunc
func (m *Store) DeleteClient(ctx context.Context, clientID string) error {
	m.record("DeleteClient")
	return m.DeleteClientFunc(ctx, clientID)
}

// SaveAuthorizationCode calls SaveAuthorizationCodeFunc
func (m *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.record("SaveAuthorizationCode")
	return m.SaveAuthorizationCodeFunc(ctx, code)
}

// AtomicCheckAndMarkAuthCodeUsed calls AtomicCheckAndMarkAuthCodeUsedFunc
func (m *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.record("AtomicCheckAndMarkAuthCodeUsed")
	return m.AtomicCheckAndMarkAuthCodeUsedFunc(ctx, code)
}

// DeleteExpiredAuthorizationCodes calls DeleteExpiredAuthorizationCodesFunc
func (m *Store) DeleteExpiredAuthorizationCodes(ctx context.Context) (int, error) {
	m.record("DeleteExpiredAuthorizationCodes")
	return m.DeleteExpiredAuthorizationCodesFunc(ctx)
}

// Close is a no-op
func (m *Store) Close() error {
	return nil
}
