// Package storagetest holds the behavioural test suite every storage.Store
// implementation must pass.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Factory opens a fresh, empty store whose clock is clock.Now.
// The suite closes the store when the test ends.
type Factory func(t *testing.T, clock *testutil.MockTime) storage.Store

// Run executes the shared store suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"SaveAndGetClient", testSaveAndGetClient},
		{"SaveClientDuplicate", testSaveClientDuplicate},
		{"GetClientNotFound", testGetClientNotFound},
		{"GetClientReturnsCopy", testGetClientReturnsCopy},
		{"ValidateClientSecret", testValidateClientSecret},
		{"ListAndDeleteClients", testListAndDeleteClients},
		{"ConsumeCodeOnce", testConsumeCodeOnce},
		{"ConsumeCodeNotFound", testConsumeCodeNotFound},
		{"ConsumeExpiredCode", testConsumeExpiredCode},
		{"ConcurrentConsume", testConcurrentConsume},
		{"ConcurrentSaveClients", testConcurrentSaveClients},
		{"DeleteExpiredCodes", testDeleteExpiredCodes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore)
		})
	}
}

func open(t *testing.T, newStore Factory) (storage.Store, *testutil.MockTime) {
	t.Helper()
	clock := testutil.NewMockTime(time.Now().UTC())
	s := newStore(t, clock)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func testSaveAndGetClient(t *testing.T, newStore Factory) {
	s, _ := open(t, newStore)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	client.RegistrationAccessTokenHash = "$2a$04$registration.token.hash.for.tests"
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := s.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientID != client.ClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, client.ClientID)
	}
	if got.RegistrationAccessTokenHash != client.RegistrationAccessTokenHash {
		t.Errorf("RegistrationAccessTokenHash = %q, want %q", got.RegistrationAccessTokenHash, client.RegistrationAccessTokenHash)
	}
	if len(got.RedirectURIs) != 1 || got.RedirectURIs[0] != client.RedirectURIs[0] {
		t.Errorf("RedirectURIs = %v, want %v", got.RedirectURIs, client.RedirectURIs)
	}
	if !got.HasGrantType("client_credentials") || !got.HasGrantType("authorization_code") {
		t.Errorf("GrantTypes = %v, want both grants", got.GrantTypes)
	}
	if !got.CreatedAt.Equal(client.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, client.CreatedAt)
	}
}

func testSaveClientDuplicate(t *testing.T, newStore Factory) {
	s, _ := open(t, newStore)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	dup := testutil.GenerateTestClient()
	dup.ClientID = client.ClientID
	dup.ClientName = "Impostor"
	err := s.SaveClient(ctx, dup)
	if !errors.Is(err, storage.ErrClientExists) {
		t.Fatalf("SaveClient() duplicate error = %v, want ErrClientExists", err)
	}

	got, err := s.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientName != client.ClientName {
		t.Errorf("ClientName = %q, registered clients must be immutable", got.ClientName)
	}
}

func testGetClientNotFound(t *testing.T, newStore Factory) {
	s, _ := open(t, newStore)

	_, err := s.GetClient(context.Background(), "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

func testGetClientReturnsCopy(t *testing.T, newStore Factory) {
	s, _ := open(t, newStore)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, _ := s.GetClient(ctx, client.ClientID)
	got.RedirectURIs[0] = "https://evil.example/cb"

	again, _ := s.GetClient(ctx, client.ClientID)
	if again.RedirectURIs[0] != "https://cli.example/cb" {
		t.Errorf("RedirectURIs[0] = %q, caller mutation leaked into the store", again.RedirectURIs[0])
	}
}

func testValidateClientSecret(t *testing.T, newStore Factory) {
	s, _ := open(t, newStore)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}
	confidential := testutil.GenerateTestClient()
	confidential.ClientSecretHash = string(hash)
	if err := s.SaveClient(ctx, confidential); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	public := testutil.GenerateTestClient()
	public.ClientType = "public"
	public.TokenEndpointAuthMethod = "none"
	if err := s.SaveClient(ctx, public); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  bool
	}{
		{"correct secret", confidential.ClientID, "s3cret", false},
		{"wrong secret", confidential.ClientID, "wrong", true},
		{"empty secret", confidential.ClientID, "", true},
		{"unknown client", "missing", "s3cret", true},
		{"public client has no secret", public.ClientID, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateClientSecret(ctx, tt.clientID, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateClientSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, storage.ErrInvalidClientCredentials) {
				t.Errorf("ValidateClientSecret() error = %v, want ErrInvalidClientCredentials", err)
			}
		})
	}
}

func testListAndDeleteClients(t *testing.T, newStore Factory) {
	s, _ := open(t, newStore)
	ctx := context.Background()

	first := testutil.GenerateTestClient()
	second := testutil.GenerateTestClient()
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	for _, c := range []*storage.Client{second, first} {
		if err := s.SaveClient(ctx, c); err != nil {
			t.Fatalf("SaveClient() error = %v", err)
		}
	}
	code := testutil.GenerateTestAuthorizationCode(first.ClientID)
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("len(ListClients()) = %d, want 2", len(clients))
	}
	if clients[0].ClientID != first.ClientID {
		t.Errorf("ListClients()[0] = %q, want oldest client %q", clients[0].ClientID, first.ClientID)
	}

	if err := s.DeleteClient(ctx, first.ClientID); err != nil {
		t.Fatalf("DeleteClient() error = %v", err)
	}
	if _, err := s.GetClient(ctx, first.ClientID); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() after delete error = %v, want ErrClientNotFound", err)
	}
	if _, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("consume after client delete error = %v, want ErrAuthorizationCodeNotFound", err)
	}
	if err := s.DeleteClient(ctx, first.ClientID); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("second DeleteClient() error = %v, want ErrClientNotFound", err)
	}
}

func newCode(clock *testutil.MockTime, clientID string, ttl time.Duration) *storage.AuthorizationCode {
	code := testutil.GenerateTestAuthorizationCode(clientID)
	code.CreatedAt = clock.Now()
	code.ExpiresAt = clock.Now().Add(ttl)
	return code
}

func testConsumeCodeOnce(t *testing.T, newStore Factory) {
	s, clock := open(t, newStore)
	ctx := context.Background()

	code := newCode(clock, "client-1", 10*time.Minute)
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	got, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
	if err != nil {
		t.Fatalf("AtomicCheckAndMarkAuthCodeUsed() error = %v", err)
	}
	if got.ClientID != "client-1" || got.CodeChallenge != code.CodeChallenge || got.RedirectURI != code.RedirectURI {
		t.Errorf("consumed code = %+v, want bindings of %+v", got, code)
	}

	_, err = s.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
	if !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Errorf("second consume error = %v, want ErrAuthorizationCodeUsed", err)
	}
}

func testConsumeCodeNotFound(t *testing.T, newStore Factory) {
	s, _ := open(t, newStore)

	_, err := s.AtomicCheckAndMarkAuthCodeUsed(context.Background(), "nope")
	if !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("AtomicCheckAndMarkAuthCodeUsed() error = %v, want ErrAuthorizationCodeNotFound", err)
	}
}

func testConsumeExpiredCode(t *testing.T, newStore Factory) {
	s, clock := open(t, newStore)
	ctx := context.Background()

	code := newCode(clock, "client-1", time.Minute)
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	// Exactly at expiry the code is already dead
	clock.Advance(time.Minute)

	_, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
	if !errors.Is(err, storage.ErrAuthorizationCodeExpired) {
		t.Fatalf("consume expired error = %v, want ErrAuthorizationCodeExpired", err)
	}

	// An expired code is spent too
	_, err = s.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
	if !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Errorf("consume after expiry error = %v, want ErrAuthorizationCodeUsed", err)
	}
}

func testConcurrentConsume(t *testing.T, newStore Factory) {
	s, clock := open(t, newStore)
	ctx := context.Background()

	code := newCode(clock, "client-1", 10*time.Minute)
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	const goroutines = 16
	var wins, used atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, storage.ErrAuthorizationCodeUsed):
				used.Add(1)
			default:
				t.Errorf("unexpected error = %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("successful consumes = %d, want exactly 1", wins.Load())
	}
	if used.Load() != goroutines-1 {
		t.Errorf("already-used rejections = %d, want %d", used.Load(), goroutines-1)
	}
}

func testConcurrentSaveClients(t *testing.T, newStore Factory) {
	s, _ := open(t, newStore)
	ctx := context.Background()

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SaveClient(ctx, testutil.GenerateTestClient()); err != nil {
				t.Errorf("SaveClient() error = %v", err)
			}
		}()
	}
	wg.Wait()

	clients, err := s.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != goroutines {
		t.Errorf("len(ListClients()) = %d, want %d", len(clients), goroutines)
	}
}

func testDeleteExpiredCodes(t *testing.T, newStore Factory) {
	s, clock := open(t, newStore)
	ctx := context.Background()

	short := newCode(clock, "client-1", time.Minute)
	long := newCode(clock, "client-1", time.Hour)
	for _, c := range []*storage.AuthorizationCode{short, long} {
		if err := s.SaveAuthorizationCode(ctx, c); err != nil {
			t.Fatalf("SaveAuthorizationCode() error = %v", err)
		}
	}

	clock.Advance(2 * time.Minute)

	n, err := s.DeleteExpiredAuthorizationCodes(ctx)
	if err != nil {
		t.Fatalf("DeleteExpiredAuthorizationCodes() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteExpiredAuthorizationCodes() = %d, want 1", n)
	}
	if _, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, short.Code); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("consume of swept code error = %v, want ErrAuthorizationCodeNotFound", err)
	}
	if _, err := s.AtomicCheckAndMarkAuthCodeUsed(ctx, long.Code); err != nil {
		t.Errorf("consume of live code error = %v", err)
	}
}
