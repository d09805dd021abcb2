package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/storage/storagetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(store.Stop)
	return store
}

func TestStore_Suite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, clock *testutil.MockTime) storage.Store {
		store := newTestStore(t)
		store.SetClock(clock.Now)
		return store
	})
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New("", 0); err == nil {
		t.Error("New() with empty path should return error")
	}
}

func TestNew_DirectoryUsesDefaultFileName(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Stop()

	if want := filepath.Join(dir, DefaultFileName); store.Path() != want {
		t.Errorf("Path() = %q, want %q", store.Path(), want)
	}
}

func TestNew_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := New(path, 0); err == nil {
		t.Error("New() on a corrupt document should return error")
	}
}

func TestStore_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "clients.json")
	ctx := context.Background()

	store, err := New(path, 0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	client := testutil.GenerateTestClient()
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	used := testutil.GenerateTestAuthorizationCode(client.ClientID)
	live := testutil.GenerateTestAuthorizationCode(client.ClientID)
	for _, c := range []*storage.AuthorizationCode{used, live} {
		if err := store.SaveAuthorizationCode(ctx, c); err != nil {
			t.Fatalf("SaveAuthorizationCode() error = %v", err)
		}
	}
	if _, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, used.Code); err != nil {
		t.Fatalf("AtomicCheckAndMarkAuthCodeUsed() error = %v", err)
	}
	store.Stop()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	reopened, err := New(path, 0)
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer reopened.Stop()

	got, err := reopened.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() after restart error = %v", err)
	}
	if got.ClientName != client.ClientName {
		t.Errorf("ClientName = %q, want %q", got.ClientName, client.ClientName)
	}

	// A consumed code stays consumed across restarts
	if _, err := reopened.AtomicCheckAndMarkAuthCodeUsed(ctx, used.Code); !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Errorf("consume of spent code after restart error = %v, want ErrAuthorizationCodeUsed", err)
	}
	if _, err := reopened.AtomicCheckAndMarkAuthCodeUsed(ctx, live.Code); err != nil {
		t.Errorf("consume of live code after restart error = %v", err)
	}
}

func TestStore_FailedFlushRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	code := testutil.GenerateTestAuthorizationCode(client.ClientID)
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	before, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	diskErr := errors.New("disk full")
	store.writeFile = func(string, []byte) error { return diskErr }

	other := testutil.GenerateTestClient()
	if err := store.SaveClient(ctx, other); !errors.Is(err, diskErr) {
		t.Fatalf("SaveClient() error = %v, want disk error", err)
	}
	if _, err := store.GetClient(ctx, other.ClientID); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() after failed save error = %v, want ErrClientNotFound", err)
	}

	if _, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code); !errors.Is(err, diskErr) {
		t.Fatalf("AtomicCheckAndMarkAuthCodeUsed() error = %v, want disk error", err)
	}
	if err := store.DeleteClient(ctx, client.ClientID); !errors.Is(err, diskErr) {
		t.Fatalf("DeleteClient() error = %v, want disk error", err)
	}

	after, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(before) != string(after) {
		t.Error("document on disk changed although every flush failed")
	}

	// Once the disk recovers, the untouched state is still usable
	store.writeFile = writeFileAtomic
	if _, err := store.GetClient(ctx, client.ClientID); err != nil {
		t.Errorf("GetClient() after failed delete error = %v", err)
	}
	if _, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code); err != nil {
		t.Errorf("AtomicCheckAndMarkAuthCodeUsed() after recovery error = %v", err)
	}
}

func TestStore_CleanupLoop(t *testing.T) {
	store, err := New(t.TempDir(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Stop()

	clock := testutil.NewMockTime(time.Now())
	store.SetClock(clock.Now)

	ctx := context.Background()
	code := testutil.GenerateTestAuthorizationCode("client-1")
	code.ExpiresAt = clock.Now().Add(time.Minute)
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	clock.Advance(2 * time.Minute)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := store.AtomicCheckAndMarkAuthCodeUsed(ctx, code.Code)
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expired code was not swept by the cleanup loop")
}

func TestStore_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	store.Stop()
	if err := store.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
