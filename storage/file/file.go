package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

const (
	// DefaultFileName is the document name used when New is given a directory
	DefaultFileName = "oauth_clients.json"

	// codeLogLength is the number of characters of a code included in logs
	codeLogLength = 8

	// documentVersion is written into every document for future migrations
	documentVersion = 1

	// dummyHash is compared for unknown clients so that lookups of missing and
	// existing clients cost the same (bcrypt hash of "test")
	dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// document is the on-disk representation of the store
type document struct {
	Version            int                                   `json:"version"`
	Clients            map[string]*storage.Client            `json:"clients"`
	AuthorizationCodes map[string]*storage.AuthorizationCode `json:"authorization_codes"`
}

// Store is a file-backed implementation of storage.Store.
type Store struct {
	mu   sync.RWMutex
	path string

	clients   map[string]*storage.Client
	authCodes map[string]*storage.AuthorizationCode

	// writeFile persists the encoded document; replaced in tests to inject
	// disk failures
	writeFile func(path string, data []byte) error

	now func() time.Time

	// Instrumentation, guarded by instMu so spans can start while mu is held
	instMu          sync.RWMutex
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic atomic.Int64
	codesCountAtomic   atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.FlowStore   = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New opens the store at path, loading any existing document. If path is an
// existing directory, DefaultFileName inside it is used. Parent directories
// are created with mode 0700.
//
// A positive cleanupInterval starts a background loop deleting expired
// authorization codes; zero disables it since expiry is also enforced at
// redemption time.
func New(path string, cleanupInterval time.Duration) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, DefaultFileName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &Store{
		path:            path,
		clients:         make(map[string]*storage.Client),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		writeFile:       writeFileAtomic,
		now:             time.Now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}

	return s, nil
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetClock replaces the time source used for expiry decisions
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instMu.Lock()
	s.instrumentation = inst
	s.tracer = nil
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.instMu.Unlock()

	s.mu.RLock()
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.authCodes)))
	s.mu.RUnlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.codesCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Path returns the location of the backing document
func (s *Store) Path() string {
	return s.path
}

// Stop stops the cleanup goroutine
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// Close implements storage.Store. Every mutation is already on disk, so
// closing only stops background work.
func (s *Store) Close() error {
	s.Stop()
	return nil
}

// ============================================================
// Persistence
// ============================================================

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("Storage file not found, starting empty", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read storage file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode storage file %s: %w", s.path, err)
	}
	for id, c := range doc.Clients {
		if c != nil {
			s.clients[id] = c
		}
	}
	for code, ac := range doc.AuthorizationCodes {
		if ac != nil {
			s.authCodes[code] = ac
		}
	}
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.codesCountAtomic.Store(int64(len(s.authCodes)))

	s.logger.Info("Loaded storage file",
		"path", s.path,
		"clients", len(s.clients),
		"authorization_codes", len(s.authCodes))
	return nil
}

// flushLocked writes the full document. Caller must hold the write lock.
func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(document{
		Version:            documentVersion,
		Clients:            s.clients,
		AuthorizationCodes: s.authCodes,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode storage document: %w", err)
	}
	if err := s.writeFile(s.path, data); err != nil {
		return fmt.Errorf("failed to persist storage document: %w", err)
	}
	return nil
}

// writeFileAtomic replaces path with data so that readers of the file see
// either the old or the new document, never a mix.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	// Make the rename itself durable
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient persists a new client. Registered clients are immutable, so an
// existing identifier yields storage.ErrClientExists.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ClientID]; exists {
		err = fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
		return err
	}

	s.clients[client.ClientID] = client.Clone()
	if err = s.flushLocked(); err != nil {
		delete(s.clients, client.ClientID)
		return err
	}
	s.clientsCountAtomic.Add(1)

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a copy of a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return client.Clone(), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// The same bcrypt comparison runs whether or not the client exists.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if err == nil && client.ClientSecretHash != "" {
		hashToCompare = client.ClientSecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	// Public clients hold no secret and cannot authenticate with one
	if err != nil || client.ClientSecretHash == "" || bcryptErr != nil {
		return storage.ErrInvalidClientCredentials
	}

	return nil
}

// ListClients lists all registered clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client.Clone())
	}
	sort.Slice(clients, func(i, j int) bool {
		if clients[i].CreatedAt.Equal(clients[j].CreatedAt) {
			return clients[i].ClientID < clients[j].ClientID
		}
		return clients[i].CreatedAt.Before(clients[j].CreatedAt)
	})

	return clients, nil
}

// DeleteClient removes a client together with its outstanding codes
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "delete_client", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return err
	}

	removedCodes := make(map[string]*storage.AuthorizationCode)
	for code, ac := range s.authCodes {
		if ac.ClientID == clientID {
			removedCodes[code] = ac
			delete(s.authCodes, code)
		}
	}
	delete(s.clients, clientID)

	if err = s.flushLocked(); err != nil {
		s.clients[clientID] = client
		for code, ac := range removedCodes {
			s.authCodes[code] = ac
		}
		return err
	}
	s.clientsCountAtomic.Add(-1)
	s.codesCountAtomic.Add(-int64(len(removedCodes)))

	s.logger.Info("Deleted client", "client_id", clientID, "codes_removed", len(removedCodes))
	return nil
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.authCodes[code.Code]; exists {
		err = fmt.Errorf("authorization code collision")
		return err
	}

	s.authCodes[code.Code] = code.Clone()
	if err = s.flushLocked(); err != nil {
		delete(s.authCodes, code.Code)
		return err
	}
	s.codesCountAtomic.Add(1)

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, codeLogLength))
	return nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically consumes a code.
//
// SECURITY: the check and the mark happen under the write lock and the mark is
// flushed before returning, so only ONE concurrent caller can succeed and a
// consumed code stays consumed across restarts. Expired codes are marked used
// as well.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		err = storage.ErrAuthorizationCodeNotFound
		return nil, err
	}

	if authCode.Used {
		err = storage.ErrAuthorizationCodeUsed
		return authCode.Clone(), err
	}

	authCode.Used = true
	if err = s.flushLocked(); err != nil {
		authCode.Used = false
		return nil, err
	}

	if authCode.IsExpiredAt(s.now()) {
		err = storage.ErrAuthorizationCodeExpired
		return nil, err
	}

	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	return authCode.Clone(), nil
}

// DeleteExpiredAuthorizationCodes removes expired codes and returns the count
func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := make(map[string]*storage.AuthorizationCode)
	for code, ac := range s.authCodes {
		if ac.IsExpiredAt(now) {
			removed[code] = ac
			delete(s.authCodes, code)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := s.flushLocked(); err != nil {
		for code, ac := range removed {
			s.authCodes[code] = ac
		}
		return 0, err
	}
	s.codesCountAtomic.Add(-int64(len(removed)))

	return len(removed), nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			n, err := s.DeleteExpiredAuthorizationCodes(context.Background())
			if err != nil {
				s.logger.Warn("Failed to clean up expired authorization codes", "error", err)
			} else if n > 0 {
				s.logger.Debug("Cleaned up expired authorization codes", "count", n)
			}
		}
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a span for a storage operation. Without a tracer
// it returns a non-recording span, never the caller's.
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	s.instMu.RLock()
	tracer := s.tracer
	s.instMu.RUnlock()

	if tracer == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}

	ctx, span := tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "file")
	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	s.instMu.RLock()
	inst := s.instrumentation
	s.instMu.RUnlock()

	if inst == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	inst.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
