// Package sqlite provides a storage.Store backed by a SQLite database using
// the pure-Go modernc.org/sqlite driver.
//
// All access goes through a single connection, so SQLite itself serializes
// writers. Code consumption is a conditional UPDATE whose affected-row count
// decides the single winner.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/storage"
)

const (
	codeLogLength = 8

	// bcrypt hash of "test", compared for unknown clients
	dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// Store is a SQLite implementation of storage.Store
type Store struct {
	db *sql.DB

	mu     sync.RWMutex
	now    func() time.Time
	logger *slog.Logger

	instMu          sync.RWMutex
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{
		db:     db,
		now:    time.Now,
		logger: slog.Default(),
	}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS oauth_clients (
			client_id TEXT PRIMARY KEY,
			client_secret_hash TEXT NOT NULL DEFAULT '',
			registration_access_token_hash TEXT NOT NULL DEFAULT '',
			client_type TEXT NOT NULL,
			client_name TEXT NOT NULL DEFAULT '',
			redirect_uris TEXT NOT NULL,
			token_endpoint_auth_method TEXT NOT NULL,
			grant_types TEXT NOT NULL,
			response_types TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS authorization_codes (
			code TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			redirect_uri TEXT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			code_challenge TEXT NOT NULL DEFAULT '',
			code_challenge_method TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			used INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_authorization_codes_expires_at ON authorization_codes (expires_at);
		CREATE INDEX IF NOT EXISTS idx_authorization_codes_client_id ON authorization_codes (client_id);
	`)
	if err != nil {
		return err
	}
	return addColumnIfMissing(db, "oauth_clients", "registration_access_token_hash", "TEXT NOT NULL DEFAULT ''")
}

// clientColumns is the column order scanClient expects
const clientColumns = `client_id, client_secret_hash, registration_access_token_hash, client_type, client_name,
			redirect_uris, token_endpoint_auth_method, grant_types, response_types, scope, created_at`

// addColumnIfMissing upgrades databases created before column existed
func addColumnIfMissing(db *sql.DB, table, column, definition string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition))
	return err
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

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.count("SELECT COUNT(*) FROM oauth_clients") },
			func() int64 { return s.count("SELECT COUNT(*) FROM authorization_codes") },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *Store) count(query string) int64 {
	var n int64
	if err := s.db.QueryRow(query).Scan(&n); err != nil {
		return 0
	}
	return n
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient inserts a new client; an existing ID yields storage.ErrClientExists
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_client", err, startTime) }()

	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	redirectURIs, err := encodeList(client.RedirectURIs)
	if err != nil {
		return err
	}
	grantTypes, err := encodeList(client.GrantTypes)
	if err != nil {
		return err
	}
	responseTypes, err := encodeList(client.ResponseTypes)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id) DO NOTHING`,
		client.ClientID, client.ClientSecretHash, client.RegistrationAccessTokenHash, client.ClientType, client.ClientName, redirectURIs,
		client.TokenEndpointAuthMethod, grantTypes, responseTypes, client.Scope, client.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrClientExists, client.ClientID)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get_client", err, startTime) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+`
		FROM oauth_clients WHERE client_id = ?`, clientID)
	client, err = scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	return client, err
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
	if err != nil || client.ClientSecretHash == "" || bcryptErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ListClients lists all registered clients ordered by creation time
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+clientColumns+`
		FROM oauth_clients ORDER BY created_at, client_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var out []*storage.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteClient removes a client together with its outstanding codes
func (s *Store) DeleteClient(ctx context.Context, clientID string) (err error) {
	ctx, span := s.startStorageSpan(ctx, "delete_client")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete_client", err, startTime) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM oauth_clients WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM authorization_codes WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("failed to delete client codes: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	s.logger.Info("Deleted client", "client_id", clientID)
	return nil
}

// ============================================================
// FlowStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime) }()

	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO authorization_codes (code, client_id, redirect_uri, scope, code_challenge,
			code_challenge_method, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code.Code, code.ClientID, code.RedirectURI, code.Scope, code.CodeChallenge,
		code.CodeChallengeMethod, code.CreatedAt.UnixNano(), code.ExpiresAt.UnixNano(), boolToInt(code.Used))
	if err != nil {
		return fmt.Errorf("failed to insert authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, codeLogLength))
	return nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically consumes a code.
//
// SECURITY: the UPDATE only matches an unused row, so when several callers
// race exactly one sees an affected row. Expired codes are marked used too.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (authCode *storage.AuthorizationCode, err error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT code, client_id, redirect_uri, scope, code_challenge, code_challenge_method,
			created_at, expires_at, used
		FROM authorization_codes WHERE code = ?`, code)
	authCode, err = scanCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE authorization_codes SET used = 1 WHERE code = ? AND used = 0`, code)
	if err != nil {
		return nil, fmt.Errorf("failed to mark authorization code used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return authCode, storage.ErrAuthorizationCodeUsed
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}

	if authCode.IsExpiredAt(s.clock()) {
		return nil, storage.ErrAuthorizationCodeExpired
	}

	authCode.Used = true
	s.logger.Debug("Marked authorization code as used",
		"code_prefix", util.SafeTruncate(code, codeLogLength))
	return authCode, nil
}

// DeleteExpiredAuthorizationCodes removes expired codes and returns the count
func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE expires_at <= ?`, s.clock().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ============================================================
// Row helpers
// ============================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*storage.Client, error) {
	var (
		c                                       storage.Client
		redirectURIs, grantTypes, responseTypes string
		createdAt                               int64
	)
	if err := row.Scan(&c.ClientID, &c.ClientSecretHash, &c.RegistrationAccessTokenHash, &c.ClientType, &c.ClientName, &redirectURIs,
		&c.TokenEndpointAuthMethod, &grantTypes, &responseTypes, &c.Scope, &createdAt); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		raw  string
		dest *[]string
	}{
		{redirectURIs, &c.RedirectURIs},
		{grantTypes, &c.GrantTypes},
		{responseTypes, &c.ResponseTypes},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("failed to decode client %s: %w", c.ClientID, err)
		}
	}
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return &c, nil
}

func scanCode(row scanner) (*storage.AuthorizationCode, error) {
	var (
		ac                   storage.AuthorizationCode
		createdAt, expiresAt int64
		used                 int
	)
	if err := row.Scan(&ac.Code, &ac.ClientID, &ac.RedirectURI, &ac.Scope, &ac.CodeChallenge,
		&ac.CodeChallengeMethod, &createdAt, &expiresAt, &used); err != nil {
		return nil, err
	}
	ac.CreatedAt = time.Unix(0, createdAt).UTC()
	ac.ExpiresAt = time.Unix(0, expiresAt).UTC()
	ac.Used = used != 0
	return &ac, nil
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
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
	instrumentation.AddStorageAttributes(span, operation, "sqlite")
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
