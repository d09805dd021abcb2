package oauth

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/keys"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage/file"
)

// Storage drivers
const (
	StorageDriverFile   = "file"
	StorageDriverSQLite = "sqlite"
)

// Default locations, relative to the working directory
const (
	DefaultDataDir          = "data"
	DefaultKeysDir          = "keys"
	DefaultCleanupInterval  = 5 * time.Minute
	defaultSQLiteFileName   = "oauth.db"
	defaultRequestTimeout   = 30 * time.Second
	defaultMaxBodyBytes     = 1 << 20
	defaultRateLimitBurst   = 20
	defaultRateLimitPerSecs = 10
)

// Config holds the complete service configuration.
// Structured using composition for better organization.
type Config struct {
	// Server configures the authorization engine. Server.Issuer is required.
	Server server.Config

	// Storage selects and configures the durable backend
	Storage StorageConfig

	// Keys configures the RS256 signing key
	Keys KeysConfig

	// RateLimit configures the per-IP request limiter
	RateLimit RateLimitConfig

	// Instrumentation configures metrics and tracing
	Instrumentation instrumentation.Config

	// DisableAuditLogging turns off security audit records
	DisableAuditLogging bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Clock overrides the time source of every component. Default: time.Now
	Clock func() time.Time
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	// Driver is "file" (default) or "sqlite"
	Driver string

	// Path is the JSON document (file) or database file (sqlite).
	// Default: data/oauth_clients.json or data/oauth.db
	Path string

	// CleanupInterval is how often expired authorization codes are removed.
	// Negative disables the sweep; expiry is enforced at redemption either way.
	// Default: 5 minutes
	CleanupInterval time.Duration
}

// KeysConfig holds signing key configuration
type KeysConfig struct {
	// Dir holds private_key.pem and public_key.pem. Default: keys
	Dir string

	// Bits is the RSA modulus size for a newly generated key. Default: 2048
	Bits int
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Negative disables limiting.
	// Default: 10
	Rate float64

	// Burst is the maximum burst size allowed per IP. Default: 20
	Burst int
}

// applyDefaults fills zero values and rejects unknown drivers
func (c *Config) applyDefaults() error {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	if err := c.Storage.applyDefaults(); err != nil {
		return err
	}

	if c.Keys.Dir == "" {
		c.Keys.Dir = DefaultKeysDir
	}
	if c.Keys.Bits == 0 {
		c.Keys.Bits = keys.DefaultKeyBits
	}

	if c.RateLimit.Rate == 0 {
		c.RateLimit.Rate = defaultRateLimitPerSecs
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = defaultRateLimitBurst
	}
	return nil
}

// applyDefaults fills the driver, path and sweep interval
func (c *StorageConfig) applyDefaults() error {
	switch c.Driver {
	case "":
		c.Driver = StorageDriverFile
	case StorageDriverFile, StorageDriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
	if c.Path == "" {
		if c.Driver == StorageDriverSQLite {
			c.Path = filepath.Join(DefaultDataDir, defaultSQLiteFileName)
		} else {
			c.Path = filepath.Join(DefaultDataDir, file.DefaultFileName)
		}
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return nil
}
