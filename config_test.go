package oauth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authserver/keys"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var c Config
	if err := c.applyDefaults(); err != nil {
		t.Fatalf("applyDefaults() error = %v", err)
	}

	if c.Logger == nil {
		t.Error("Logger not defaulted")
	}
	if c.Clock == nil {
		t.Error("Clock not defaulted")
	}
	if c.Storage.Driver != StorageDriverFile {
		t.Errorf("Storage.Driver = %q, want %q", c.Storage.Driver, StorageDriverFile)
	}
	if want := filepath.Join("data", "oauth_clients.json"); c.Storage.Path != want {
		t.Errorf("Storage.Path = %q, want %q", c.Storage.Path, want)
	}
	if c.Storage.CleanupInterval != 5*time.Minute {
		t.Errorf("Storage.CleanupInterval = %v, want 5m", c.Storage.CleanupInterval)
	}
	if c.Keys.Dir != "keys" {
		t.Errorf("Keys.Dir = %q, want keys", c.Keys.Dir)
	}
	if c.Keys.Bits != keys.DefaultKeyBits {
		t.Errorf("Keys.Bits = %d, want %d", c.Keys.Bits, keys.DefaultKeyBits)
	}
	if c.RateLimit.Rate != 10 || c.RateLimit.Burst != 20 {
		t.Errorf("RateLimit = %+v, want 10/s burst 20", c.RateLimit)
	}
}

func TestConfig_ApplyDefaultsSQLitePath(t *testing.T) {
	c := Config{Storage: StorageConfig{Driver: StorageDriverSQLite}}
	if err := c.applyDefaults(); err != nil {
		t.Fatalf("applyDefaults() error = %v", err)
	}
	if want := filepath.Join("data", "oauth.db"); c.Storage.Path != want {
		t.Errorf("Storage.Path = %q, want %q", c.Storage.Path, want)
	}
}

func TestConfig_ApplyDefaultsKeepsExplicitValues(t *testing.T) {
	c := Config{
		Storage:   StorageConfig{Path: "/var/lib/auth/clients.json", CleanupInterval: -1},
		Keys:      KeysConfig{Dir: "/etc/auth/keys", Bits: 4096},
		RateLimit: RateLimitConfig{Rate: -1, Burst: 5},
	}
	if err := c.applyDefaults(); err != nil {
		t.Fatalf("applyDefaults() error = %v", err)
	}
	if c.Storage.Path != "/var/lib/auth/clients.json" {
		t.Errorf("Storage.Path = %q", c.Storage.Path)
	}
	if c.Storage.CleanupInterval != -1 {
		t.Errorf("Storage.CleanupInterval = %v, want -1", c.Storage.CleanupInterval)
	}
	if c.Keys.Dir != "/etc/auth/keys" || c.Keys.Bits != 4096 {
		t.Errorf("Keys = %+v", c.Keys)
	}
	if c.RateLimit.Rate != -1 || c.RateLimit.Burst != 5 {
		t.Errorf("RateLimit = %+v", c.RateLimit)
	}
}

func TestConfig_UnknownDriver(t *testing.T) {
	c := Config{Storage: StorageConfig{Driver: "valkey"}}
	if err := c.applyDefaults(); err == nil {
		t.Error("applyDefaults() accepted an unknown storage driver")
	}
}
