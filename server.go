package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/keys"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/storage/file"
	"github.com/giantswarm/mcp-authserver/storage/sqlite"
	"github.com/giantswarm/mcp-authserver/token"
	"github.com/giantswarm/mcp-authserver/tools"
)

// Service is the assembled authorization server: signing key, durable store,
// engine, HTTP handler and tool registry, owned by one value and passed to
// whatever serves it. There is no package-level state.
type Service struct {
	Server          *server.Server
	Handler         *Handler
	Keys            *keys.Manager
	Store           storage.Store
	Instrumentation *instrumentation.Instrumentation
	Tools           *tools.Registry

	rateLimiter *security.RateLimiter
	logger      *slog.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewService builds a Service from config. Server.Issuer is required.
func NewService(ctx context.Context, config Config) (*Service, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	logger := config.Logger

	svc := &Service{logger: logger}

	inst, err := instrumentation.New(ctx, config.Instrumentation)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	svc.Instrumentation = inst

	if err := svc.build(config, logger); err != nil {
		_ = svc.Close(ctx)
		return nil, err
	}
	return svc, nil
}

func (s *Service) build(config Config, logger *slog.Logger) error {
	km, err := keys.LoadOrGenerate(config.Keys.Dir, config.Keys.Bits, logger)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	s.Keys = km

	store, err := openStore(config.Storage, logger, s.Instrumentation, config.Clock)
	if err != nil {
		return err
	}
	s.Store = store

	serverConfig := config.Server
	issuer, err := token.NewIssuer(km, token.Config{
		Issuer:    serverConfig.Issuer,
		Audience:  serverConfig.TokenAudience(),
		TTL:       time.Duration(serverConfig.AccessTokenTTL) * time.Second,
		ClockSkew: time.Duration(serverConfig.ClockSkewGracePeriod) * time.Second,
		Now:       config.Clock,
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	srv, err := server.New(store, issuer, &serverConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}
	srv.SetClock(config.Clock)
	srv.SetInstrumentation(s.Instrumentation)

	auditor := security.NewAuditor(logger, !config.DisableAuditLogging)
	auditor.SetClock(config.Clock)
	auditor.SetLogRawIPs(s.Instrumentation.ShouldLogClientIPs())
	metrics := s.Instrumentation.Metrics()
	auditor.SetEventRecorder(func(ctx context.Context, eventType string) {
		metrics.RecordAuditEvent(ctx, eventType)
	})
	srv.SetAuditor(auditor)
	s.Server = srv

	if config.RateLimit.Rate > 0 {
		s.rateLimiter = security.NewRateLimiter(security.RateLimitConfig{
			Rate:  config.RateLimit.Rate,
			Burst: config.RateLimit.Burst,
		}, logger)
	} else {
		logger.Warn("⚠️  SECURITY WARNING: Rate limiting is disabled",
			"risk", "Registration and token endpoints can be flooded",
			"recommendation", "Set a positive rate limit")
	}

	s.Tools = tools.DefaultRegistry(logger)
	toolHandler := tools.NewHandler(s.Tools, logger)
	toolHandler.SetInstrumentation(s.Instrumentation)

	s.Handler = NewHandler(srv, km, toolHandler, logger)
	s.Handler.SetRateLimiter(s.rateLimiter)

	// The file store sweeps on its own; SQLite is swept from here
	if config.Storage.Driver == StorageDriverSQLite && config.Storage.CleanupInterval > 0 {
		s.startSweep(config.Storage.CleanupInterval)
	}

	logger.Info("Authorization server ready",
		"issuer", serverConfig.Issuer,
		"storage", config.Storage.Driver,
		"storage_path", config.Storage.Path,
		"kid", km.KeyID())
	return nil
}

// OpenStore opens the configured backend without the rest of the service,
// for administrative tools. The file backend's background sweep is off.
func OpenStore(config StorageConfig, logger *slog.Logger) (storage.Store, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.CleanupInterval = -1
	return openStore(config, logger, nil, time.Now)
}

// openStore opens the configured backend and wires logging, clock and
// instrumentation into it
func openStore(config StorageConfig, logger *slog.Logger, inst *instrumentation.Instrumentation, now func() time.Time) (storage.Store, error) {
	switch config.Driver {
	case StorageDriverSQLite:
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
		store, err := sqlite.New(config.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		store.SetLogger(logger)
		store.SetClock(now)
		store.SetInstrumentation(inst)
		return store, nil

	default:
		interval := config.CleanupInterval
		if interval < 0 {
			interval = 0
		}
		store, err := file.New(config.Path, interval)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		store.SetLogger(logger)
		store.SetClock(now)
		store.SetInstrumentation(inst)
		return store, nil
	}
}

func (s *Service) startSweep(interval time.Duration) {
	s.stopSweep = make(chan struct{})
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n, err := s.Store.DeleteExpiredAuthorizationCodes(context.Background())
				if err != nil {
					s.logger.Warn("Expired code cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Debug("Removed expired authorization codes", "count", n)
				}
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// Close stops background work and releases the store and telemetry
// exporters. It is safe to call more than once.
func (s *Service) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.stopSweep != nil {
			close(s.stopSweep)
			<-s.sweepDone
		}
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		if s.Store != nil {
			if err := s.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close store: %w", err))
			}
		}
		if s.Instrumentation != nil {
			if err := s.Instrumentation.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shut down instrumentation: %w", err))
			}
		}

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
