package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/token"
)

// Server is the authorization engine. It owns no transport; the root
// package's Handler drives it from HTTP.
type Server struct {
	store           storage.Store
	issuer          *token.Issuer
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer         trace.Tracer
	now            func() time.Time
	secretHashCost int
}

// New creates a new authorization engine
func New(store storage.Store, issuer *token.Issuer, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		store:          store,
		issuer:         issuer,
		Config:         config,
		Logger:         logger,
		tracer:         noop.NewTracerProvider().Tracer(""),
		now:            time.Now,
		secretHashCost: bcrypt.DefaultCost,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables metrics and tracing for the engine
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// SetClock overrides the time source used for code issuance and client
// creation timestamps
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Store returns the backing store
func (s *Server) Store() storage.Store {
	return s.store
}

// TokenIssuer returns the access token issuer
func (s *Server) TokenIssuer() *token.Issuer {
	return s.issuer
}

// metrics returns the metrics holder, or nil when instrumentation is off
func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

func (s *Server) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "oauth."+name, trace.WithAttributes(attrs...))
}

// finishSpan marks the span with the outcome of the operation and ends it.
// Protocol errors set the error status and code; only unexpected failures
// are recorded as span exceptions.
func finishSpan(span trace.Span, err error) {
	var oerr *Error
	switch {
	case err == nil:
		instrumentation.SetSpanSuccess(span)
	case errors.As(err, &oerr) && oerr.Status < http.StatusInternalServerError:
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, oerr.Code))
		instrumentation.SetSpanError(span, oerr.Description)
	default:
		instrumentation.RecordError(span, err)
	}
	span.End()
}

// generateRandomToken generates a cryptographically secure random token.
// oauth2.GenerateVerifier yields 32 random bytes as unpadded base64url.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
