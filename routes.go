package oauth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
)

// Tool endpoints, guarded by ValidateToken
const (
	ToolsListPath = "/mcp/v1/tools/list"
	ToolsCallPath = "/mcp/v1/tools/call"
	HealthPath    = "/health"
	MetricsPath   = "/metrics"
)

// Routes returns the complete HTTP surface: discovery, registration and
// client configuration reads, authorization, token, JWKS, the protected tools and health. /metrics is
// mounted when the Prometheus exporter is enabled.
func (s *Service) Routes() http.Handler {
	h := s.Handler

	r := chi.NewRouter()
	r.Use(middleware.RequestSize(defaultMaxBodyBytes))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))
	r.Use(security.RequestIDMiddleware)

	r.Get(server.ProtectedResourceMetadataPath, h.ServeProtectedResourceMetadata)
	r.Get(server.AuthorizationServerMetadataPath, h.ServeAuthorizationServerMetadata)
	r.Get(server.JWKSPath, h.ServeJWKS)

	r.Post(server.RegistrationPath, h.ServeClientRegistration)
	r.Get(server.RegistrationPath+"/{client_id}", h.ServeClientConfiguration)
	r.Get(server.AuthorizationPath, h.ServeAuthorization)
	r.Post(server.AuthorizationPath, h.ServeAuthorization)
	r.Post(server.TokenPath, h.ServeToken)

	r.Options("/*", h.ServePreflightRequest)
	r.Get(HealthPath, h.ServeHealth)

	if metrics := s.Instrumentation.MetricsHandler(); metrics != nil {
		r.Handle(MetricsPath, metrics)
	}

	if h.tools != nil {
		r.Group(func(r chi.Router) {
			r.Use(security.SecurityHeaders(s.Server.Config.Issuer))
			r.Use(h.ValidateToken)
			r.Get(ToolsListPath, h.tools.ServeList)
			r.Post(ToolsCallPath, h.tools.ServeCall)
		})
	}

	return r
}
