package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/keys"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/token"
	"github.com/giantswarm/mcp-authserver/tools"
)

const (
	defaultCORSMaxAge = 3600 // 1 hour default for preflight cache
	tokenTypeBearer   = "Bearer"

	// jwksMaxAge lets resource servers cache the key set briefly
	jwksMaxAge = 300
)

// KeySource publishes the public signing key set. Implemented by keys.Manager.
type KeySource interface {
	PublicJWKS() jwk.Set
}

type claimsContextKey struct{}

// ClaimsFromContext returns the verified access token claims stored by
// ValidateToken
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*token.Claims)
	return claims, ok
}

// ContextWithClaims stores verified claims in ctx
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Handler is a thin HTTP adapter for the authorization engine.
// It handles HTTP requests and delegates to server.Server for protocol logic.
type Handler struct {
	server      *server.Server
	keys        KeySource
	tools       *tools.Handler
	rateLimiter *security.RateLimiter
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewHandler creates a new HTTP handler. toolHandler may be nil when no
// protected tool surface is served.
func NewHandler(srv *server.Server, keySource KeySource, toolHandler *tools.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: srv,
		keys:   keySource,
		tools:  toolHandler,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer(""),
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// SetRateLimiter enables per-IP rate limiting. Nil disables it.
func (h *Handler) SetRateLimiter(rl *security.RateLimiter) {
	h.rateLimiter = rl
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.ClientIP(r, h.server.Config.TrustProxy, h.server.Config.TrustedProxyCount)
}

// ============================================================
// Discovery
// ============================================================

// ServeProtectedResourceMetadata serves RFC 9728 Protected Resource Metadata
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	cfg := h.server.Config
	writeJSON(w, http.StatusOK, ProtectedResourceMetadata{
		Resource:                          cfg.ResourceURL,
		AuthorizationServers:              []string{cfg.Issuer},
		BearerMethodsSupported:            []string{"header"},
		ResourceSigningAlgValuesSupported: []string{keys.Algorithm.String()},
		ScopesSupported:                   cfg.SupportedScopes,
	})
}

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	writeJSON(w, http.StatusOK, h.buildAuthServerMetadata())
}

// buildAuthServerMetadata builds the RFC 8414 authorization server metadata.
func (h *Handler) buildAuthServerMetadata() AuthorizationServerMetadata {
	cfg := h.server.Config
	return AuthorizationServerMetadata{
		Issuer:                            cfg.Issuer,
		AuthorizationEndpoint:             cfg.AuthorizationEndpoint(),
		TokenEndpoint:                     cfg.TokenEndpoint(),
		RegistrationEndpoint:              cfg.RegistrationEndpoint(),
		JWKSURI:                           cfg.JWKSEndpoint(),
		ScopesSupported:                   cfg.SupportedScopes,
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               server.SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported: server.SupportedTokenEndpointAuthMethods,
		CodeChallengeMethodsSupported:     cfg.SupportedPKCEMethods(),
	}
}

// ServeJWKS serves the JSON Web Key Set holding the active public key
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)

	body, err := json.Marshal(h.keys.PublicJWKS())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to encode JWKS", "error", err)
		h.writeOAuthError(w, server.ErrorCodeServerError, "Failed to encode key set", http.StatusInternalServerError)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", jwksMaxAge))
	w.Header().Del("Pragma")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// ============================================================
// Registration
// ============================================================

// ServeClientRegistration handles RFC 7591 dynamic client registration
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.client_registration")
	defer span.End()
	r = r.WithContext(ctx)

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	clientIP := h.clientIP(r)

	if h.checkRateLimit(w, r, clientIP, "register") {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if !h.authorizeRegistration(r) {
		h.server.Auditor.LogAuthFailure(ctx, "", clientIP, "invalid_initial_access_token")
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusUnauthorized, startTime)
		h.writeOAuthError(w, server.ErrorCodeInvalidToken, "Registration requires a valid access token", http.StatusUnauthorized)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)).Decode(&req); err != nil {
		h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, server.ErrorCodeInvalidClientMetadata, "Request body must be a JSON object", http.StatusBadRequest)
		return
	}

	client, creds, err := h.server.RegisterClient(ctx, server.RegistrationRequest{
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Scope:                   req.Scope,
	}, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.recordHTTPMetrics(ctx, "register", r.Method, server.AsError(err).Status, startTime)
		h.writeError(w, r, err)
		return
	}

	resp := h.clientConfiguration(client)
	resp.RegistrationAccessToken = creds.RegistrationAccessToken
	if creds.ClientSecret != "" {
		resp.ClientSecret = creds.ClientSecret
		never := int64(0)
		resp.ClientSecretExpiresAt = &never
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType))
	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "register", r.Method, http.StatusCreated, startTime)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	writeJSON(w, http.StatusCreated, resp)
}

// clientConfiguration renders the stored registration of client
func (h *Handler) clientConfiguration(client *storage.Client) ClientRegistrationResponse {
	return ClientRegistrationResponse{
		ClientID:                client.ClientID,
		RegistrationClientURI:   h.server.Config.RegistrationClientURI(client.ClientID),
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		Scope:                   client.Scope,
	}
}

// ServeClientConfiguration handles RFC 7592 client read requests:
// GET /register/{client_id} with the client's registration access token as
// a Bearer token
func (h *Handler) ServeClientConfiguration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.client_configuration")
	defer span.End()
	r = r.WithContext(ctx)

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "register_read", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	clientIP := h.clientIP(r)

	if h.checkRateLimit(w, r, clientIP, "register_read") {
		h.recordHTTPMetrics(ctx, "register_read", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	registrationToken, ok := bearerToken(r)
	if !ok {
		h.recordHTTPMetrics(ctx, "register_read", r.Method, http.StatusUnauthorized, startTime)
		h.writeOAuthError(w, server.ErrorCodeInvalidToken, "Missing or malformed Authorization header", http.StatusUnauthorized)
		return
	}

	client, err := h.server.ReadClientConfiguration(ctx, chi.URLParam(r, "client_id"), registrationToken, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.recordHTTPMetrics(ctx, "register_read", r.Method, server.AsError(err).Status, startTime)
		h.writeError(w, r, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "register_read", r.Method, http.StatusOK, startTime)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	writeJSON(w, http.StatusOK, h.clientConfiguration(client))
}

// authorizeRegistration checks the initial access token when one is
// configured
func (h *Handler) authorizeRegistration(r *http.Request) bool {
	expected := h.server.Config.InitialAccessToken
	if expected == "" {
		return true
	}
	presented, ok := bearerToken(r)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// ============================================================
// Authorization
// ============================================================

// ServeAuthorization handles authorization requests (GET query or POST form)
// and redirects back to the client with the code and state. Errors are
// rendered as JSON rather than redirected.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.authorization")
	defer span.End()
	r = r.WithContext(ctx)

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	clientIP := h.clientIP(r)

	if h.checkRateLimit(w, r, clientIP, "authorize") {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, server.ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	req := server.AuthorizationRequest{
		ResponseType:        r.FormValue("response_type"),
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		Scope:               r.FormValue("scope"),
		State:               r.FormValue("state"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
	}

	code, err := h.server.StartAuthorization(ctx, req, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, server.AsError(err).Status, startTime)
		h.writeError(w, r, err)
		return
	}

	location, err := redirectWithCode(code.RedirectURI, code.Code, req.State)
	if err != nil {
		// The redirect URI was validated at registration; this is corrupt state
		instrumentation.RecordError(span, err)
		h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusInternalServerError, startTime)
		h.writeError(w, r, server.ErrServerError("Invalid registered redirect_uri").WithCause(err))
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "authorize", r.Method, http.StatusFound, startTime)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}

// redirectWithCode appends code and state to the redirect URI. The
// registered URI, including any query it carries, is kept byte for byte.
func redirectWithCode(redirectURI, code, state string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}
	if strings.Contains(redirectURI, "#") {
		return "", fmt.Errorf("redirect URI has a fragment")
	}

	params := url.Values{"code": {code}}
	if state != "" {
		params.Set("state", state)
	}

	sep := "&"
	switch {
	case u.RawQuery == "" && u.ForceQuery:
		sep = ""
	case u.RawQuery == "":
		sep = "?"
	}
	return redirectURI + sep + params.Encode(), nil
}

// ============================================================
// Token
// ============================================================

// ServeToken handles the token endpoint for the authorization_code and
// client_credentials grants. Client credentials are read from HTTP Basic
// authentication or from the form body.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "oauth.http.token")
	defer span.End()
	r = r.WithContext(ctx)

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	clientIP := h.clientIP(r)

	if h.checkRateLimit(w, r, clientIP, "token") {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, server.ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		h.recordHTTPMetrics(ctx, "token", r.Method, server.AsError(err).Status, startTime)
		h.writeError(w, r, err)
		return
	}

	req := server.TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        r.PostFormValue("scope"),
	}
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, req.GrantType, req.Scope)

	issued, err := h.server.Token(ctx, req, clientIP)
	if err != nil {
		instrumentation.RecordError(span, err)
		if isClientError(err) {
			h.logger.InfoContext(ctx, "Token request rejected",
				"client_id", clientID,
				"grant_type", req.GrantType,
				"error", server.AsError(err).Code)
		}
		h.recordHTTPMetrics(ctx, "token", r.Method, server.AsError(err).Status, startTime)
		h.writeError(w, r, err)
		return
	}

	instrumentation.SetSpanSuccess(span)
	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: issued.AccessToken,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   issued.ExpiresIn,
		Scope:       issued.Claims.Scope,
	})
}

// clientCredentials extracts client_id and client_secret from HTTP Basic
// authentication (RFC 6749 section 2.3.1, form-encoded) or the form body.
// Sending different identities through both is rejected.
func clientCredentials(r *http.Request) (string, string, error) {
	formID := r.PostFormValue("client_id")
	formSecret := r.PostFormValue("client_secret")

	basicID, basicSecret, ok := r.BasicAuth()
	if !ok {
		return formID, formSecret, nil
	}

	id, err := url.QueryUnescape(basicID)
	if err != nil {
		return "", "", server.ErrInvalidClient("Malformed client credentials")
	}
	secret, err := url.QueryUnescape(basicSecret)
	if err != nil {
		return "", "", server.ErrInvalidClient("Malformed client credentials")
	}

	if formID != "" && formID != id {
		return "", "", server.ErrInvalidRequest("client_id in the body does not match the authenticated client")
	}
	if formSecret != "" {
		return "", "", server.ErrInvalidRequest("Client credentials must use a single authentication method")
	}
	return id, secret, nil
}

// ============================================================
// Resource guard
// ============================================================

// ValidateToken is middleware that admits only requests carrying a valid
// access token. The verified claims are available to next through
// ClaimsFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		clientIP := h.clientIP(r)

		if h.checkRateLimit(w, r, clientIP, "resource") {
			return
		}

		accessToken, ok := bearerToken(r)
		if !ok {
			h.writeOAuthError(w, server.ErrorCodeInvalidToken, "Missing or malformed Authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := h.server.ValidateAccessToken(ctx, accessToken)
		if err != nil {
			reason := "invalid"
			if errors.Is(err, token.ErrExpired) {
				reason = "expired"
			}
			h.server.Auditor.LogEvent(ctx, security.Event{
				Type:      security.EventInvalidToken,
				IPAddress: clientIP,
				Details: map[string]any{
					"reason": reason,
					"path":   r.URL.Path,
				},
			})
			h.logger.WarnContext(ctx, "Token validation failed", "reason", reason)
			h.writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(ctx, claims)))
	})
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], tokenTypeBearer) {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// ============================================================
// Rate limiting, CORS, metrics
// ============================================================

// checkRateLimit returns true, after writing a 429, when clientIP is over
// its budget
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.rateLimiter == nil || h.rateLimiter.Allow(clientIP) {
		return false
	}

	instrumentation.SetSpanAttributes(trace.SpanFromContext(r.Context()),
		attribute.String(instrumentation.AttrRateLimiterType, "ip"))
	h.logger.WarnContext(r.Context(), "Rate limit exceeded", "endpoint", endpoint)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.server.Auditor.LogRateLimitExceeded(r.Context(), clientIP, endpoint)

	w.Header().Set("Retry-After", "60")
	h.writeOAuthError(w, server.ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// setCORSHeaders sets CORS headers if configured and the origin is allowed.
func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(h.server.Config.AllowedOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if !h.isAllowedOrigin(origin) {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	// Echo back the specific origin rather than using "*"
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", defaultCORSMaxAge))
}

// isAllowedOrigin checks if the given origin is in the allowed origins list.
func (h *Handler) isAllowedOrigin(origin string) bool {
	for _, allowed := range h.server.Config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServePreflightRequest handles CORS preflight (OPTIONS) requests.
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodOptions {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w, r)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

// ServeHealth reports liveness
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
// and tags the request span
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	instrumentation.AddHTTPAttributes(trace.SpanFromContext(ctx), method, endpoint, status)
	if h.server.Instrumentation == nil {
		return
	}
	duration := float64(time.Since(startTime).Microseconds()) / 1000
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
