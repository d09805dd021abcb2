package server

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/token"
)

// AuthorizationRequest holds the parameters of an authorization request
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest holds the parameters of a token request. ClientID and
// ClientSecret come from HTTP Basic credentials or the form body.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	ClientID     string
	ClientSecret string
	Scope        string
}

// StartAuthorization validates an authorization request and issues an
// authorization code bound to the client, the redirect_uri and the PKCE
// challenge. The caller redirects to RedirectURI with the code and the
// request's state.
//
// Errors are never redirected: an unknown client or a redirect_uri that is
// not registered must not turn the server into an open redirector.
func (s *Server) StartAuthorization(ctx context.Context, req AuthorizationRequest, clientIP string) (*storage.AuthorizationCode, error) {
	ctx, span := s.startSpan(ctx, "authorize",
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType))
	code, err := s.startAuthorization(ctx, req, clientIP)
	if code != nil {
		instrumentation.AddPKCEAttributes(span, code.CodeChallengeMethod)
	}
	finishSpan(span, err)
	return code, err
}

func (s *Server) startAuthorization(ctx context.Context, req AuthorizationRequest, clientIP string) (*storage.AuthorizationCode, error) {
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.Auditor.LogAuthFailure(ctx, req.ClientID, clientIP, "unknown_client")
			return nil, ErrUnknownClient("Unknown client")
		}
		return nil, ErrServerError("Failed to load client").WithCause(err)
	}

	if !client.HasGrantType(GrantTypeAuthorizationCode) {
		s.Auditor.LogAuthFailure(ctx, client.ClientID, clientIP, "authorization_code_not_registered")
		return nil, ErrUnauthorizedClient("Client is not registered for the authorization_code grant")
	}

	if !redirectURIRegistered(client.RedirectURIs, req.RedirectURI) {
		s.Auditor.LogEvent(ctx, security.Event{
			Type:      security.EventInvalidRedirect,
			ClientID:  client.ClientID,
			IPAddress: clientIP,
			Details: map[string]any{
				"redirect_uri": req.RedirectURI,
			},
		})
		s.Logger.Warn("Authorization request with unregistered redirect_uri",
			"client_id", client.ClientID,
			"redirect_uri", req.RedirectURI)
		return nil, ErrUnauthorizedClient("redirect_uri does not match a registered redirect URI")
	}

	switch req.ResponseType {
	case ResponseTypeCode:
	case "":
		return nil, ErrInvalidRequest("response_type is required")
	default:
		return nil, ErrUnsupportedResponseType(fmt.Sprintf("response_type %q is not supported", req.ResponseType))
	}

	method := ""
	if req.CodeChallenge == "" {
		if req.CodeChallengeMethod != "" {
			return nil, ErrInvalidRequest("code_challenge_method given without code_challenge")
		}
		if client.ClientType == ClientTypePublic || s.Config.RequirePKCE {
			s.Auditor.LogEvent(ctx, security.Event{
				Type:      security.EventPKCERequiredForPublicClient,
				ClientID:  client.ClientID,
				IPAddress: clientIP,
				Details: map[string]any{
					"client_type": client.ClientType,
				},
			})
			return nil, ErrInvalidRequest("code_challenge is required")
		}
	} else {
		method, err = s.validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod)
		if err != nil {
			return nil, ErrInvalidRequest(err.Error())
		}
	}

	scope, err := s.resolveScope(req.Scope, client.Scope)
	if err != nil {
		return nil, ErrInvalidScope(err.Error())
	}

	now := s.now().UTC()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.AuthorizationCodeTTLDuration()),
	}

	if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
		s.Logger.Error("Failed to save authorization code", "error", err, "client_id", client.ClientID)
		return nil, ErrServerError("Failed to issue authorization code").WithCause(err)
	}

	s.Auditor.LogEvent(ctx, security.Event{
		Type:      security.EventAuthorizationCodeIssued,
		ClientID:  client.ClientID,
		IPAddress: clientIP,
		Details: map[string]any{
			"scope":                 scope,
			"code_challenge_method": method,
		},
	})
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, pkceLabel(method))
	}

	s.Logger.Debug("Issued authorization code",
		"client_id", client.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, 8),
		"expires_at", code.ExpiresAt)

	return code.Clone(), nil
}

// Token dispatches a token request by grant_type
func (s *Server) Token(ctx context.Context, req TokenRequest, clientIP string) (*token.Issued, error) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.ExchangeAuthorizationCode(ctx, req, clientIP)
	case GrantTypeClientCredentials:
		return s.ClientCredentialsGrant(ctx, req, clientIP)
	case "":
		return nil, ErrInvalidRequest("grant_type is required")
	default:
		return nil, ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", req.GrantType))
	}
}

// ExchangeAuthorizationCode redeems an authorization code for an access token.
//
// The code is consumed before the client_id, redirect_uri and PKCE checks, so
// a failed attempt spends it and a verifier cannot be brute forced against
// one code. Every code-related failure returns the same invalid_grant.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req TokenRequest, clientIP string) (*token.Issued, error) {
	ctx, span := s.startSpan(ctx, "exchange_code")
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, GrantTypeAuthorizationCode, "")
	issued, err := s.exchangeAuthorizationCode(ctx, req, clientIP)
	finishSpan(span, err)
	return issued, err
}

func (s *Server) exchangeAuthorizationCode(ctx context.Context, req TokenRequest, clientIP string) (*token.Issued, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, clientIP)
	if err != nil {
		return nil, err
	}

	authCode, err := s.store.AtomicCheckAndMarkAuthCodeUsed(ctx, req.Code)
	if err != nil {
		return nil, s.codeRedemptionFailed(ctx, req, authCode, err, clientIP)
	}

	// The code is spent from here on.
	method := authCode.CodeChallengeMethod

	if authCode.ClientID != client.ClientID {
		return nil, s.invalidGrant(ctx, req, method, "client_id_mismatch", clientIP)
	}

	if authCode.RedirectURI != req.RedirectURI {
		return nil, s.invalidGrant(ctx, req, method, "redirect_uri_mismatch", clientIP)
	}

	if authCode.CodeChallenge != "" {
		if err := s.verifyPKCE(authCode.CodeChallenge, method, req.CodeVerifier); err != nil {
			s.Auditor.LogEvent(ctx, security.Event{
				Type:      security.EventPKCEValidationFailed,
				ClientID:  client.ClientID,
				IPAddress: clientIP,
				Details: map[string]any{
					"reason": err.Error(),
					"method": method,
				},
			})
			if m := s.metrics(); m != nil {
				m.RecordPKCEValidationFailed(ctx, method)
			}
			return nil, s.invalidGrant(ctx, req, method, "pkce_validation_failed", clientIP)
		}
	}

	issued, err := s.issueToken(ctx, client.ClientID, GrantTypeAuthorizationCode, authCode.Scope, clientIP)
	if err != nil {
		return nil, err
	}

	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, pkceLabel(method), true)
	}
	return issued, nil
}

// codeRedemptionFailed maps a consume failure to invalid_grant, or to
// server_error when the store itself failed.
func (s *Server) codeRedemptionFailed(ctx context.Context, req TokenRequest, authCode *storage.AuthorizationCode, err error, clientIP string) error {
	method := ""
	if authCode != nil {
		method = authCode.CodeChallengeMethod
	}

	switch {
	case errors.Is(err, storage.ErrAuthorizationCodeUsed):
		span := trace.SpanFromContext(ctx)
		instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCodeReuse, true))
		if s.Instrumentation != nil && s.Instrumentation.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, clientIP)
		}
		s.Logger.Warn("Authorization code reuse detected",
			"client_id", req.ClientID,
			"code_prefix", util.SafeTruncate(req.Code, 8))
		s.Auditor.LogEvent(ctx, security.Event{
			Type:      security.EventAuthorizationCodeReuseDetected,
			ClientID:  req.ClientID,
			IPAddress: clientIP,
			Details: map[string]any{
				"severity": "high",
			},
		})
		if m := s.metrics(); m != nil {
			m.RecordCodeReuseDetected(ctx)
		}
		return s.invalidGrant(ctx, req, method, "authorization_code_reused", clientIP)

	case errors.Is(err, storage.ErrAuthorizationCodeNotFound):
		return s.invalidGrant(ctx, req, method, "authorization_code_not_found", clientIP)

	case errors.Is(err, storage.ErrAuthorizationCodeExpired):
		return s.invalidGrant(ctx, req, method, "authorization_code_expired", clientIP)

	default:
		s.Logger.Error("Failed to consume authorization code", "error", err)
		return ErrServerError("Failed to redeem authorization code").WithCause(err)
	}
}

// invalidGrant logs the specific reason and returns the generic error
func (s *Server) invalidGrant(ctx context.Context, req TokenRequest, method, reason, clientIP string) error {
	s.Logger.Debug("Authorization code validation failed",
		"reason", reason,
		"client_id", req.ClientID,
		"code_prefix", util.SafeTruncate(req.Code, 8))
	s.Auditor.LogAuthFailure(ctx, req.ClientID, clientIP, reason)
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, pkceLabel(method), false)
	}
	return ErrInvalidGrant("Invalid, expired or already used authorization code").WithCause(errors.New(reason))
}

// ClientCredentialsGrant authenticates a confidential client and issues an
// access token on its own behalf. A failed authentication changes no state.
func (s *Server) ClientCredentialsGrant(ctx context.Context, req TokenRequest, clientIP string) (*token.Issued, error) {
	ctx, span := s.startSpan(ctx, "client_credentials")
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, GrantTypeClientCredentials, req.Scope)
	issued, err := s.clientCredentialsGrant(ctx, req, clientIP)
	finishSpan(span, err)
	return issued, err
}

func (s *Server) clientCredentialsGrant(ctx context.Context, req TokenRequest, clientIP string) (*token.Issued, error) {
	if req.ClientID == "" || req.ClientSecret == "" {
		s.Auditor.LogAuthFailure(ctx, req.ClientID, clientIP, "missing_client_credentials")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret, clientIP)
	if err != nil {
		return nil, err
	}

	if client.ClientType == ClientTypePublic {
		// authenticateClient does not check secrets of public clients
		s.Auditor.LogAuthFailure(ctx, client.ClientID, clientIP, "public_client_credentials_grant")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	if !client.HasGrantType(GrantTypeClientCredentials) {
		s.Auditor.LogAuthFailure(ctx, client.ClientID, clientIP, "client_credentials_not_registered")
		return nil, ErrUnauthorizedClient("Client is not registered for the client_credentials grant")
	}

	scope, err := s.resolveScope(req.Scope, client.Scope)
	if err != nil {
		return nil, ErrInvalidScope(err.Error())
	}

	return s.issueToken(ctx, client.ClientID, GrantTypeClientCredentials, scope, clientIP)
}

// authenticateClient loads the client and, for confidential clients, checks
// the secret. Public clients are identified by client_id alone; a secret
// sent by a public client is ignored.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			// Burn a comparison so unknown ids are not distinguishable by timing
			_ = s.store.ValidateClientSecret(ctx, clientID, clientSecret)
			s.Auditor.LogAuthFailure(ctx, clientID, clientIP, "unknown_client")
			return nil, ErrInvalidClient("Client authentication failed")
		}
		return nil, ErrServerError("Failed to load client").WithCause(err)
	}

	if client.ClientType == ClientTypePublic {
		return client, nil
	}

	if err := s.store.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		if !errors.Is(err, storage.ErrInvalidClientCredentials) && !errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrServerError("Failed to authenticate client").WithCause(err)
		}
		s.Auditor.LogAuthFailure(ctx, clientID, clientIP, "invalid_client_secret")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	return client, nil
}

func (s *Server) issueToken(ctx context.Context, clientID, grantType, scope, clientIP string) (*token.Issued, error) {
	issued, err := s.issuer.Issue(token.IssueRequest{
		ClientID:  clientID,
		GrantType: grantType,
		Scope:     scope,
		TTL:       s.Config.AccessTokenTTLDuration(),
	})
	if err != nil {
		s.Logger.Error("Failed to sign access token", "error", err, "client_id", clientID)
		return nil, ErrServerError("Failed to issue access token").WithCause(err)
	}

	instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx),
		attribute.String(instrumentation.AttrTokenType, "Bearer"),
		attribute.Int64(instrumentation.AttrExpiresIn, issued.ExpiresIn))

	s.Auditor.LogTokenIssued(ctx, clientID, clientIP, grantType, scope)
	if m := s.metrics(); m != nil {
		m.RecordTokenIssued(ctx, grantType)
	}

	s.Logger.Info("Issued access token",
		"client_id", clientID,
		"grant_type", grantType,
		"scope", scope,
		"expires_in", issued.ExpiresIn)

	return issued, nil
}

// ValidateAccessToken verifies a bearer token for the resource guard:
// signature against the published key, issuer, audience and expiry.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (*token.Claims, error) {
	ctx, span := s.startSpan(ctx, "validate_token")

	if accessToken == "" {
		err := ErrInvalidToken("Missing access token")
		s.recordTokenValidation(ctx, "missing")
		finishSpan(span, err)
		return nil, err
	}

	claims, err := s.issuer.Verify(accessToken)
	if err != nil {
		result := "invalid"
		if errors.Is(err, token.ErrExpired) {
			result = "expired"
		}
		s.recordTokenValidation(ctx, result)
		s.Logger.Debug("Access token rejected", "reason", err.Error())

		oerr := ErrInvalidToken("The access token is invalid or expired").WithCause(err)
		finishSpan(span, oerr)
		return nil, oerr
	}

	s.recordTokenValidation(ctx, "valid")
	instrumentation.AddOAuthFlowAttributes(span, claims.ClientID, claims.GrantType, claims.Scope)
	finishSpan(span, nil)
	return claims, nil
}

func (s *Server) recordTokenValidation(ctx context.Context, result string) {
	if m := s.metrics(); m != nil {
		m.RecordTokenValidation(ctx, result)
	}
}

// pkceLabel is the metric label for a challenge method
func pkceLabel(method string) string {
	if method == "" {
		return "none"
	}
	return method
}
