package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Client type constants
const (
	// ClientTypeConfidential represents a client that holds a secret
	ClientTypeConfidential = "confidential"

	// ClientTypePublic represents a client without a secret, protected by PKCE
	ClientTypePublic = "public"
)

// Token endpoint authentication methods (RFC 7591)
const (
	// TokenEndpointAuthMethodNone represents no authentication (public clients)
	TokenEndpointAuthMethodNone = "none"

	// TokenEndpointAuthMethodBasic represents HTTP Basic authentication
	TokenEndpointAuthMethodBasic = "client_secret_basic"

	// TokenEndpointAuthMethodPost represents POST form parameters
	TokenEndpointAuthMethodPost = "client_secret_post"
)

// Grant and response types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	ResponseTypeCode           = "code"
)

// SupportedGrantTypes lists the grant types a client may register for
var SupportedGrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeClientCredentials}

// SupportedTokenEndpointAuthMethods lists the accepted client authentication methods
var SupportedTokenEndpointAuthMethods = []string{
	TokenEndpointAuthMethodNone,
	TokenEndpointAuthMethodBasic,
	TokenEndpointAuthMethodPost,
}

const (
	maxClientNameLength = 256

	// bcrypt hash of "test", compared for unknown clients so their lookups
	// cost the same as real ones
	dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	// uuid collisions are not expected; the retry covers a store that
	// already holds an imported id
	maxClientIDAttempts = 3
)

// RegistrationRequest is the client metadata of a dynamic registration
// request (RFC 7591 section 2)
type RegistrationRequest struct {
	ClientName              string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scope                   string
}

// Credentials are the plaintext values handed to a client at registration.
// Only their bcrypt hashes are stored.
type Credentials struct {
	// ClientSecret is empty for public clients
	ClientSecret string

	// RegistrationAccessToken reads the client configuration back
	// (RFC 7592 section 2.1)
	RegistrationAccessToken string
}

// RegisterClient validates the metadata, creates the client and persists it.
// The plaintext credentials are returned once.
//
// Defaults: grant_types is client_credentials when omitted. A client is
// confidential when it asks for client_credentials or a client_secret_*
// method, otherwise it is public and authenticates with PKCE alone.
func (s *Server) RegisterClient(ctx context.Context, req RegistrationRequest, clientIP string) (*storage.Client, Credentials, error) {
	ctx, span := s.startSpan(ctx, "register_client")
	client, creds, err := s.registerClient(ctx, req, clientIP)
	if client != nil {
		instrumentation.SetSpanAttributes(span,
			attribute.String(instrumentation.AttrClientID, client.ClientID),
			attribute.String(instrumentation.AttrClientType, client.ClientType))
	}
	finishSpan(span, err)
	return client, creds, err
}

func (s *Server) registerClient(ctx context.Context, req RegistrationRequest, clientIP string) (*storage.Client, Credentials, error) {
	client, err := s.buildClient(req)
	if err != nil {
		s.Auditor.LogEvent(ctx, security.Event{
			Type:      security.EventClientRegistrationRejected,
			IPAddress: clientIP,
			Details: map[string]any{
				"reason": err.Error(),
			},
		})
		s.Logger.Warn("Client registration rejected",
			"error", err.Error(),
			"client_ip", clientIP)
		return nil, Credentials{}, err
	}

	var creds Credentials
	if client.ClientType == ClientTypeConfidential {
		creds.ClientSecret = generateRandomToken()
		hash, err := bcrypt.GenerateFromPassword([]byte(creds.ClientSecret), s.secretHashCost)
		if err != nil {
			return nil, Credentials{}, ErrServerError("Failed to create client").WithCause(fmt.Errorf("failed to hash client secret: %w", err))
		}
		client.ClientSecretHash = string(hash)
	}

	creds.RegistrationAccessToken = generateRandomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.RegistrationAccessToken), s.secretHashCost)
	if err != nil {
		return nil, Credentials{}, ErrServerError("Failed to create client").WithCause(fmt.Errorf("failed to hash registration access token: %w", err))
	}
	client.RegistrationAccessTokenHash = string(hash)

	if err := s.saveWithFreshID(ctx, client); err != nil {
		s.Logger.Error("Failed to save client", "error", err)
		return nil, Credentials{}, ErrServerError("Failed to register client").WithCause(err)
	}

	s.Auditor.LogClientRegistered(ctx, client.ClientID, client.ClientType, clientIP, client.GrantTypes)
	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx, client.ClientType)
	}

	s.Logger.Info("Registered new OAuth client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"client_type", client.ClientType,
		"grant_types", client.GrantTypes,
		"token_endpoint_auth_method", client.TokenEndpointAuthMethod)

	return client, creds, nil
}

// saveWithFreshID assigns a new identifier and saves the client, retrying
// when the store reports the identifier as taken.
func (s *Server) saveWithFreshID(ctx context.Context, client *storage.Client) error {
	var err error
	for attempt := 0; attempt < maxClientIDAttempts; attempt++ {
		client.ClientID = uuid.NewString()
		err = s.store.SaveClient(ctx, client)
		if !errors.Is(err, storage.ErrClientExists) {
			return err
		}
	}
	return fmt.Errorf("could not allocate a unique client id: %w", err)
}

// buildClient validates registration metadata and fills in defaults.
// ClientID and the secret hash are left empty.
func (s *Server) buildClient(req RegistrationRequest) (*storage.Client, error) {
	if len(req.ClientName) > maxClientNameLength {
		return nil, ErrInvalidClientMetadata(fmt.Sprintf("client_name must be at most %d characters", maxClientNameLength))
	}

	grantTypes := dedupe(req.GrantTypes)
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantTypeClientCredentials}
	}
	for _, gt := range grantTypes {
		if !slices.Contains(SupportedGrantTypes, gt) {
			return nil, ErrInvalidClientMetadata(fmt.Sprintf("unsupported grant_type: %s", gt))
		}
	}
	wantsCode := slices.Contains(grantTypes, GrantTypeAuthorizationCode)
	wantsClientCredentials := slices.Contains(grantTypes, GrantTypeClientCredentials)

	responseTypes := dedupe(req.ResponseTypes)
	for _, rt := range responseTypes {
		if rt != ResponseTypeCode {
			return nil, ErrInvalidClientMetadata(fmt.Sprintf("unsupported response_type: %s", rt))
		}
	}
	if len(responseTypes) > 0 && !wantsCode {
		return nil, ErrInvalidClientMetadata("response_type code requires the authorization_code grant")
	}
	if wantsCode && len(responseTypes) == 0 {
		responseTypes = []string{ResponseTypeCode}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod != "" && !slices.Contains(SupportedTokenEndpointAuthMethods, authMethod) {
		return nil, ErrInvalidClientMetadata(fmt.Sprintf("unsupported token_endpoint_auth_method: %s", authMethod))
	}
	if authMethod == "" {
		if wantsClientCredentials {
			authMethod = TokenEndpointAuthMethodBasic
		} else {
			authMethod = TokenEndpointAuthMethodNone
		}
	}
	if authMethod == TokenEndpointAuthMethodNone && wantsClientCredentials {
		return nil, ErrInvalidClientMetadata("client_credentials requires a confidential client")
	}

	clientType := ClientTypeConfidential
	if authMethod == TokenEndpointAuthMethodNone {
		clientType = ClientTypePublic
	}

	if wantsCode && len(req.RedirectURIs) == 0 {
		return nil, ErrInvalidRedirectURI("redirect_uris is required for the authorization_code grant")
	}
	if len(req.RedirectURIs) > s.Config.MaxRedirectURIs {
		return nil, ErrInvalidRedirectURI(fmt.Sprintf("at most %d redirect_uris may be registered", s.Config.MaxRedirectURIs))
	}
	for _, uri := range req.RedirectURIs {
		if err := s.validateRegistrationRedirectURI(uri); err != nil {
			return nil, ErrInvalidRedirectURI(err.Error())
		}
	}

	scope, err := s.resolveScope(req.Scope, "")
	if err != nil {
		return nil, ErrInvalidClientMetadata(err.Error())
	}

	return &storage.Client{
		ClientType:              clientType,
		ClientName:              req.ClientName,
		RedirectURIs:            slices.Clone(req.RedirectURIs),
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   scope,
		CreatedAt:               s.now().UTC().Truncate(0),
	}, nil
}

// GetClient returns a registered client
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.store.GetClient(ctx, clientID)
}

// ReadClientConfiguration returns a client's registration when
// registrationToken is the token issued with it (RFC 7592 section 2.1).
// Unknown clients and wrong tokens fail alike with invalid_token, after the
// same bcrypt comparison.
func (s *Server) ReadClientConfiguration(ctx context.Context, clientID, registrationToken, clientIP string) (*storage.Client, error) {
	ctx, span := s.startSpan(ctx, "read_client_configuration",
		attribute.String(instrumentation.AttrClientID, clientID))

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil && !errors.Is(err, storage.ErrClientNotFound) {
		oerr := ErrServerError("Failed to load client").WithCause(err)
		finishSpan(span, oerr)
		return nil, oerr
	}

	hashToCompare := dummyHash
	if client != nil && client.RegistrationAccessTokenHash != "" {
		hashToCompare = client.RegistrationAccessTokenHash
	}
	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(registrationToken))

	if client == nil || client.RegistrationAccessTokenHash == "" || bcryptErr != nil {
		s.Auditor.LogAuthFailure(ctx, clientID, clientIP, "invalid_registration_access_token")
		oerr := ErrInvalidToken("The registration access token is invalid")
		finishSpan(span, oerr)
		return nil, oerr
	}

	s.Auditor.LogEvent(ctx, security.Event{
		Type:      security.EventClientConfigurationRead,
		ClientID:  client.ClientID,
		IPAddress: clientIP,
	})
	finishSpan(span, nil)
	return client, nil
}

// ListClients returns all registered clients
func (s *Server) ListClients(ctx context.Context) ([]*storage.Client, error) {
	return s.store.ListClients(ctx)
}

// DeleteClient removes a client and its outstanding authorization codes.
// It is an administrative operation with no HTTP endpoint.
func (s *Server) DeleteClient(ctx context.Context, clientID string) error {
	if err := s.store.DeleteClient(ctx, clientID); err != nil {
		return err
	}
	s.Auditor.LogEvent(ctx, security.Event{
		Type:     security.EventClientDeleted,
		ClientID: clientID,
	})
	s.Logger.Info("Deleted OAuth client", "client_id", clientID)
	return nil
}
