package security

// Audit event types
const (
	// EventClientRegistered indicates a client completed dynamic registration
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected indicates registration metadata was refused
	EventClientRegistrationRejected = "client_registration_rejected"

	// EventClientConfigurationRead indicates a client read its registration back
	EventClientConfigurationRead = "client_configuration_read"

	// EventClientDeleted indicates an administrator removed a client
	EventClientDeleted = "client_deleted"

	// EventAuthorizationCodeIssued indicates an authorization code was minted
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected indicates a spent code was presented again
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventTokenIssued indicates an access token was issued
	EventTokenIssued = "token_issued" //nolint:gosec // G101: event name, not a credential

	// EventAuthFailure indicates client authentication or code redemption failed
	EventAuthFailure = "auth_failure"

	// EventInvalidRedirect indicates a redirect_uri did not match the registration
	EventInvalidRedirect = "invalid_redirect"

	// EventPKCEValidationFailed indicates the code_verifier did not match the challenge
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventPKCERequiredForPublicClient indicates a public client omitted PKCE
	EventPKCERequiredForPublicClient = "pkce_required_for_public_client"

	// EventInvalidToken indicates a bearer token was rejected by the resource guard
	EventInvalidToken = "invalid_token" //nolint:gosec // G101: event name, not a credential

	// EventRateLimitExceeded indicates a caller exceeded its request budget
	EventRateLimitExceeded = "rate_limit_exceeded"
)
