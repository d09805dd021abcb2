package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: never record authorization codes, access tokens, client
// secrets or PKCE verifiers in traces or metrics. Only metadata such as grant
// types, PKCE methods and validation results belongs here.
const (
	// OAuth flow attributes
	AttrClientID     = "oauth.client_id"
	AttrScope        = "oauth.scope"
	AttrPKCEMethod   = "oauth.pkce.method"
	AttrCodeReuse    = "oauth.code.reuse"
	AttrGrantType    = "oauth.grant_type"
	AttrResponseType = "oauth.response_type"
	AttrClientType   = "oauth.client_type"
	AttrTokenType    = "oauth.token_type" //nolint:gosec // token type (Bearer), not a token
	AttrExpiresIn    = "oauth.expires_in"
	AttrError        = "oauth.error"

	// Tool attributes
	AttrToolName = "mcp.tool.name"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, grantType, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if grantType != "" {
		SetSpanAttributes(span, attribute.String(AttrGrantType, grantType))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddPKCEAttributes adds PKCE-related attributes to a span (nil-safe)
func AddPKCEAttributes(span trace.Span, method string) {
	if method != "" {
		SetSpanAttributes(span, attribute.String(AttrPKCEMethod, method))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span (nil-safe).
// Callers check ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
