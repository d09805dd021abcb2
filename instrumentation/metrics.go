package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// OAuth Flow Metrics
	AuthorizationStarted metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenIssued          metric.Int64Counter
	TokenValidated       metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	// Tool Metrics
	ToolCallsTotal metric.Int64Counter

	// Security Metrics
	RateLimitExceeded    metric.Int64Counter
	PKCEValidationFailed metric.Int64Counter
	CodeReuseDetected    metric.Int64Counter
	AuditEventsTotal     metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageSizeClients       metric.Int64ObservableGauge
	StorageSizeCodes         metric.Int64ObservableGauge
}

// counterSpec describes one Int64Counter to create
type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationStarted, serverMeter, "oauth.authorization.started", "Number of authorization codes issued", "{flow}"},
		{&m.CodeExchanged, serverMeter, "oauth.code.exchanged", "Number of authorization code redemptions", "{exchange}"},
		{&m.TokenIssued, serverMeter, "oauth.token.issued", "Number of access tokens issued", "{token}"},
		{&m.TokenValidated, serverMeter, "oauth.token.validated", "Number of bearer token validations", "{validation}"},
		{&m.ClientRegistered, serverMeter, "oauth.client.registered", "Number of clients registered", "{client}"},
		{&m.ToolCallsTotal, serverMeter, "mcp.tool.calls.total", "Number of protected tool invocations", "{call}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.PKCEValidationFailed, securityMeter, "oauth.pkce.validation_failed", "Number of PKCE validation failures", "{failure}"},
		{&m.CodeReuseDetected, securityMeter, "oauth.code.reuse_detected", "Number of authorization code reuse attempts detected", "{attempt}"},
		{&m.AuditEventsTotal, securityMeter, "oauth.audit.events.total", "Total number of audit events", "{event}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
	}

	var err error
	for _, c := range counters {
		*c.target, err = c.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageSizeClients, err = storageMeter.Int64ObservableGauge(
		"storage.size.clients",
		metric.WithDescription("Number of registered clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.clients gauge: %w", err)
	}

	m.StorageSizeCodes, err = storageMeter.Int64ObservableGauge(
		"storage.size.authorization_codes",
		metric.WithDescription("Number of stored authorization codes"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.authorization_codes gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordAuthorizationStarted records an issued authorization code
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, pkceMethod string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordCodeExchange records an authorization code redemption attempt
func (m *Metrics) RecordCodeExchange(ctx context.Context, pkceMethod string, success bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pkce_method", pkceMethod),
		attribute.Bool("success", success),
	))
}

// RecordTokenIssued records an issued access token
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
	))
}

// RecordTokenValidation records a bearer token validation outcome
func (m *Metrics) RecordTokenValidation(ctx context.Context, result string) {
	m.TokenValidated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordToolCall records a protected tool invocation
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, success bool) {
	m.ToolCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEValidationFailed records a PKCE validation failure
func (m *Metrics) RecordPKCEValidationFailed(ctx context.Context, method string) {
	m.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
	))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
