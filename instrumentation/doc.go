// Package instrumentation provides OpenTelemetry instrumentation for the
// authorization server.
//
// Every layer takes an optional *Instrumentation and derives its own meter and
// tracer from it by scope ("http", "server", "storage", "security"). When
// instrumentation is disabled the providers are no-ops.
//
// # Exporters
//
// Metrics are exported through a Prometheus registry when PrometheusEnabled is
// set; MetricsHandler serves it:
//
//	inst, err := instrumentation.New(ctx, instrumentation.Config{
//		Enabled:           true,
//		PrometheusEnabled: true,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// Traces are exported over OTLP/HTTP when OTLPEndpoint is set.
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// OAuth Flows:
//   - oauth.authorization.started{pkce_method}
//   - oauth.code.exchanged{pkce_method, success}
//   - oauth.token.issued{grant_type}
//   - oauth.token.validated{result}
//   - oauth.client.registered{client_type}
//   - mcp.tool.calls.total{tool, success}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.pkce.validation_failed{method}
//   - oauth.code.reuse_detected
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.size.clients, storage.size.authorization_codes
//
// # Security
//
// Authorization codes, access tokens, client secrets and PKCE verifiers are
// never recorded. Client IPs are only recorded when LogClientIPs is set.
package instrumentation
