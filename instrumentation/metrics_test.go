package instrumentation

import (
	"context"
	"sync"
	"testing"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	inst, err := New(context.Background(), Config{Enabled: true, PrometheusEnabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst.Metrics()
}

func TestMetrics_RecordFlows(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	// Recording must never panic, whatever the attribute values
	m.RecordAuthorizationStarted(ctx, "S256")
	m.RecordCodeExchange(ctx, "S256", true)
	m.RecordCodeExchange(ctx, "plain", false)
	m.RecordTokenIssued(ctx, "authorization_code")
	m.RecordTokenValidation(ctx, "success")
	m.RecordClientRegistration(ctx, "public")
	m.RecordToolCall(ctx, "say_hello", true)
}

func TestMetrics_RecordSecurityEvents(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordAuditEvent(ctx, "token_issued")
}

func TestMetrics_RecordStorageOperations(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	for _, op := range []string{"save_client", "get_client", "consume_authorization_code"} {
		m.RecordStorageOperation(ctx, op, "success", 0.4)
		m.RecordStorageOperation(ctx, op, "error", 2.1)
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordTokenIssued(ctx, "client_credentials")
			m.RecordStorageOperation(ctx, "save_authorization_code", "success", 0.2)
		}()
	}
	wg.Wait()
}

func TestMetrics_NoOpBehavior(t *testing.T) {
	inst, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	inst.Metrics().RecordHTTPRequest(ctx, "GET", "/health", 200, 0.1)
	inst.Metrics().RecordCodeReuseDetected(ctx)
}
