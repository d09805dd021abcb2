package server

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/instrumentation"
)

func recordSpans(t *testing.T, env *testEnv) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	env.srv.tracer = tp.Tracer("server")
	return recorder
}

func endedSpans(recorder *tracetest.SpanRecorder, name string) []sdktrace.ReadOnlySpan {
	var spans []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		if s.Name() == name {
			spans = append(spans, s)
		}
	}
	return spans
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTracing_CodeExchange(t *testing.T) {
	env := newTestServer(t, nil)
	recorder := recordSpans(t, env)
	client := registerPublicClient(t, env)
	code := authorize(t, env, client.ClientID, oauth2.S256ChallengeFromVerifier("verifier123"), PKCEMethodS256)

	req := TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code.Code,
		RedirectURI:  testRedirectURI,
		ClientID:     client.ClientID,
		CodeVerifier: "verifier123",
	}
	if _, err := env.srv.ExchangeAuthorizationCode(context.Background(), req, "10.0.0.1"); err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
	_, err := env.srv.ExchangeAuthorizationCode(context.Background(), req, "10.0.0.1")
	wantOAuthError(t, err, ErrorCodeInvalidGrant, 400)

	spans := endedSpans(recorder, "oauth.exchange_code")
	if len(spans) != 2 {
		t.Fatalf("exchange spans = %d, want 2", len(spans))
	}

	ok := spans[0]
	if ok.Status().Code != codes.Ok {
		t.Errorf("success span status = %v, want Ok", ok.Status().Code)
	}
	if v, found := spanAttr(ok, instrumentation.AttrTokenType); !found || v.AsString() != "Bearer" {
		t.Errorf("%s = %v, want Bearer", instrumentation.AttrTokenType, v.Emit())
	}
	if v, found := spanAttr(ok, instrumentation.AttrExpiresIn); !found || v.AsInt64() != 3600 {
		t.Errorf("%s = %v, want 3600", instrumentation.AttrExpiresIn, v.Emit())
	}

	reused := spans[1]
	if v, found := spanAttr(reused, instrumentation.AttrCodeReuse); !found || !v.AsBool() {
		t.Errorf("%s missing on the reuse span", instrumentation.AttrCodeReuse)
	}
	if v, found := spanAttr(reused, instrumentation.AttrError); !found || v.AsString() != ErrorCodeInvalidGrant {
		t.Errorf("%s = %v, want %s", instrumentation.AttrError, v.Emit(), ErrorCodeInvalidGrant)
	}
	if reused.Status().Code != codes.Error {
		t.Errorf("reuse span status = %v, want Error", reused.Status().Code)
	}
	if len(reused.Events()) != 0 {
		t.Error("protocol errors must not be recorded as exceptions")
	}
	if _, found := spanAttr(reused, instrumentation.AttrClientIP); found {
		t.Error("client IP recorded without instrumentation opting in")
	}
}

func TestTracing_ServerErrorIsRecorded(t *testing.T) {
	env := newTestServer(t, nil)
	recorder := recordSpans(t, env)

	_, span := env.srv.startSpan(context.Background(), "test")
	finishSpan(span, ErrServerError("Failed to register client"))

	spans := endedSpans(recorder, "oauth.test")
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("events = %d, want the error recorded", len(spans[0].Events()))
	}
	if _, found := spanAttr(spans[0], instrumentation.AttrError); found {
		t.Errorf("%s set for a server error", instrumentation.AttrError)
	}
}
