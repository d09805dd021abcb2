package security

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newJSONAuditor(t *testing.T, enabled bool) (*Auditor, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestNewAuditor(t *testing.T) {
	auditor := NewAuditor(nil, true)
	if auditor == nil {
		t.Fatal("NewAuditor() returned nil")
	}
	if auditor.logger == nil {
		t.Error("logger should not be nil")
	}
	if !auditor.enabled {
		t.Error("enabled = false, want true")
	}
}

func TestAuditor_LogEvent(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantLog bool
	}{
		{name: "enabled", enabled: true, wantLog: true},
		{name: "disabled", enabled: false, wantLog: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newJSONAuditor(t, tt.enabled)
			auditor.LogEvent(context.Background(), Event{
				Type:     EventTokenIssued,
				ClientID: "client-1",
			})

			if got := buf.Len() > 0; got != tt.wantLog {
				t.Errorf("logged = %v, want %v", got, tt.wantLog)
			}
		})
	}
}

func TestAuditor_NilIsNoop(t *testing.T) {
	var auditor *Auditor
	auditor.LogAuthFailure(context.Background(), "client", "1.2.3.4", "bad secret")
}

func TestAuditor_HashesIPByDefault(t *testing.T) {
	auditor, buf := newJSONAuditor(t, true)
	auditor.LogAuthFailure(context.Background(), "client-1", "203.0.113.7", "invalid_secret")

	if strings.Contains(buf.String(), "203.0.113.7") {
		t.Errorf("raw IP leaked into audit log: %s", buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("failed to decode log record: %v", err)
	}
	if record["event_type"] != EventAuthFailure {
		t.Errorf("event_type = %v, want %s", record["event_type"], EventAuthFailure)
	}
	if record["ip_address"] != hashForLogging("203.0.113.7") {
		t.Errorf("ip_address = %v, want hashed value", record["ip_address"])
	}
}

func TestAuditor_RawIPs(t *testing.T) {
	auditor, buf := newJSONAuditor(t, true)
	auditor.SetLogRawIPs(true)
	auditor.LogRateLimitExceeded(context.Background(), "203.0.113.7", "/oauth/token")

	if !strings.Contains(buf.String(), "203.0.113.7") {
		t.Errorf("expected raw IP in audit log: %s", buf.String())
	}
}

func TestAuditor_RequestIDAndTimestamp(t *testing.T) {
	auditor, buf := newJSONAuditor(t, true)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	auditor.SetClock(func() time.Time { return fixed })

	ctx := WithRequestID(context.Background(), "req-123")
	auditor.LogClientRegistered(ctx, "client-1", "public", "127.0.0.1", []string{"authorization_code"})

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("failed to decode log record: %v", err)
	}
	if record["request_id"] != "req-123" {
		t.Errorf("request_id = %v, want req-123", record["request_id"])
	}
	if record["timestamp"] != fixed.Format(time.RFC3339) {
		t.Errorf("timestamp = %v, want %s", record["timestamp"], fixed.Format(time.RFC3339))
	}
}

func TestAuditor_EventRecorder(t *testing.T) {
	auditor, _ := newJSONAuditor(t, true)

	var got []string
	auditor.SetEventRecorder(func(_ context.Context, eventType string) {
		got = append(got, eventType)
	})

	ctx := context.Background()
	auditor.LogTokenIssued(ctx, "client-1", "127.0.0.1", "client_credentials", "mcp:tools")
	auditor.LogAuthFailure(ctx, "client-1", "127.0.0.1", "invalid_secret")

	want := []string{EventTokenIssued, EventAuthFailure}
	if len(got) != len(want) {
		t.Fatalf("recorded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("recorded[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}
	a := hashForLogging("10.0.0.1")
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	if a != hashForLogging("10.0.0.1") {
		t.Error("hash should be deterministic")
	}
	if a == hashForLogging("10.0.0.2") {
		t.Error("different inputs should hash differently")
	}
}
