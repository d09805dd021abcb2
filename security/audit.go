package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// EventRecorder is notified of every audit event that is logged. The
// instrumentation package uses it to count events by type.
type EventRecorder func(ctx context.Context, eventType string)

// Auditor writes security audit records. Client identifiers are logged in
// clear; IP addresses are hashed unless the operator opted into raw IPs.
type Auditor struct {
	logger   *slog.Logger
	enabled  bool
	rawIPs   bool
	recorder EventRecorder
	now      func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetEventRecorder registers a callback invoked for every logged event
func (a *Auditor) SetEventRecorder(recorder EventRecorder) {
	a.recorder = recorder
}

// SetLogRawIPs controls whether IP addresses are logged verbatim
func (a *Auditor) SetLogRawIPs(raw bool) {
	a.rawIPs = raw
}

// SetClock overrides the timestamp source (tests)
func (a *Auditor) SetClock(now func() time.Time) {
	if now != nil {
		a.now = now
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event. A nil Auditor is a no-op.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()

	ip := event.IPAddress
	if !a.rawIPs {
		ip = hashForLogging(ip)
	}

	attrs := []any{
		"event_type", event.Type,
		"client_id", event.ClientID,
		"ip_address", ip,
		"timestamp", event.Timestamp,
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}
	a.logger.InfoContext(ctx, "security_audit", attrs...)

	if a.recorder != nil {
		a.recorder(ctx, event.Type)
	}
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(ctx context.Context, clientID, clientType, ipAddress string, grantTypes []string) {
	a.LogEvent(ctx, Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"client_type": clientType,
			"grant_types": grantTypes,
		},
	})
}

// LogTokenIssued logs when an access token is issued
func (a *Auditor) LogTokenIssued(ctx context.Context, clientID, ipAddress, grantType, scope string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenIssued,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(ctx context.Context, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress, endpoint string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a short SHA256 digest of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
