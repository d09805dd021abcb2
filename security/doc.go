// Package security holds the cross-cutting protections of the authorization
// server: the security audit log, a per-identifier token bucket rate limiter,
// response hardening headers, client IP extraction and request IDs.
//
// # Rate Limiting
//
// RateLimiter keys a golang.org/x/time/rate limiter by identifier (normally
// the client IP). Memory is bounded by MaxEntries with LRU eviction, and a
// background loop drops identifiers idle for longer than IdleTimeout.
//
//	limiter := security.NewRateLimiter(security.RateLimitConfig{Rate: 10, Burst: 20}, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(security.ClientIP(r, false, 0)) {
//	    // 429
//	}
//
// # Audit Log
//
// Auditor emits "security_audit" records through slog. IP addresses are
// hashed unless SetLogRawIPs(true) is called. An EventRecorder can be attached
// to feed event counts into metrics.
package security
