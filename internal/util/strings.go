package util

import (
	"net"
	"strings"
)

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// Used to log a short prefix of codes and identifiers.
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
//	SafeTruncate("short", 10)                  // "short"
//	SafeTruncate("test", -1)                   // ""
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// JoinURL appends path to base, collapsing the slash between them.
//
//	JoinURL("https://auth.example/", "/oauth/token") // "https://auth.example/oauth/token"
func JoinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// IsLoopbackHostname reports whether hostname is "localhost" or a loopback
// IP literal (127.0.0.0/8, ::1). Expects a hostname without port, as
// returned by url.URL.Hostname(). 0.0.0.0 is not loopback.
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	clean := hostname
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		clean = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(clean); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
