// Package server implements the authorization engine of the MCP authorization
// server: dynamic client registration, the authorization code grant with PKCE,
// the client credentials grant, and access token validation for the resource
// guard.
//
// The Server type is transport agnostic. It takes already-decoded protocol
// messages and returns either a result or an *Error carrying the OAuth error
// code and HTTP status the HTTP layer should render. It coordinates:
//   - Client and authorization code persistence (storage package)
//   - Access token minting and verification (token package)
//   - Audit logging (security package)
//   - Metrics and tracing (instrumentation package)
//
// Authorization codes are single use. Redemption goes through
// storage.FlowStore.AtomicCheckAndMarkAuthCodeUsed, so a code is spent even
// when the subsequent client, redirect_uri or PKCE check fails, and every
// such failure is reported as the same generic invalid_grant.
//
// Example usage:
//
//	store, _ := file.New("/var/lib/mcp-authserver", time.Hour)
//	km, _ := keys.LoadOrGenerate("/var/lib/mcp-authserver/keys", keys.DefaultKeyBits, logger)
//	issuer, _ := token.NewIssuer(km, token.Config{Issuer: "https://auth.example.com"})
//
//	srv, err := server.New(store, issuer, &server.Config{
//	    Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
package server
