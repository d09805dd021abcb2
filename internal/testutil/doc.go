// Package testutil provides test helpers shared across the authorization
// server packages: a controllable clock, PKCE pairs and fixture records.
package testutil
