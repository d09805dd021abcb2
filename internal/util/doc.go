// Package util provides small helpers shared by the authorization server
// packages: log-safe truncation of credentials, URL joining and hostname
// classification.
package util
