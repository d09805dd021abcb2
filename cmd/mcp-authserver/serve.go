package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/keys"
	"github.com/giantswarm/mcp-authserver/server"
)

const serviceName = "mcp-authserver"

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := serviceConfig(a.v, a.logger)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a.v, config, a.logger)
		},
	}

	f := cmd.Flags()
	f.String("listen", ":8080", "listen address")
	f.String("tls-cert", "", "TLS certificate file; serves HTTPS when set with --tls-key")
	f.String("tls-key", "", "TLS private key file")
	f.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown")

	f.String("issuer", "", "issuer identifier and public base URL (required)")
	f.String("resource-url", "", "protected resource identifier (default: issuer)")
	f.String("audience", "", "aud claim of issued tokens (default: resource URL)")
	f.Duration("code-ttl", 10*time.Minute, "authorization code lifetime")
	f.Duration("token-ttl", time.Hour, "access token lifetime")
	f.Duration("clock-skew", 5*time.Second, "tolerance past access token expiry")
	f.Bool("require-pkce", true, "require PKCE from confidential clients too (public clients always need it); false must be set explicitly")
	f.Bool("disable-pkce-plain", false, "accept only the S256 code_challenge_method")
	f.Bool("enforce-verifier-length", false, "require code verifiers of 43 to 128 characters")
	f.Bool("allow-insecure-http", false, "allow an http:// issuer on a non-loopback host")
	f.Bool("trust-proxy", false, "trust X-Forwarded-For and X-Real-IP")
	f.Int("trusted-proxy-count", 1, "number of trusted proxies in front of the server")
	f.String("default-scope", server.DefaultScope, "scope granted when a request names none")
	f.StringSlice("scopes", nil, "scopes clients may request (default: the default scope)")
	f.StringSlice("allowed-origins", nil, "CORS origins; * allows any")
	f.String("initial-access-token", "", "bearer token required by POST /register; empty leaves registration open")

	f.Duration("cleanup-interval", oauth.DefaultCleanupInterval, "expired code sweep interval; negative disables")
	f.Int("key-bits", keys.DefaultKeyBits, "RSA modulus size for a newly generated signing key")
	f.Float64("rate-limit", 10, "requests per second per client IP; negative disables")
	f.Int("rate-burst", 20, "burst size per client IP")
	f.Bool("disable-audit", false, "disable security audit logging")

	f.Bool("metrics", false, "serve Prometheus metrics on /metrics")
	f.String("otlp-endpoint", "", "OTLP/HTTP trace collector endpoint (host:port)")
	f.Bool("otlp-insecure", false, "use plain HTTP for the OTLP exporter")
	f.Bool("log-client-ips", false, "record raw client IPs in audit logs instead of hashes")
	a.bindFlags(f)

	return cmd
}

// serviceConfig maps resolved flag, environment and file values onto the
// service configuration
func serviceConfig(v *viper.Viper, logger *slog.Logger) (oauth.Config, error) {
	issuer := v.GetString("issuer")
	if issuer == "" {
		return oauth.Config{}, fmt.Errorf("issuer is required (--issuer or %s_ISSUER)", envPrefix)
	}

	metrics := v.GetBool("metrics")
	otlpEndpoint := v.GetString("otlp-endpoint")

	return oauth.Config{
		Server: server.Config{
			Issuer:                  issuer,
			ResourceURL:             v.GetString("resource-url"),
			Audience:                v.GetString("audience"),
			AuthorizationCodeTTL:    durationSeconds(v.GetDuration("code-ttl")),
			AccessTokenTTL:          durationSeconds(v.GetDuration("token-ttl")),
			ClockSkewGracePeriod:    durationSeconds(v.GetDuration("clock-skew")),
			RequirePKCE:             v.GetBool("require-pkce"),
			AllowOptionalPKCE:       v.IsSet("require-pkce") && !v.GetBool("require-pkce"),
			DisablePKCEPlain:        v.GetBool("disable-pkce-plain"),
			EnforceVerifierLength:   v.GetBool("enforce-verifier-length"),
			AllowInsecureHTTP:       v.GetBool("allow-insecure-http"),
			TrustProxy:              v.GetBool("trust-proxy"),
			TrustedProxyCount:       v.GetInt("trusted-proxy-count"),
			DefaultScope:            v.GetString("default-scope"),
			SupportedScopes:         v.GetStringSlice("scopes"),
			AllowedOrigins:          v.GetStringSlice("allowed-origins"),
			InitialAccessToken:      v.GetString("initial-access-token"),
		},
		Storage: oauth.StorageConfig{
			Driver:          v.GetString("storage-driver"),
			Path:            v.GetString("storage-path"),
			CleanupInterval: v.GetDuration("cleanup-interval"),
		},
		Keys: oauth.KeysConfig{
			Dir:  v.GetString("keys-dir"),
			Bits: v.GetInt("key-bits"),
		},
		RateLimit: oauth.RateLimitConfig{
			Rate:  v.GetFloat64("rate-limit"),
			Burst: v.GetInt("rate-burst"),
		},
		Instrumentation: instrumentation.Config{
			ServiceName:       serviceName,
			ServiceVersion:    currentVersion(),
			Enabled:           metrics || otlpEndpoint != "",
			PrometheusEnabled: metrics,
			OTLPEndpoint:      otlpEndpoint,
			OTLPInsecure:      v.GetBool("otlp-insecure"),
			LogClientIPs:      v.GetBool("log-client-ips"),
		},
		DisableAuditLogging: v.GetBool("disable-audit"),
		Logger:              logger,
	}, nil
}

// durationSeconds converts d to whole seconds, rounding a positive
// sub-second value up so it does not become "use the default"
func durationSeconds(d time.Duration) int64 {
	if d > 0 && d < time.Second {
		return 1
	}
	return int64(d / time.Second)
}

func serve(ctx context.Context, v *viper.Viper, config oauth.Config, logger *slog.Logger) error {
	svc, err := oauth.NewService(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Error("Failed to close service", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              v.GetString("listen"),
		Handler:           svc.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	tlsCert, tlsKey := v.GetString("tls-cert"), v.GetString("tls-key")
	if (tlsCert == "") != (tlsKey == "") {
		return fmt.Errorf("--tls-cert and --tls-key must be set together")
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsCert != "" {
			logger.Info("Starting HTTPS server", "addr", srv.Addr, "cert", tlsCert)
			err = srv.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			logger.Info("Starting HTTP server", "addr", srv.Addr)
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
