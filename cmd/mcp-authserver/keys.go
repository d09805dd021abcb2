package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/mcp-authserver/keys"
)

func newKeysCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect the token signing key",
		Long: `Inspect the token signing key in --keys-dir.

A key pair is generated when the directory holds none, exactly as serve does.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "jwks",
		Short: "Print the public JSON Web Key Set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			km, err := keys.LoadOrGenerate(a.v.GetString("keys-dir"), keys.DefaultKeyBits, a.logger)
			if err != nil {
				return err
			}
			raw, err := km.JWKSJSON()
			if err != nil {
				return err
			}
			var out bytes.Buffer
			if err := json.Indent(&out, raw, "", "  "); err != nil {
				return fmt.Errorf("format JWKS: %w", err)
			}
			out.WriteByte('\n')
			_, err = out.WriteTo(cmd.OutOrStdout())
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "public-pem",
		Short: "Print the PKIX public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			km, err := keys.LoadOrGenerate(a.v.GetString("keys-dir"), keys.DefaultKeyBits, a.logger)
			if err != nil {
				return err
			}
			pemBytes, err := km.PublicKeyPEM()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(pemBytes)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "kid",
		Short: "Print the key ID (RFC 7638 thumbprint)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			km, err := keys.LoadOrGenerate(a.v.GetString("keys-dir"), keys.DefaultKeyBits, a.logger)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), km.KeyID())
			return err
		},
	})

	return cmd
}
