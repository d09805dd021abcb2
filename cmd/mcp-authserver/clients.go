package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/storage"
)

// clientView is the listing shape of a registered client. The secret hash
// is never printed.
type clientView struct {
	ClientID                string    `json:"client_id" yaml:"client_id"`
	ClientName              string    `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	ClientType              string    `json:"client_type" yaml:"client_type"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method" yaml:"token_endpoint_auth_method"`
	GrantTypes              []string  `json:"grant_types" yaml:"grant_types"`
	RedirectURIs            []string  `json:"redirect_uris,omitempty" yaml:"redirect_uris,omitempty"`
	Scope                   string    `json:"scope,omitempty" yaml:"scope,omitempty"`
	CreatedAt               time.Time `json:"created_at" yaml:"created_at"`
}

func newClientView(c *storage.Client) clientView {
	return clientView{
		ClientID:                c.ClientID,
		ClientName:              c.ClientName,
		ClientType:              c.ClientType,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		GrantTypes:              c.GrantTypes,
		RedirectURIs:            c.RedirectURIs,
		Scope:                   c.Scope,
		CreatedAt:               c.CreatedAt.UTC(),
	}
}

func newClientsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage registered OAuth clients",
		Long: `Manage registered OAuth clients directly in the store.

With the file backend the running server keeps its own copy of the document;
stop it before deleting clients.`,
	}
	cmd.AddCommand(newClientsListCommand(a))
	cmd.AddCommand(newClientsDeleteCommand(a))
	return cmd
}

func newClientsListCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := oauth.OpenStore(a.storageConfig(), a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			clients, err := store.ListClients(cmd.Context())
			if err != nil {
				return fmt.Errorf("list clients: %w", err)
			}
			return writeClients(cmd.OutOrStdout(), clients, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")
	return cmd
}

func newClientsDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <client-id>",
		Short: "Delete a client and its outstanding authorization codes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := oauth.OpenStore(a.storageConfig(), a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			clientID := args[0]
			if err := store.DeleteClient(cmd.Context(), clientID); err != nil {
				return fmt.Errorf("delete client %s: %w", clientID, err)
			}
			a.logger.Info("Deleted OAuth client", "client_id", clientID)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", clientID)
			return err
		},
	}
}

func writeClients(w io.Writer, clients []*storage.Client, format string) error {
	views := make([]clientView, 0, len(clients))
	for _, c := range clients {
		views = append(views, newClientView(c))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].CreatedAt.Equal(views[j].CreatedAt) {
			return views[i].ClientID < views[j].ClientID
		}
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "CLIENT ID\tNAME\tTYPE\tGRANT TYPES\tCREATED")
		for _, c := range views {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				c.ClientID, c.ClientName, c.ClientType,
				strings.Join(c.GrantTypes, ","), c.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
