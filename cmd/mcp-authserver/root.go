package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	oauth "github.com/giantswarm/mcp-authserver"
)

// envPrefix prefixes environment overrides: --storage-path is read from
// MCP_AUTH_STORAGE_PATH
const envPrefix = "MCP_AUTH"

// app carries state shared by all subcommands
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	cmd, _ := newCommandTree()
	return cmd
}

// newCommandTree builds the root command and returns the state its
// subcommands share
func newCommandTree() (*cobra.Command, *app) {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "mcp-authserver",
		Short:         "OAuth 2.0 authorization server for MCP tool APIs",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # Serve on :8080 with a file store under ./data and keys under ./keys
  mcp-authserver serve --issuer https://auth.example.com

  # SQLite backend and Prometheus metrics
  mcp-authserver serve --issuer https://auth.example.com --storage-driver sqlite --metrics

  # Same, configured through the environment
  MCP_AUTH_ISSUER=https://auth.example.com MCP_AUTH_STORAGE_DRIVER=sqlite mcp-authserver serve

  # Inspect registered clients
  mcp-authserver clients list --output yaml
`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfigFile(); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), a.v.GetString("log-level"), a.v.GetString("log-format"))
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringP("config", "c", "", "path to a YAML config file; keys match flag names")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")
	pf.String("storage-driver", oauth.StorageDriverFile, "storage backend (file, sqlite)")
	pf.String("storage-path", "", "JSON document or SQLite database path (default data/oauth_clients.json or data/oauth.db)")
	pf.String("keys-dir", oauth.DefaultKeysDir, "directory holding private_key.pem and public_key.pem")
	a.bindFlags(pf)

	cmd.AddCommand(newServeCommand(a))
	cmd.AddCommand(newClientsCommand(a))
	cmd.AddCommand(newKeysCommand(a))
	cmd.AddCommand(newVersionCommand())

	return cmd, a
}

// bindFlags makes every flag in fs resolvable through viper, so each value
// can come from a flag, the environment or the config file
func (a *app) bindFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if err := a.v.BindPFlag(f.Name, f); err != nil {
			panic(fmt.Sprintf("bind flag %q: %v", f.Name, err))
		}
	})
}

func (a *app) loadConfigFile() error {
	path := strings.TrimSpace(a.v.GetString("config"))
	if path == "" {
		return nil
	}
	a.v.SetConfigFile(path)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}

func (a *app) storageConfig() oauth.StorageConfig {
	return oauth.StorageConfig{
		Driver: a.v.GetString("storage-driver"),
		Path:   a.v.GetString("storage-path"),
	}
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
