// Package commands defines all Cobra CLI commands for the agrodocs binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agrodocs/agrodocs-go/internal/audit"
	"github.com/agrodocs/agrodocs-go/internal/config"
	"github.com/agrodocs/agrodocs-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agrodocs",
		Short: "AgroDocs — document knowledge base for agricultural producers",
		Long: `AgroDocs indexes agricultural documents (invoices, contracts, sales
records, spreadsheets) into a vector store and answers natural language
questions about them, grounded on the indexed content.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.agrodocs/config.yaml).
See 'agrodocs --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A local .env is a convenience for development; absence is fine.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.agrodocs/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewCleanupCmd(),
		NewVersionCmd(),
	)

	return root
}
