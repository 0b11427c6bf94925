// Package cmd provides the CLI commands for semsearch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marketlink/semsearch/internal/config"
	"github.com/marketlink/semsearch/internal/logging"
	"github.com/marketlink/semsearch/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the semsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "semsearch",
		Short: "Semantic search over marketplace listings",
		Long: `Semsearch builds and serves a semantic vector index over
product and service listings.

Typical workflow:

  semsearch build --source listings.jsonl
  semsearch serve
  semsearch search "fresh vegetables"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("semsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// loadConfig loads configuration and installs the logger. Shared by the
// subcommands so logging is configured before any work starts.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Server.LogLevel
	if debugMode {
		level = "debug"
	}
	logging.Setup(logging.Config{Level: level})

	return cfg, nil
}
