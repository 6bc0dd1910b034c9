// Command dolmetscher runs the OpenAI Chat Completions gateway in front of
// an Anthropic Messages API.
//
// Usage:
//
//	dolmetscher [serve] [--config path] [--port n]
//	dolmetscher config [--config path]
//	dolmetscher version
//
// Configuration is read from a YAML file, .env and DOLMETSCHER_* variables.
// See pkg/config for the full list.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root without a
// subcommand serves.
func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:           "dolmetscher",
		Short:         "OpenAI Chat Completions gateway for the Anthropic Messages API",
		RunE:          serve.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve)
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}
