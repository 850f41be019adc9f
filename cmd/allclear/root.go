package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the AllClear CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allclear",
		Short: "AllClear - session and verification service",
		Long: `AllClear runs the session, registration, and credential-verification
core backed by an expiring key-value store.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())

	return cmd
}
