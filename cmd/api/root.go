package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the identity API.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Identity API: registration, login and session tokens",
		Long: `The identity API owns accounts and their credentials. It issues signed
session tokens and rotating refresh tokens delivered as cookies.

All configuration comes from the environment.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
