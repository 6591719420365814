// Package cmd holds the wirehomed command tree.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, overridable via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCommand creates the root command for the wirehomed daemon.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wirehomed",
		Short: "Wirehome Core - home automation hub runtime",
		Long: `Wirehome Core runs the home automation hub: the message bus, the
component and component group registries, storage and the HTTP API.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wirehomed v%s (commit: %s, built on: %s)\n", Version, Commit, Date)
		},
	}
}
