// Package cli implements plannerctl, the operator tool for seeding the
// course catalog, importing templates and opening planning phases.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "plannerctl",
	Version: "dev",
	Short:   "Operator tool for the teaching load planner",
	Long: `plannerctl talks to the planner database directly. It reads the same
environment (.env, DB_*, REDIS_*) as the API server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// SetVersion overrides the version printed by --version.
func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: "data", Title: "Data Import:"})
	rootCmd.AddGroup(&cobra.Group{ID: "planning", Title: "Planning Phases:"})

	rootCmd.AddCommand(catalogCmd, templateCmd, phaseCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the plannerctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), rootCmd.Version)
		},
	})
}
