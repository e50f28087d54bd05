// Package cli implements the foreman command-line interface: the daemon
// entrypoint (run), state inspection (status, logs), task-brief intake from
// a separate process (submit), and config checking (validate).
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Supervise coding agents across a project's kanban board",
	Long: `Foreman is a daemon that pulls cards off a project's backlog, runs a
coding agent against each in an isolated git worktree, verifies the result,
and pushes the branch once it's clean. A second, slower tick merges verified
branches into an integration branch and re-verifies the merge before
promoting a card to done.`,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("foreman %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
