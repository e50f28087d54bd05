package cli

import (
	"fmt"
	"syscall"
	"time"

	"github.com/foremanhq/foreman/internal/intake"
	"github.com/spf13/cobra"
)

var (
	submitProject   string
	submitPriority  int
	submitImmediate bool
)

func init() {
	submitCmd.Flags().StringVar(&submitProject, "project", "", "Project ID to file the card against (default: substring match, then first active project)")
	submitCmd.Flags().IntVar(&submitPriority, "priority", 0, "Card priority (lower runs first)")
	submitCmd.Flags().BoolVar(&submitImmediate, "immediate", true, "Ask a running daemon to process the brief right away instead of waiting for its next tick")
	rootCmd.AddCommand(submitCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit <config-file> <task brief text>",
	Short: "File a free-text task brief for the daemon to turn into a backlog card",
	Long: `Submit hands a task brief to a foreman daemon running against the same
repository, possibly in a different process. The brief is written under
.foreman/briefs/ and picked up the next time the daemon's heartbeat ticks
(see internal/heartbeat.Heartbeat.Tick's intake drain). With --immediate
(the default) and a daemon already running, submit also sends it SIGUSR1 so
it drains and ticks right away rather than waiting out its interval.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadAndValidateConfig(args[0]); err != nil {
			return err
		}
		repoDir, err := resolveRepo(args[0])
		if err != nil {
			return err
		}

		path, err := intake.Write(repoDir, intake.Brief{
			Text:      args[1],
			ProjectID: submitProject,
			Priority:  submitPriority,
			Immediate: submitImmediate,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("writing task brief: %w", err)
		}
		fmt.Printf("task brief filed at %s\n", path)

		if !submitImmediate {
			return nil
		}
		if !intake.IsRunnerAlive(repoDir) {
			fmt.Println("no running daemon found; it will be picked up on the next `foreman run` startup tick")
			return nil
		}
		pid, err := intake.RunnerPID(repoDir)
		if err != nil {
			return nil
		}
		if err := syscall.Kill(pid, syscall.SIGUSR1); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "could not signal daemon (pid %d): %s\n", pid, err)
			return nil
		}
		fmt.Println("signaled running daemon to process it now")
		return nil
	},
}
