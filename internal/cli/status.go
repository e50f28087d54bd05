package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/foremanhq/foreman/internal/agentlog"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/statusfile"
	"github.com/spf13/cobra"
)

var (
	statusFollow   bool
	statusInterval float64
)

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Live-update status (like watch)")
	statusCmd.Flags().Float64VarP(&statusInterval, "interval", "n", 2.0, "Seconds between updates (with --follow)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <config-file>",
	Short: "Show the status of each card currently tracked by the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAndValidateConfig(args[0])
		if err != nil {
			return err
		}

		repoDir, err := resolveRepo(args[0])
		if err != nil {
			return err
		}

		if statusFollow {
			return followStatus(cfg, repoDir)
		}
		return showStatus(cfg, repoDir)
	},
}

func followStatus(cfg *config.Config, repoDir string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interval := time.Duration(statusInterval * float64(time.Second))
	var lastOutput string

	for {
		var buf bytes.Buffer
		if err := renderStatus(&buf, repoDir, true); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		output := buf.String()

		if output != lastOutput {
			fmt.Print("\033[H\033[2J")
			fmt.Printf("Every %.1fs: foreman status\n\n", statusInterval)
			fmt.Print(output)
			lastOutput = output
		}

		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-time.After(interval):
		}
	}
}

func showStatus(cfg *config.Config, repoDir string) error {
	return renderStatus(os.Stdout, repoDir, false)
}

// renderStatus prints every card status snapshot on disk, marking a
// running-looking snapshot whose process has died as stale rather than
// trusting it, and appends the last few log lines for each active card
// when showLogs is set.
func renderStatus(w io.Writer, repoDir string, showLogs bool) error {
	statuses, err := statusfile.ReadAll(repoDir)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Card Status")
	fmt.Fprintln(w, "──────────────────────────────────────")

	if len(statuses) == 0 {
		fmt.Fprintln(w, "  (no cards have run yet)")
		return nil
	}

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].CardID < statuses[j].CardID })

	var activeCards []string
	for _, s := range statuses {
		if statusfile.IsStale(s) {
			fmt.Fprintf(w, "  ✗  %-12s  stale (process %d no longer running, was: %s)\n", short(s.CardID), s.PID, s.State)
			continue
		}

		switch s.State {
		case "starting", "running":
			fmt.Fprintf(w, "  ⟳  %-12s  agent running (since %s)\n", short(s.CardID), s.StartedAt.Format(time.Kitchen))
			activeCards = append(activeCards, s.CardID)
		case "completing", "verifying", "pushing":
			fmt.Fprintf(w, "  ⟳  %-12s  %s\n", short(s.CardID), s.State)
			activeCards = append(activeCards, s.CardID)
		case "completed":
			fmt.Fprintf(w, "  ✓  %-12s  completed at %s\n", short(s.CardID), s.CompletedAt.Format(time.Kitchen))
		case "failed":
			fmt.Fprintf(w, "  ✗  %-12s  failed: %s\n", short(s.CardID), s.Reason)
		case "blocked":
			fmt.Fprintf(w, "  ⊘  %-12s  blocked: %s\n", short(s.CardID), s.Reason)
		case "idle":
			fmt.Fprintf(w, "  ◯  %-12s  idle\n", short(s.CardID))
		default:
			fmt.Fprintf(w, "  ◯  %-12s  %s\n", short(s.CardID), s.State)
		}
	}

	if showLogs && len(activeCards) > 0 {
		for _, id := range activeCards {
			tail := readLastLines(agentlog.Path(repoDir, id), 5)
			if tail != "" {
				fmt.Fprintf(w, "\n── %s logs ──\n%s", short(id), tail)
			}
		}
	}

	return nil
}

// readLastLines reads the last n lines from a file, returning "" if the
// file doesn't exist.
func readLastLines(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
