// Package verify runs the fixed three-step quality gate — type check, lint,
// test — against a worktree before its branch is considered mergeable. Each
// gate's Run string executes via "sh -c", stopping at the first failure,
// with a per-step timeout and a combined, truncated output capture instead
// of a pass-through to the terminal.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/foremanhq/foreman/internal/config"
)

// maxCapturedOutput bounds how much combined step output is retained for
// storage on the card; a runaway test suite must not blow up the record.
const maxCapturedOutput = 64 * 1024

// Step names, in the fixed order they run.
const (
	StepTypeCheck = "type_check"
	StepLint      = "lint"
	StepTest      = "test"
)

// Result is the outcome of running all configured steps.
type Result struct {
	Passed bool
	Output string // combined, truncated output of every step run
	Failed string // name of the first failing step, empty if Passed
}

// Run executes type-check, lint, then test in the given worktree directory,
// stopping at the first failure. A step whose Run string is empty is
// skipped — not every project configures all three.
func Run(ctx context.Context, dir string, gates config.Gates) Result {
	steps := []struct {
		name string
		gc   config.GateCommand
	}{
		{StepTypeCheck, gates.TypeCheck},
		{StepLint, gates.Lint},
		{StepTest, gates.Test},
	}

	var combined bytes.Buffer
	for _, s := range steps {
		if s.gc.Run == "" {
			continue
		}
		fmt.Fprintf(&combined, "--- %s ---\n", s.name)
		out, err := runStep(ctx, dir, s.gc)
		combined.Write(out)
		if err != nil {
			fmt.Fprintf(&combined, "\n%s failed: %s\n", s.name, err)
			return Result{Passed: false, Output: truncate(combined.Bytes()), Failed: s.name}
		}
		combined.WriteByte('\n')
	}
	return Result{Passed: true, Output: truncate(combined.Bytes())}
}

func runStep(ctx context.Context, dir string, gc config.GateCommand) ([]byte, error) {
	timeout := gc.Timeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultGateTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := strings.ReplaceAll(gc.Run, "{dir}", dir)
	cmd := exec.CommandContext(stepCtx, "sh", "-c", run)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if stepCtx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("timed out after %s", timeout)
	}
	return out, err
}

func truncate(b []byte) string {
	if len(b) <= maxCapturedOutput {
		return string(b)
	}
	head := b[:maxCapturedOutput]
	return string(head) + fmt.Sprintf("\n... truncated (%d bytes total)", len(b))
}
