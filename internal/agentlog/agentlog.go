// Package agentlog persists each card's agent output to a plain append-only
// file under .foreman/logs/, so the `foreman logs` command can tail a
// running (or finished) agent's output from a separate process invocation —
// the ring buffer in internal/ringlog is in-memory only and belongs to the
// daemon process alone. One *os.File kept open for append per card, under
// the repo-local .foreman/logs/<cardID>.log layout the rest of the control
// directory uses.
package agentlog

import (
	"os"
	"path/filepath"

	"github.com/foremanhq/foreman/internal/fileutil"
)

// Writer appends lines to one card's log file, keeping the handle open for
// the lifetime of a single agent run.
type Writer struct {
	f *os.File
}

// Open creates (or truncates) the log file for a fresh agent run — a new
// run's log shouldn't be interleaved with a stale one from a prior attempt
// at the same card.
func Open(repoDir, cardID string) (*Writer, error) {
	if err := fileutil.EnsureDir(dir(repoDir)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path(repoDir, cardID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{f: f}, nil
}

// Append writes one line plus a trailing newline.
func (w *Writer) Append(line string) {
	if w == nil || w.f == nil {
		return
	}
	_, _ = w.f.WriteString(line + "\n")
}

// Close releases the underlying file handle.
func (w *Writer) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	return w.f.Close()
}

func dir(repoDir string) string {
	return fileutil.ForemanSubdir(repoDir, "logs")
}

// Path returns the log file path for a card, for the `logs` CLI command to
// read directly.
func Path(repoDir, cardID string) string {
	return path(repoDir, cardID)
}

func path(repoDir, cardID string) string {
	return filepath.Join(dir(repoDir), cardID+".log")
}
