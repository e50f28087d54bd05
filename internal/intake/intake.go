// Package intake lets the CLI hand a task brief to a daemon running in a
// separate process: `submit` writes a small JSON file under
// .foreman/briefs/, and the daemon's heartbeat drains that directory once
// per tick, turning each file into a backlog card via
// heartbeat.SubmitTaskBrief. A directory of one-shot brief files rather than
// a single mutable trigger file, since more than one brief can be pending at
// once.
package intake

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/foremanhq/foreman/internal/fileutil"
	"github.com/foremanhq/foreman/internal/procutil"
	"github.com/google/uuid"
)

// Brief is one pending task-brief submission.
type Brief struct {
	Text      string    `json:"text"`
	ProjectID string    `json:"projectId,omitempty"`
	Priority  int       `json:"priority,omitempty"`
	Immediate bool      `json:"immediate,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func dir(repoDir string) string {
	return fileutil.ForemanSubdir(repoDir, "briefs")
}

// Write persists a brief file, returning its path.
func Write(repoDir string, b Brief) (string, error) {
	if err := fileutil.EnsureDir(dir(repoDir)); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir(repoDir), uuid.NewString()+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Pending is one unconsumed brief file paired with its path, so the reader
// can remove it once processed.
type Pending struct {
	Path  string
	Brief Brief
}

// ReadPending lists every brief file waiting to be processed.
func ReadPending(repoDir string) ([]Pending, error) {
	entries, err := os.ReadDir(dir(repoDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Pending
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir(repoDir), e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var b Brief
		if err := json.Unmarshal(data, &b); err != nil {
			continue
		}
		out = append(out, Pending{Path: path, Brief: b})
	}
	return out, nil
}

// Remove deletes a brief file once it has been turned into a card.
func Remove(path string) error {
	return os.Remove(path)
}

func pidPath(repoDir string) string {
	return filepath.Join(fileutil.ForemanSubdir(repoDir, ""), "daemon.pid")
}

// WritePID records the running daemon's PID so a later `submit` invocation
// can tell whether a daemon is already watching this repo.
func WritePID(repoDir string) error {
	if err := fileutil.EnsureDir(fileutil.ForemanSubdir(repoDir, "")); err != nil {
		return err
	}
	return os.WriteFile(pidPath(repoDir), []byte(strconv.Itoa(os.Getpid())), 0644)
}

// IsRunnerAlive reports whether the daemon.pid file names a still-running
// process.
func IsRunnerAlive(repoDir string) bool {
	pid, err := RunnerPID(repoDir)
	if err != nil {
		return false
	}
	return procutil.Alive(pid)
}

// RunnerPID reads back the PID written by WritePID, failing if no daemon
// has recorded one for this repo yet.
func RunnerPID(repoDir string) (int, error) {
	data, err := os.ReadFile(pidPath(repoDir))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, os.ErrInvalid
	}
	return pid, nil
}
