// Package statusfile persists a lightweight JSON snapshot of each card's
// agent-run state to disk, so the `foreman status` command can
// inspect a running daemon's state from a separate process invocation
// without any IPC. One status file per card, each carrying its own
// staleness check (the "process N no longer running" test built on
// process-liveness) instead of a single shared status file.
package statusfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/foremanhq/foreman/internal/fileutil"
	"github.com/foremanhq/foreman/internal/procutil"
)

// Status is the on-disk snapshot of one card's agent run.
type Status struct {
	CardID      string    `json:"cardId"`
	ProjectID   string    `json:"projectId"`
	AgentKind   string    `json:"agent"`
	State       string    `json:"state"`
	BranchName  string    `json:"branchName,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
	PID         int       `json:"pid"`
}

func dir(repoDir string) string {
	return fileutil.ForemanSubdir(repoDir, "status")
}

func path(repoDir, cardID string) string {
	return filepath.Join(dir(repoDir), cardID+".json")
}

// Write persists a card's status snapshot, overwriting any prior one.
func Write(repoDir string, s Status) error {
	if err := fileutil.EnsureDir(dir(repoDir)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path(repoDir, s.CardID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path(repoDir, s.CardID))
}

// Read loads a card's last-written status snapshot, or (nil, nil) if none
// exists yet.
func Read(repoDir, cardID string) (*Status, error) {
	data, err := os.ReadFile(path(repoDir, cardID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadAll loads every card status snapshot found under the repo's status
// directory.
func ReadAll(repoDir string) ([]Status, error) {
	entries, err := os.ReadDir(dir(repoDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Status
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir(repoDir), e.Name()))
		if err != nil {
			continue
		}
		var s Status
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// IsStale reports whether a running-looking status actually belongs to a
// process that's no longer alive, so the status command doesn't trust a
// state left behind by a process that died mid-run.
func IsStale(s Status) bool {
	switch s.State {
	case "starting", "running", "completing", "verifying", "pushing":
		return !procutil.Alive(s.PID)
	default:
		return false
	}
}
