package agent

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/foremanhq/foreman/internal/card"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/event"
	"github.com/foremanhq/foreman/internal/orcherr"
	"github.com/foremanhq/foreman/internal/worktree"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
}

func setupRepoWithRemote(t *testing.T) (repoDir string) {
	t.Helper()
	base := t.TempDir()
	bare := filepath.Join(base, "remote.git")
	runGit(t, base, "init", "--bare", bare)

	repoDir = filepath.Join(base, "repo")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatal(err)
	}
	runGit(t, repoDir, "init", "-b", "main")
	runGit(t, repoDir, "config", "user.name", "test")
	runGit(t, repoDir, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(repoDir, "a.txt"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, repoDir, "add", "-A")
	runGit(t, repoDir, "commit", "-m", "initial")
	runGit(t, repoDir, "remote", "add", "origin", bare)
	return repoDir
}

func TestSupervisorHappyPathCompletesAndPushes(t *testing.T) {
	repoDir := setupRepoWithRemote(t)
	wtMgr := worktree.NewManager(repoDir, "agent/", "main")
	wt, err := wtMgr.Create("card-happy")
	if err != nil {
		t.Fatalf("Create worktree: %v", err)
	}

	store := card.NewMemoryStore()
	store.AddProject(card.Project{ID: "p1", Status: card.ProjectActive})
	store.AddCard(card.Card{ID: "card-happy", ProjectID: "p1"})

	sup := New("card-happy", "p1", "claude", "do the thing", wt,
		config.Agent{Command: "/bin/sh", Args: []string{"-c", "echo '{\"type\":\"result\",\"modelUsage\":{\"inputTokens\":3,\"outputTokens\":5}}'; echo changed > file.txt"}},
		config.Gates{}, 5*time.Second, "origin", repoDir, store, event.NopSink{})

	state, err := sup.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state != StateCompleted {
		t.Fatalf("state = %s, want completed", state)
	}

	got, err := store.GetCard(context.Background(), "card-happy")
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentStatus != card.AgentCompleted {
		t.Errorf("AgentStatus = %s, want completed", got.AgentStatus)
	}
	if got.VerificationStatus != card.VerificationBranchVerified {
		t.Errorf("VerificationStatus = %s, want branch_verified", got.VerificationStatus)
	}
}

func TestSupervisorVerificationFailureBlocks(t *testing.T) {
	repoDir := setupRepoWithRemote(t)
	wtMgr := worktree.NewManager(repoDir, "agent/", "main")
	wt, err := wtMgr.Create("card-blocked")
	if err != nil {
		t.Fatalf("Create worktree: %v", err)
	}

	store := card.NewMemoryStore()
	store.AddProject(card.Project{ID: "p1", Status: card.ProjectActive})
	store.AddCard(card.Card{ID: "card-blocked", ProjectID: "p1"})

	sup := New("card-blocked", "p1", "claude", "do the thing", wt,
		config.Agent{Command: "/bin/sh", Args: []string{"-c", "true"}},
		config.Gates{Test: config.GateCommand{Run: "exit 1"}}, 5*time.Second, "origin", repoDir, store, event.NopSink{})

	state, err := sup.Run(context.Background())
	if state != StateBlocked {
		t.Fatalf("state = %s, want blocked", state)
	}
	var verr *orcherr.VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %v (%T)", err, err)
	}
}

func TestSupervisorTimeoutFailsAndKills(t *testing.T) {
	repoDir := setupRepoWithRemote(t)
	wtMgr := worktree.NewManager(repoDir, "agent/", "main")
	wt, err := wtMgr.Create("card-timeout")
	if err != nil {
		t.Fatalf("Create worktree: %v", err)
	}

	store := card.NewMemoryStore()
	store.AddProject(card.Project{ID: "p1", Status: card.ProjectActive})
	store.AddCard(card.Card{ID: "card-timeout", ProjectID: "p1"})

	sup := New("card-timeout", "p1", "claude", "do the thing", wt,
		config.Agent{Command: "/bin/sh", Args: []string{"-c", "sleep 30"}},
		config.Gates{}, 200*time.Millisecond, "origin", repoDir, store, event.NopSink{})

	state, err := sup.Run(context.Background())
	if state != StateFailed {
		t.Fatalf("state = %s, want failed", state)
	}
	var terr *orcherr.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TimeoutError, got %v (%T)", err, err)
	}
	if terr.Minutes != 0 {
		t.Errorf("Minutes = %d, want 0 for a sub-minute timeout", terr.Minutes)
	}
}

func TestSupervisorCancelStopsAndCleansUp(t *testing.T) {
	repoDir := setupRepoWithRemote(t)
	wtMgr := worktree.NewManager(repoDir, "agent/", "main")
	wt, err := wtMgr.Create("card-cancel")
	if err != nil {
		t.Fatalf("Create worktree: %v", err)
	}

	store := card.NewMemoryStore()
	store.AddProject(card.Project{ID: "p1", Status: card.ProjectActive})
	store.AddCard(card.Card{ID: "card-cancel", ProjectID: "p1"})

	sup := New("card-cancel", "p1", "claude", "do the thing", wt,
		config.Agent{Command: "/bin/sh", Args: []string{"-c", "sleep 30"}},
		config.Gates{}, 30*time.Second, "origin", repoDir, store, event.NopSink{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var state State
	go func() {
		state, _ = sup.Run(ctx)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if state != StateIdle {
		t.Fatalf("state = %s, want idle", state)
	}
}
