package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %s: %v", args, out, err)
		}
	}
	run("init", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestManagerCreateNewBranchThenRemove(t *testing.T) {
	dir := initRepo(t)
	m := NewManager(dir, "agent/", "main")

	h, err := m.Create("card-123")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if h.Branch != "agent/card-123" {
		t.Errorf("Branch = %s, want agent/card-123", h.Branch)
	}
	if _, err := os.Stat(h.Path); err != nil {
		t.Fatalf("worktree path missing: %v", err)
	}

	if err := m.Remove(h); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(h.Path); !os.IsNotExist(err) {
		t.Errorf("expected worktree path to be gone after Remove")
	}
}

func TestManagerCreateAttachesToExistingBranch(t *testing.T) {
	dir := initRepo(t)
	m := NewManager(dir, "agent/", "main")

	first, err := m.Create("card-abc")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Remove(first); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	second, err := m.Create("card-abc")
	if err != nil {
		t.Fatalf("second Create (attach to existing branch): %v", err)
	}
	if second.Branch != first.Branch {
		t.Errorf("expected to reattach to the same branch, got %s vs %s", second.Branch, first.Branch)
	}
}

func TestManagerRemoveIsIdempotent(t *testing.T) {
	dir := initRepo(t)
	m := NewManager(dir, "agent/", "main")

	h, err := m.Create("card-xyz")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Remove(h); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := m.Remove(h); err != nil {
		t.Fatalf("second Remove on already-gone worktree should be a no-op, got: %v", err)
	}
	if err := m.Remove(nil); err != nil {
		t.Fatalf("Remove(nil) should be a no-op, got: %v", err)
	}
}

func TestIsPathSafeRejectsEscape(t *testing.T) {
	repoDir := "/repo"
	if !isPathSafe(repoDir, "/repo/.foreman/worktrees/abc") {
		t.Error("expected path inside repoDir to be safe")
	}
	if isPathSafe(repoDir, "/etc/passwd") {
		t.Error("expected path outside repoDir to be unsafe")
	}
	if isPathSafe(repoDir, repoDir) {
		t.Error("expected the repo root itself to be unsafe as a worktree path")
	}
}
