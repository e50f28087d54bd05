package orchestrator

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
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %s: %v", args, out, err)
	}
}

func setupRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.name", "test")
	runGit(t, dir, "config", "user.email", "test@example.com")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "initial")
	return dir
}

func baseConfig() *config.Config {
	return &config.Config{
		Settings: config.Settings{
			MaxConcurrent:     2,
			BranchPrefix:      "agent/",
			IntegrationBranch: "main",
			Remote:            "origin",
		},
		Agents: map[string]config.Agent{
			"echo": {Command: "echo", Args: []string{"noop"}},
		},
		Gates: config.Gates{},
	}
}

func TestSpawnAdmitsAndTracksRun(t *testing.T) {
	repoDir := setupRepo(t)
	store := card.NewMemoryStore()
	store.AddProject(card.Project{ID: "p1", Status: card.ProjectActive})
	c := store.AddCard(card.Card{ID: "c1", ProjectID: "p1", Title: "Fix the login bug"})

	o := New(store, event.NopSink{}, baseConfig(), repoDir)
	if err := o.Spawn(context.Background(), c.ID, "echo", "do it"); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	running := o.GetRunningAgents()
	if len(running) != 1 {
		t.Fatalf("expected 1 tracked run, got %d", len(running))
	}
	if running[0].BranchName == "" {
		t.Error("expected a derived branch name")
	}

	// Let the short-lived "echo" agent run to completion before the test
	// temp dir is torn down.
	time.Sleep(500 * time.Millisecond)
}

func TestSpawnRejectsSecondConcurrentRunOnSameProject(t *testing.T) {
	repoDir := setupRepo(t)
	store := card.NewMemoryStore()
	store.AddProject(card.Project{ID: "p1", Status: card.ProjectActive})
	c1 := store.AddCard(card.Card{ID: "c1", ProjectID: "p1", Title: "First card"})
	c2 := store.AddCard(card.Card{ID: "c2", ProjectID: "p1", Title: "Second card"})

	cfg := baseConfig()
	cfg.Agents["echo"] = config.Agent{Command: "sleep", Args: []string{"2"}}

	o := New(store, event.NopSink{}, cfg, repoDir)
	if err := o.Spawn(context.Background(), c1.ID, "echo", "do it"); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}

	err := o.Spawn(context.Background(), c2.ID, "echo", "do it")
	var admErr *orcherr.AdmissionError
	if !errors.As(err, &admErr) {
		t.Fatalf("expected AdmissionError, got %v", err)
	}

	o.ShutdownAll(5 * time.Second)
}

func TestSpawnRejectsUnresolvableAgentCommand(t *testing.T) {
	repoDir := setupRepo(t)
	store := card.NewMemoryStore()
	store.AddProject(card.Project{ID: "p1", Status: card.ProjectActive})
	c := store.AddCard(card.Card{ID: "c1", ProjectID: "p1", Title: "Some card"})

	cfg := baseConfig()
	cfg.Agents["missing"] = config.Agent{Command: "definitely-not-a-real-binary-xyz"}

	o := New(store, event.NopSink{}, cfg, repoDir)
	err := o.Spawn(context.Background(), c.ID, "missing", "do it")
	var admErr *orcherr.AdmissionError
	if !errors.As(err, &admErr) {
		t.Fatalf("expected AdmissionError, got %v", err)
	}
}

func TestSpawnWithZeroMaxConcurrentRejectsEverything(t *testing.T) {
	repoDir := setupRepo(t)
	store := card.NewMemoryStore()
	store.AddProject(card.Project{ID: "p1", Status: card.ProjectActive})
	c := store.AddCard(card.Card{ID: "c1", ProjectID: "p1", Title: "Any card"})

	cfg := baseConfig()
	cfg.Settings.MaxConcurrent = 0

	o := New(store, event.NopSink{}, cfg, repoDir)
	err := o.Spawn(context.Background(), c.ID, "echo", "do it")
	var admErr *orcherr.AdmissionError
	if !errors.As(err, &admErr) {
		t.Fatalf("expected AdmissionError with MaxConcurrent=0, got %v", err)
	}
	if len(o.GetRunningAgents()) != 0 {
		t.Error("expected no tracked run after a rejected spawn")
	}
}

func TestStopAgentOnUnknownCardFails(t *testing.T) {
	repoDir := setupRepo(t)
	store := card.NewMemoryStore()
	o := New(store, event.NopSink{}, baseConfig(), repoDir)
	if err := o.StopAgent("nope"); err == nil {
		t.Fatal("expected error stopping an unknown card")
	}
}
