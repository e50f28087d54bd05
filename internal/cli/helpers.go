package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/foremanhq/foreman/internal/card"
	"github.com/foremanhq/foreman/internal/config"
)

// loadAndValidateConfig loads a config file and validates it, printing
// errors to stderr.
func loadAndValidateConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, err
	}

	errs := config.Validate(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}

	return cfg, nil
}

// resolveRepo finds the git repository root from a config file path.
func resolveRepo(configArg string) (string, error) {
	configPath, err := filepath.Abs(configArg)
	if err != nil {
		return "", err
	}
	repoDir := findGitRoot(filepath.Dir(configPath))
	if repoDir == "" {
		return "", fmt.Errorf("could not find git repository root from %s", filepath.Dir(configPath))
	}
	return repoDir, nil
}

// findGitRoot walks up from dir looking for a .git directory.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// seedStore populates an in-memory card store from the config file's
// projects list — the only way to get a board into the standalone `run`
// mode, which has no HTTP/CRUD layer of its own.
func seedStore(ctx context.Context, store *card.MemoryStore, cfg *config.Config) {
	for _, p := range cfg.Projects {
		name := p.Name
		if name == "" {
			name = p.ProjectID
		}
		store.AddProject(card.Project{
			ID:                  p.ProjectID,
			Name:                name,
			Status:              card.ProjectActive,
			AgentTimeoutMinutes: int(p.AgentTimeout.Duration().Minutes()),
			MaxConcurrentAgents: p.MaxConcurrentAgents,
		})
		for _, seed := range p.Cards {
			_, _ = store.CreateCard(ctx, card.Card{
				ProjectID:   p.ProjectID,
				Title:       seed.Title,
				Description: seed.Description,
				Priority:    seed.Priority,
			})
		}
	}
}
