// Package worktree manages the lifecycle of git worktrees used to isolate
// each running agent: one worktree per card, created on a dedicated branch,
// removed once the run concludes, with path-safety checks (filepath.Rel
// against the repo root) guarding every creation.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/foremanhq/foreman/internal/fileutil"
	"github.com/foremanhq/foreman/internal/git"
	"github.com/foremanhq/foreman/internal/orcherr"
)

// Manager creates and tears down per-card worktrees under a repo's
// .worktrees directory.
type Manager struct {
	repoDir      string
	branchPrefix string
	baseBranch   string
}

// NewManager returns a Manager for the given repo checkout.
func NewManager(repoDir, branchPrefix, baseBranch string) *Manager {
	return &Manager{repoDir: repoDir, branchPrefix: branchPrefix, baseBranch: baseBranch}
}

// Handle identifies a created worktree: its filesystem path and the branch
// checked out in it.
type Handle struct {
	Path   string
	Branch string
}

// Create provisions a worktree for the given card on the default
// branchPrefix+cardID branch. If a branch for the card already exists (e.g.
// from a prior crashed run), it is attached to rather than recreated, so
// in-progress work is not discarded.
func (m *Manager) Create(cardID string) (*Handle, error) {
	return m.CreateBranch(cardID, m.branchPrefix+cardID)
}

// CreateBranch provisions a worktree for the given card on the caller-chosen
// branch name — used by the Orchestrator, which derives a slugged branch
// name from the card title rather than the cardID alone. The worktree
// directory itself is still keyed by cardID, per the fixed
// baseDir/.worktrees/<id8> layout.
func (m *Manager) CreateBranch(cardID, branch string) (*Handle, error) {
	repo := git.NewRepo(m.repoDir)
	repo.EnsureIdentity()

	path := fileutil.WorktreeDir(m.repoDir, cardID)

	if !isPathSafe(m.repoDir, path) {
		return nil, &orcherr.WorktreeError{Op: "create", Err: fmt.Errorf("unsafe worktree path %s", path)}
	}

	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, &orcherr.WorktreeError{Op: "create", Err: err}
	}

	if repo.BranchExists(branch) {
		if err := repo.CreateWorktree(path, branch); err != nil {
			return nil, &orcherr.WorktreeError{Op: "attach", Err: err}
		}
		return &Handle{Path: path, Branch: branch}, nil
	}

	if err := repo.CreateWorktreeNewBranch(path, branch, m.baseBranch); err != nil {
		return nil, &orcherr.WorktreeError{Op: "create", Err: err}
	}
	return &Handle{Path: path, Branch: branch}, nil
}

// integrationDir is the fixed path used for the synthesizer's merge
// worktree (under .foreman), distinct from the per-card baseDir/.worktrees/<id8>
// layout since at most one merge runs at a time.
const integrationDir = "merge"

// CreateIntegrationWorktree provisions (or re-attaches to) the worktree the
// Synthesizer merges branch_verified cards into, checked out on the
// configured integration branch at a fixed path so a crashed merge can be
// found and cleaned up on the next tick rather than leaking a stale
// worktree under a fresh name every time.
func (m *Manager) CreateIntegrationWorktree() (*Handle, error) {
	repo := git.NewRepo(m.repoDir)
	repo.EnsureIdentity()

	branch := m.baseBranch
	if branch == "" {
		branch = "main"
	}
	path := fileutil.ForemanSubdir(m.repoDir, integrationDir)

	if !isPathSafe(m.repoDir, path) {
		return nil, &orcherr.WorktreeError{Op: "create", Err: fmt.Errorf("unsafe worktree path %s", path)}
	}

	if _, err := os.Stat(path); err == nil {
		if err := repo.RemoveWorktree(path); err != nil {
			_ = repo.PruneWorktrees()
		}
	}
	_ = repo.PruneWorktrees()

	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, &orcherr.WorktreeError{Op: "create", Err: err}
	}
	// Checked out detached, not on branch directly: the integration branch
	// is usually also checked out in the repo's primary working directory,
	// and git refuses to check the same branch out in two worktrees at once.
	if err := repo.CreateWorktreeDetached(path, branch); err != nil {
		return nil, &orcherr.WorktreeError{Op: "create", Err: err}
	}
	return &Handle{Path: path, Branch: branch}, nil
}

// Remove tears down a worktree. It is idempotent: removing an
// already-gone worktree is not an error, because cleanup runs on every exit
// path of the agent supervisor and must never itself fail the run.
func (m *Manager) Remove(h *Handle) error {
	if h == nil {
		return nil
	}
	repo := git.NewRepo(m.repoDir)
	if _, err := os.Stat(h.Path); os.IsNotExist(err) {
		_ = repo.PruneWorktrees()
		return nil
	}
	if err := repo.RemoveWorktree(h.Path); err != nil {
		_ = repo.PruneWorktrees()
		return err
	}
	return nil
}

// isPathSafe verifies that worktreePath resolves to a location strictly
// inside repoDir — a worktree path derived from a card ID must never be
// allowed to escape the repo via a crafted ID.
func isPathSafe(repoDir, worktreePath string) bool {
	rel, err := filepath.Rel(repoDir, worktreePath)
	if err != nil {
		return false
	}
	if rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return true
}

// LinkSharedDependencies best-effort symlinks directories from the source
// repo into the worktree that git itself would never materialize there
// (vendored toolchains, node_modules-style caches) so agents don't re-fetch
// them per card. Entries matched by the repo's .gitignore are skipped so the
// link pass doesn't resurrect artifacts the repo deliberately excludes.
// Failures are logged by the caller and never fail the run — this is a
// performance optimization, not a correctness one.
func LinkSharedDependencies(repoDir, worktreeDir string, dirs []string) []error {
	var errs []error
	ignore, _ := gitignore.CompileIgnoreFile(filepath.Join(repoDir, ".gitignore"))

	for _, d := range dirs {
		if ignore != nil && ignore.MatchesPath(d) {
			continue
		}
		src := filepath.Join(repoDir, d)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(worktreeDir, d)
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := fileutil.EnsureDir(filepath.Dir(dst)); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Symlink(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("linking %s: %w", d, err))
		}
	}
	return errs
}
