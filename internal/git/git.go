// Package git wraps the git(1) CLI operations the orchestrator needs:
// branch/worktree lifecycle, commit inspection, and publishing. It is the
// "remote source control" collaborator named in the orchestration design —
// every mutating call shells out, nothing here touches the working tree
// directly.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryMaxAttempts bounds the exponential backoff retry applied to
// transient git errors (index locks, ref locks).
const retryMaxAttempts = 6

// transientPatterns are error substrings that indicate a retryable git failure.
var transientPatterns = []string{
	"index file open failed",
	"index.lock",
	"cannot lock ref",
}

// isTransient returns true if the error message matches a known transient git failure.
func isTransient(errMsg string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(errMsg, p) {
			return true
		}
	}
	return false
}

// Repo wraps git operations for a repository (or one of its worktrees).
type Repo struct {
	Dir string
}

// NewRepo creates a Repo for the given directory.
func NewRepo(dir string) *Repo {
	return &Repo{Dir: dir}
}

// newBackOff builds the retry schedule used for transient git errors:
// exponential with a 200ms starting interval, capped at retryMaxAttempts
// tries total.
func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	return backoff.WithMaxRetries(b, retryMaxAttempts-1)
}

// run executes a git command in the repo directory.
// Transient errors (index locks, ref locks) are retried with exponential backoff.
func (r *Repo) run(args ...string) (string, error) {
	var out string
	op := func() error {
		cmd := exec.Command("git", args...)
		cmd.Dir = r.Dir
		raw, err := cmd.CombinedOutput()
		if err == nil {
			out = strings.TrimSpace(string(raw))
			return nil
		}
		errMsg := strings.TrimSpace(string(raw))
		wrapped := fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), errMsg, err)
		if !isTransient(errMsg) {
			return backoff.Permanent(wrapped)
		}
		return wrapped
	}

	if err := backoff.Retry(op, newBackOff()); err != nil {
		var permErr *backoff.PermanentError
		if errors.As(err, &permErr) {
			return "", errors.Unwrap(permErr)
		}
		return "", err
	}
	return out, nil
}

// HeadCommit returns the commit hash at HEAD for a given branch.
func (r *Repo) HeadCommit(branch string) (string, error) {
	return r.run("rev-parse", branch)
}

// BranchExists checks if a branch exists.
func (r *Repo) BranchExists(branch string) bool {
	_, err := r.run("rev-parse", "--verify", branch)
	return err == nil
}

// CreateBranch creates a new branch from a starting point.
func (r *Repo) CreateBranch(name, from string) error {
	_, err := r.run("branch", name, from)
	return err
}

// CreateWorktree creates a git worktree for a branch.
func (r *Repo) CreateWorktree(path, branch string) error {
	_, err := r.run("worktree", "add", path, branch)
	return err
}

// CreateWorktreeDetached creates a worktree checked out at ref in detached
// HEAD state — used for the integration merge worktree, since the
// integration branch is typically also checked out in the repo's primary
// working directory and git refuses to check the same branch out twice.
func (r *Repo) CreateWorktreeDetached(path, ref string) error {
	_, err := r.run("worktree", "add", "--detach", path, ref)
	return err
}

// PushHead pushes the worktree's detached HEAD to a named branch on the
// remote (git push <remote> HEAD:<branch>), the form required when the
// local checkout has no branch of its own to push.
func (r *Repo) PushHead(remote, branch string) error {
	_, err := r.run("push", remote, "HEAD:"+branch)
	return err
}

// CreateWorktreeNewBranch creates a git worktree on a brand new branch in
// one step (git worktree add -b <branch> <path> <from>).
func (r *Repo) CreateWorktreeNewBranch(path, branch, from string) error {
	_, err := r.run("worktree", "add", "-b", branch, path, from)
	return err
}

// RemoveWorktree removes a worktree (git worktree remove --force). A missing
// worktree is reported as git's error; the caller, worktree.Manager.Remove,
// is the one that treats an already-gone worktree as success.
func (r *Repo) RemoveWorktree(path string) error {
	_, err := r.run("worktree", "remove", "--force", path)
	return err
}

// PruneWorktrees removes stale worktree administrative files for worktrees
// whose directory no longer exists.
func (r *Repo) PruneWorktrees() error {
	_, err := r.run("worktree", "prune")
	return err
}

// CommitsBetween returns commit hashes between two refs (exclusive of from, inclusive of to).
// If from is empty, returns all commits up to `to`.
func (r *Repo) CommitsBetween(from, to string) ([]string, error) {
	var rangeSpec string
	if from == "" {
		rangeSpec = to
	} else {
		rangeSpec = from + ".." + to
	}
	out, err := r.run("rev-list", rangeSpec)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitMessage returns the full commit message for a given hash.
func (r *Repo) CommitMessage(hash string) (string, error) {
	return r.run("log", "-1", "--format=%B", hash)
}

// DiffForCommit returns the unified diff introduced by a single commit.
func (r *Repo) DiffForCommit(hash string) (string, error) {
	return r.run("show", "--format=", hash)
}

// AddNote adds a git note to a commit under the "foreman" namespace.
func (r *Repo) AddNote(commit, message string) error {
	_, err := r.run("notes", "--ref=foreman", "add", "-f", "-m", message, commit)
	return err
}

// EnsureIdentity sets user.name and user.email in the repo's local config
// if they are not already resolvable (e.g. via global config or environment).
// This prevents "Author identity unknown" errors in CI environments.
func (r *Repo) EnsureIdentity() {
	if _, err := r.run("config", "user.name"); err != nil {
		_, _ = r.run("config", "user.name", "foreman")
	}
	if _, err := r.run("config", "user.email"); err != nil {
		_, _ = r.run("config", "user.email", "foreman@localhost")
	}
}

// HasChanges checks if there are any uncommitted changes in the worktree.
func (r *Repo) HasChanges() (bool, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// StageAll stages all changes (including untracked files) in the worktree.
func (r *Repo) StageAll() error {
	_, err := r.run("add", "-A")
	return err
}

// Commit creates a commit with the given message.
func (r *Repo) Commit(message string) error {
	_, err := r.run("commit", "--no-verify", "-m", message)
	return err
}

// ResetHard performs a hard reset to the given ref.
func (r *Repo) ResetHard(ref string) error {
	_, err := r.run("reset", "--hard", ref)
	return err
}

// abortRebase aborts any in-progress rebase, ignoring errors.
func (r *Repo) abortRebase() {
	_, _ = r.run("rebase", "--abort") // ignore error — fails if no rebase in progress
}

// abortMerge aborts any in-progress merge, ignoring errors.
func (r *Repo) abortMerge() {
	_, _ = r.run("merge", "--abort")
}

// Rebase rebases the current branch onto targetBranch. On conflict, aborts
// the rebase and hard resets to targetBranch so the caller can regenerate
// from a clean base.
func (r *Repo) Rebase(targetBranch string) error {
	r.abortRebase()

	_, err := r.run("rebase", targetBranch)
	if err != nil {
		r.abortRebase()
		if resetErr := r.ResetHard(targetBranch); resetErr != nil {
			return fmt.Errorf("rebase %s failed and reset also failed: %w", targetBranch, resetErr)
		}
	}
	return nil
}

// MergeNoFF merges branch into the current HEAD with a merge commit
// (non-fast-forward). On conflict it aborts the merge and returns an error;
// the caller decides whether to reset.
func (r *Repo) MergeNoFF(branch, message string) error {
	r.abortMerge()
	_, err := r.run("merge", "--no-ff", "--no-verify", "-m", message, branch)
	if err != nil {
		r.abortMerge()
		return err
	}
	return nil
}

// Push publishes a local branch to the remote, creating the upstream tracking ref.
func (r *Repo) Push(remote, branch string) error {
	_, err := r.run("push", "-u", remote, branch)
	return err
}

// Checkout switches the repo to an existing branch.
func (r *Repo) Checkout(branch string) error {
	_, err := r.run("checkout", branch)
	return err
}
