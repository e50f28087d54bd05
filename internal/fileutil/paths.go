package fileutil

import "path/filepath"

// ForemanSubdir builds a path to a subdirectory within a repository's
// .foreman control directory (worktrees, logs, trigger/pid files for the
// CLI-driven runner).
func ForemanSubdir(baseDir, subdir string) string {
	return filepath.Join(baseDir, ".foreman", subdir)
}

// WorktreeDir returns the expected worktree directory for a card,
// baseDir/.worktrees/<id8>, keyed by the first 8 characters of its card ID.
func WorktreeDir(baseDir, cardID string) string {
	id8 := cardID
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	return filepath.Join(baseDir, ".worktrees", id8)
}
