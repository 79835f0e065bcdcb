// Package worktree manages per-issue git worktrees. Each issue's
// implementation happens in an isolated checkout so parallel pipelines
// never touch the same working tree.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgewright/steward/internal/github"
)

// Manager handles git worktree operations for a repository.
type Manager struct {
	git     github.GitRunner
	repoDir string
	baseDir string // where worktrees are created; defaults to {repoDir}/.steward-worktrees
}

// NewManager creates a worktree manager.
func NewManager(git github.GitRunner, repoDir string) *Manager {
	return &Manager{
		git:     git,
		repoDir: repoDir,
		baseDir: filepath.Join(repoDir, ".steward-worktrees"),
	}
}

// Branch returns the branch name used for an issue.
func Branch(issue int) string {
	return fmt.Sprintf("steward/issue-%d", issue)
}

// Path returns the worktree path for an issue.
func (m *Manager) Path(issue int) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("issue-%d", issue))
}

// Exists reports whether a worktree checkout already exists for the issue.
func (m *Manager) Exists(issue int) bool {
	info, err := os.Stat(m.Path(issue))
	return err == nil && info.IsDir()
}

// Ensure creates the worktree for an issue if it does not already exist and
// returns its path and branch. The branch comes off origin/{base}; when the
// branch already exists (a resumed run) the worktree reattaches to it.
func (m *Manager) Ensure(issue int, base string) (path, branch string, err error) {
	if issue <= 0 {
		return "", "", fmt.Errorf("invalid issue number %d: must be positive", issue)
	}
	if base == "" {
		base = "main"
	}

	path = m.Path(issue)
	branch = Branch(issue)
	if m.Exists(issue) {
		return path, branch, nil
	}

	// Best-effort fetch so the branch starts from an up-to-date base.
	_, _ = m.git.RunGit(m.repoDir, "fetch", "origin", base)

	if _, err := m.git.RunGit(m.repoDir, "worktree", "add", path, "-b", branch, "origin/"+base); err != nil {
		// Branch may survive a removed worktree from an earlier attempt.
		if _, retryErr := m.git.RunGit(m.repoDir, "worktree", "add", path, branch); retryErr != nil {
			return "", "", fmt.Errorf("create worktree: %w", err)
		}
	}
	return path, branch, nil
}

// Remove removes an issue's worktree and optionally deletes its branch.
// Uncommitted work blocks removal (no --force).
func (m *Manager) Remove(issue int, deleteBranch bool) error {
	if issue <= 0 {
		return fmt.Errorf("invalid issue number %d: must be positive", issue)
	}

	if _, err := m.git.RunGit(m.repoDir, "worktree", "remove", m.Path(issue)); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}

	if deleteBranch {
		if _, err := m.git.RunGit(m.repoDir, "branch", "-d", Branch(issue)); err != nil {
			return fmt.Errorf("delete branch %q: %w", Branch(issue), err)
		}
	}
	return nil
}
