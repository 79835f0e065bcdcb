package worktree

import (
	"errors"
	"os"
	"strings"
	"testing"
)

type fakeGit struct {
	calls  [][]string
	mkdirs bool // create the worktree dir on "worktree add"
}

func (f *fakeGit) RunGit(dir string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if f.mkdirs && len(args) >= 3 && args[0] == "worktree" && args[1] == "add" {
		os.MkdirAll(args[2], 0o755)
	}
	return "", nil
}

func TestBranchNaming(t *testing.T) {
	if got := Branch(42); got != "steward/issue-42" {
		t.Errorf("Branch(42) = %q", got)
	}
}

func TestEnsureCreatesWorktree(t *testing.T) {
	repo := t.TempDir()
	git := &fakeGit{mkdirs: true}
	m := NewManager(git, repo)

	path, branch, err := m.Ensure(42, "main")
	if err != nil {
		t.Fatal(err)
	}
	if path != m.Path(42) {
		t.Errorf("path = %q", path)
	}
	if branch != "steward/issue-42" {
		t.Errorf("branch = %q", branch)
	}

	var sawFetch, sawAdd bool
	for _, call := range git.calls {
		joined := strings.Join(call, " ")
		if strings.HasPrefix(joined, "fetch origin main") {
			sawFetch = true
		}
		if strings.HasPrefix(joined, "worktree add") && strings.Contains(joined, "-b steward/issue-42") {
			sawAdd = true
		}
	}
	if !sawFetch || !sawAdd {
		t.Errorf("git calls = %v", git.calls)
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	repo := t.TempDir()
	git := &fakeGit{mkdirs: true}
	m := NewManager(git, repo)

	if _, _, err := m.Ensure(42, "main"); err != nil {
		t.Fatal(err)
	}
	before := len(git.calls)

	if _, _, err := m.Ensure(42, "main"); err != nil {
		t.Fatal(err)
	}
	if len(git.calls) != before {
		t.Error("second Ensure should not run git with an existing checkout")
	}
}

func TestEnsureFallsBackToExistingBranch(t *testing.T) {
	repo := t.TempDir()

	// The first worktree-add form fails (branch already exists); the retry
	// without -b must be attempted.
	calls := 0
	m := NewManager(&retryGit{inner: &fakeGit{}, failFirst: &calls}, repo)

	if _, _, err := m.Ensure(42, "main"); err != nil {
		t.Fatal(err)
	}
	if calls < 2 {
		t.Errorf("expected a retry without -b, saw %d worktree add calls", calls)
	}
}

// retryGit fails the first "worktree add" and succeeds afterwards.
type retryGit struct {
	inner     *fakeGit
	failFirst *int
}

func (r *retryGit) RunGit(dir string, args ...string) (string, error) {
	if len(args) >= 2 && args[0] == "worktree" && args[1] == "add" {
		*r.failFirst++
		if *r.failFirst == 1 {
			return "", errors.New("fatal: a branch named 'steward/issue-42' already exists")
		}
	}
	return r.inner.RunGit(dir, args...)
}

func TestEnsureInvalidIssue(t *testing.T) {
	m := NewManager(&fakeGit{}, t.TempDir())
	if _, _, err := m.Ensure(0, "main"); err == nil {
		t.Fatal("expected error for issue 0")
	}
}

func TestRemove(t *testing.T) {
	git := &fakeGit{}
	m := NewManager(git, t.TempDir())

	if err := m.Remove(42, true); err != nil {
		t.Fatal(err)
	}
	var sawRemove, sawBranchDelete bool
	for _, call := range git.calls {
		joined := strings.Join(call, " ")
		if strings.HasPrefix(joined, "worktree remove") {
			sawRemove = true
		}
		if strings.HasPrefix(joined, "branch -d steward/issue-42") {
			sawBranchDelete = true
		}
	}
	if !sawRemove || !sawBranchDelete {
		t.Errorf("git calls = %v", git.calls)
	}
}
