// Package github wraps the gh and git CLIs. All interaction with the issue
// tracker goes through subprocess contracts so tests can stub them out.
package github

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CmdRunner provides gh command execution. Interface for testing.
type CmdRunner interface {
	Run(args ...string) (string, error)
}

// GitRunner provides git command execution. Interface for testing.
type GitRunner interface {
	RunGit(dir string, args ...string) (string, error)
}

// ExecRunner runs gh and git commands via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command("gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *ExecRunner) RunGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Client provides issue-tracker operations.
type Client struct {
	cmd CmdRunner
	git GitRunner
}

// NewClient creates a client. If cmd also implements GitRunner it is used
// for git operations as well.
func NewClient(cmd CmdRunner) *Client {
	c := &Client{cmd: cmd}
	if git, ok := cmd.(GitRunner); ok {
		c.git = git
	}
	return c
}

// NewClientWithGit creates a client with a separate git runner.
func NewClientWithGit(cmd CmdRunner, git GitRunner) *Client {
	return &Client{cmd: cmd, git: git}
}

// Issue represents a GitHub issue.
type Issue struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Body   string  `json:"body"`
	State  string  `json:"state"`
	Labels []Label `json:"labels"`
}

// Label represents a GitHub label.
type Label struct {
	Name string `json:"name"`
}

// LabelNames returns the issue's label names joined for display.
func (i *Issue) LabelNames() string {
	var names []string
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return strings.Join(names, ", ")
}

// GetIssue fetches a GitHub issue by number.
func (c *Client) GetIssue(number int) (*Issue, error) {
	if number <= 0 {
		return nil, fmt.Errorf("invalid issue number %d: must be positive", number)
	}

	out, err := c.cmd.Run("issue", "view", fmt.Sprintf("%d", number), "--json", "number,title,body,state,labels")
	if err != nil {
		return nil, fmt.Errorf("get issue %d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal([]byte(out), &issue); err != nil {
		return nil, fmt.Errorf("parse issue JSON: %w", err)
	}
	return &issue, nil
}

// PRCreateOpts holds options for creating a PR.
type PRCreateOpts struct {
	Title  string
	Body   string
	Branch string
	Base   string
}

// CreatePR creates a pull request and returns its URL.
func (c *Client) CreatePR(opts PRCreateOpts) (string, error) {
	args := []string{"pr", "create", "--title", opts.Title, "--body", opts.Body, "--head", opts.Branch}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}

	out, err := c.cmd.Run(args...)
	if err != nil {
		return "", fmt.Errorf("create PR: %w", err)
	}
	return out, nil
}

// FindPRByBranch returns the URL of an existing PR for the branch, or ""
// when none exists. The pr stage uses this to stay re-entrant.
func (c *Client) FindPRByBranch(branch string) (string, error) {
	out, err := c.cmd.Run("pr", "list", "--head", branch, "--json", "url", "--limit", "1")
	if err != nil {
		return "", fmt.Errorf("find PR by branch: %w", err)
	}

	var prs []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return "", fmt.Errorf("parse PR list JSON: %w", err)
	}
	if len(prs) == 0 {
		return "", nil
	}
	return prs[0].URL, nil
}

// PushBranch pushes a branch to the remote.
func (c *Client) PushBranch(dir string, branch string) error {
	if c.git == nil {
		return fmt.Errorf("git runner not configured")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q: must not start with -", branch)
	}
	if _, err := c.git.RunGit(dir, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push branch: %w", err)
	}
	return nil
}
