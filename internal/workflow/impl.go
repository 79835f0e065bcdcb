package workflow

import (
	"fmt"
	"os"

	"github.com/forgewright/steward/internal/llm"
	"github.com/forgewright/steward/internal/prompt"
)

// ImplWorkflow drives the implementation agent inside the issue's worktree.
// Its artifact is the worktree itself, which is why the impl stage is never
// skippable: a worktree's existence says nothing about whether the work in
// it is complete.
type ImplWorkflow struct {
	invoker llm.Invoker
	repoDir string
}

// NewImplWorkflow creates the implementation workflow.
func NewImplWorkflow(invoker llm.Invoker, repoDir string) *ImplWorkflow {
	return &ImplWorkflow{invoker: invoker, repoDir: repoDir}
}

// Invoke renders the implementation prompt (including the spec content) and
// hands it to the agent. The worktree must already exist; the stage runner
// creates it before calling.
func (w *ImplWorkflow) Invoke(inputs map[string]string) map[string]string {
	worktreePath := inputs[InWorktree]
	if worktreePath == "" {
		return fail("impl workflow requires a worktree path")
	}
	if info, err := os.Stat(worktreePath); err != nil || !info.IsDir() {
		return fail(fmt.Sprintf("worktree %s does not exist", worktreePath))
	}

	tmpl, err := prompt.Load("impl.md", w.repoDir)
	if err != nil {
		return fail(err.Error())
	}
	rendered, err := prompt.Render(tmpl, prompt.Vars{
		"issue_number":  inputs[InIssueNumber],
		"issue_title":   inputs[InIssueTitle],
		"spec":          inputs[InUpstream],
		"worktree_path": worktreePath,
		"branch":        inputs[InBranch],
	})
	if err != nil {
		return fail(fmt.Sprintf("render impl prompt: %v", err))
	}

	res := w.invoker.Invoke("", rendered)
	if !res.Success {
		return fail(fmt.Sprintf("implementation agent: %s", res.ErrorMessage))
	}

	return map[string]string{
		KeyErrorMessage: "",
		KeyWorktreePath: worktreePath,
	}
}
