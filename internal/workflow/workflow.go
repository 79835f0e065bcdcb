// Package workflow holds the sub-workflow boundary: each pipeline stage
// wraps one Workflow whose inputs and outputs are plain string maps, so
// stage runners stay decoupled from how artifacts are produced.
package workflow

// Output keys shared across workflows. Every output map carries
// KeyErrorMessage, empty on success. Stage-specific artifact keys
// (triage_path, lld_path, ...) are declared where each workflow is built.
const (
	KeyErrorMessage  = "error_message"
	KeyReviewVerdict = "review_verdict"

	KeyTriagePath   = "triage_path"
	KeyLLDPath      = "lld_path"
	KeySpecPath     = "spec_path"
	KeyWorktreePath = "worktree_path"
	KeyPRURL        = "pr_url"
)

// Input keys provided by stage runners.
const (
	InIssueNumber = "issue_number"
	InIssueTitle  = "issue_title"
	InIssueBody   = "issue_body"
	InLabels      = "labels"
	InUpstream    = "upstream" // content of the previous stage's artifact
	InWorktree    = "worktree_path"
	InBranch      = "branch"
)

// Workflow invokes a sub-workflow. Implementations never panic and never
// return a nil map; failures are reported through KeyErrorMessage.
type Workflow interface {
	Invoke(inputs map[string]string) map[string]string
}

// fail builds an error-only output map.
func fail(msg string) map[string]string {
	return map[string]string{KeyErrorMessage: msg}
}
