package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgewright/steward/internal/llm"
	"github.com/forgewright/steward/internal/prompt"
	"github.com/forgewright/steward/internal/verdict"
)

// DocumentWorkflow drafts a markdown artifact with the model and passes it
// through a review gate before reporting success. It backs the triage, lld,
// and spec stages.
type DocumentWorkflow struct {
	invoker     llm.Invoker
	repoDir     string
	artifactDir string

	kind         string // "triage report", "low-level design", "implementation spec"
	templateName string // drafting template, e.g. "lld.md"
	fileName     string // artifact file name within artifactDir
	outputKey    string // KeyTriagePath, KeyLLDPath, or KeySpecPath
	upstreamVar  string // template variable fed from InUpstream, "" if unused
}

// NewTriageWorkflow drafts the triage report for an issue.
func NewTriageWorkflow(invoker llm.Invoker, repoDir, artifactDir string) *DocumentWorkflow {
	return &DocumentWorkflow{
		invoker:      invoker,
		repoDir:      repoDir,
		artifactDir:  artifactDir,
		kind:         "triage report",
		templateName: "triage.md",
		fileName:     "triage.md",
		outputKey:    KeyTriagePath,
	}
}

// NewLLDWorkflow drafts the low-level design from the triage report.
func NewLLDWorkflow(invoker llm.Invoker, repoDir, artifactDir string) *DocumentWorkflow {
	return &DocumentWorkflow{
		invoker:      invoker,
		repoDir:      repoDir,
		artifactDir:  artifactDir,
		kind:         "low-level design",
		templateName: "lld.md",
		fileName:     "lld.md",
		outputKey:    KeyLLDPath,
		upstreamVar:  "triage_report",
	}
}

// NewSpecWorkflow drafts the implementation spec from the approved design.
func NewSpecWorkflow(invoker llm.Invoker, repoDir, artifactDir string) *DocumentWorkflow {
	return &DocumentWorkflow{
		invoker:      invoker,
		repoDir:      repoDir,
		artifactDir:  artifactDir,
		kind:         "implementation spec",
		templateName: "spec.md",
		fileName:     "spec.md",
		outputKey:    KeySpecPath,
		upstreamVar:  "lld",
	}
}

// Invoke drafts the document, persists it, and runs the review gate.
// A declined review is not an error: the artifact path and verdict are both
// reported so the stage runner can classify the outcome as blocked.
func (w *DocumentWorkflow) Invoke(inputs map[string]string) map[string]string {
	vars := prompt.Vars{
		"issue_number": inputs[InIssueNumber],
		"issue_title":  inputs[InIssueTitle],
		"issue_body":   inputs[InIssueBody],
		"labels":       inputs[InLabels],
	}
	if w.upstreamVar != "" {
		vars[w.upstreamVar] = inputs[InUpstream]
	}

	tmpl, err := prompt.Load(w.templateName, w.repoDir)
	if err != nil {
		return fail(err.Error())
	}
	rendered, err := prompt.Render(tmpl, vars)
	if err != nil {
		return fail(fmt.Sprintf("render %s prompt: %v", w.templateName, err))
	}

	draft := w.invoker.Invoke("", rendered)
	if !draft.Success {
		return fail(fmt.Sprintf("draft %s: %s", w.kind, draft.ErrorMessage))
	}

	path := filepath.Join(w.artifactDir, w.fileName)
	if err := os.MkdirAll(w.artifactDir, 0o755); err != nil {
		return fail(fmt.Sprintf("mkdir artifact dir: %v", err))
	}
	if err := os.WriteFile(path, []byte(draft.Response+"\n"), 0o644); err != nil {
		return fail(fmt.Sprintf("write %s: %v", path, err))
	}

	decision, err := w.review(inputs, draft.Response)
	if err != nil {
		return fail(err.Error())
	}

	out := map[string]string{
		KeyErrorMessage:  "",
		KeyReviewVerdict: string(decision),
		w.outputKey:      path,
	}
	return out
}

// review runs the review gate over the drafted artifact.
func (w *DocumentWorkflow) review(inputs map[string]string, artifact string) (verdict.Decision, error) {
	tmpl, err := prompt.Load("review.md", w.repoDir)
	if err != nil {
		return verdict.Unknown, err
	}
	rendered, err := prompt.Render(tmpl, prompt.Vars{
		"artifact_kind": w.kind,
		"issue_number":  inputs[InIssueNumber],
		"artifact":      artifact,
	})
	if err != nil {
		return verdict.Unknown, fmt.Errorf("render review prompt: %w", err)
	}

	res := w.invoker.Invoke("You are a strict reviewer.", rendered)
	if !res.Success {
		return verdict.Unknown, fmt.Errorf("review %s: %s", w.kind, res.ErrorMessage)
	}
	return verdict.Parse(res.Response), nil
}
