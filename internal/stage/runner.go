// Package stage runs the five pipeline stages, normalizing whatever their
// sub-workflows report into a uniform StageResult.
package stage

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/forgewright/steward/internal/config"
	"github.com/forgewright/steward/internal/github"
	"github.com/forgewright/steward/internal/state"
	"github.com/forgewright/steward/internal/verdict"
	"github.com/forgewright/steward/internal/workflow"
	"github.com/forgewright/steward/internal/worktree"
)

// IssueFetcher is the subset of the github client the runner needs.
type IssueFetcher interface {
	GetIssue(number int) (*github.Issue, error)
}

// PRClient covers the pr stage's tracker operations.
type PRClient interface {
	PushBranch(dir, branch string) error
	FindPRByBranch(branch string) (string, error)
	CreatePR(opts github.PRCreateOpts) (string, error)
}

// WorktreeManager covers the impl stage's worktree operations.
type WorktreeManager interface {
	Ensure(issue int, base string) (path, branch string, err error)
}

// Runner decides skip-vs-execute for each stage and invokes its workflow.
type Runner struct {
	cfg       *config.Config
	gh        IssueFetcher
	pr        PRClient
	wt        WorktreeManager
	workflows map[string]workflow.Workflow
	progress  io.Writer
}

// NewRunner creates a stage runner. workflows must hold entries for triage,
// lld, spec, and impl; the pr stage talks to the tracker directly.
func NewRunner(cfg *config.Config, gh IssueFetcher, pr PRClient, wt WorktreeManager, workflows map[string]workflow.Workflow) *Runner {
	return &Runner{cfg: cfg, gh: gh, pr: pr, wt: wt, workflows: workflows}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (r *Runner) SetProgress(w io.Writer) {
	r.progress = w
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.progress != nil {
		fmt.Fprintf(r.progress, "  → "+format+"\n", args...)
	}
}

// Run executes one attempt of the named stage. Workflow errors never
// propagate: every outcome, including a panic inside a workflow, comes back
// as a StageResult.
func (r *Runner) Run(st *state.State, stageName string) (result state.StageResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			result = state.NewStageResult(state.StatusFailed, "",
				fmt.Sprintf("stage %s panicked: %v", stageName, rec), time.Since(start))
		}
	}()

	if path, skip := ShouldSkip(r.cfg, st.IssueNumber, stageName); skip {
		r.logf("stage %s: valid artifact exists at %s, skipping", stageName, path)
		return state.NewStageResult(state.StatusSkipped, path, "", time.Since(start))
	}

	switch stageName {
	case config.StageTriage, config.StageLLD, config.StageSpec:
		return r.runDocument(st, stageName, start)
	case config.StageImpl:
		return r.runImpl(st, start)
	case config.StagePR:
		return r.runPR(st, start)
	}
	return state.NewStageResult(state.StatusFailed, "",
		fmt.Sprintf("unknown stage %q", stageName), time.Since(start))
}

// runDocument handles the three artifact-drafting stages.
func (r *Runner) runDocument(st *state.State, stageName string, start time.Time) state.StageResult {
	wf, ok := r.workflows[stageName]
	if !ok {
		return state.NewStageResult(state.StatusFailed, "",
			fmt.Sprintf("no workflow registered for stage %q", stageName), time.Since(start))
	}

	inputs, err := r.buildInputs(st, stageName)
	if err != nil {
		return state.NewStageResult(state.StatusFailed, "", err.Error(), time.Since(start))
	}

	r.logf("stage %s: invoking workflow", stageName)
	outputs := wf.Invoke(inputs)
	return r.interpretDocument(stageName, outputs, start)
}

// interpretDocument maps workflow outputs onto the result taxonomy:
// error → failed; review declined → blocked; artifact present → passed;
// anything else → failed.
func (r *Runner) interpretDocument(stageName string, outputs map[string]string, start time.Time) state.StageResult {
	if msg := outputs[workflow.KeyErrorMessage]; msg != "" {
		return state.NewStageResult(state.StatusFailed, "", msg, time.Since(start))
	}

	artifact := outputs[artifactKey(stageName)]
	if v := outputs[workflow.KeyReviewVerdict]; v != "" && !verdict.Decision(v).Approved() {
		return state.NewStageResult(state.StatusBlocked, artifact,
			fmt.Sprintf("review gate declined %s artifact (verdict: %s)", stageName, v), time.Since(start))
	}
	if artifact == "" {
		return state.NewStageResult(state.StatusFailed, "",
			fmt.Sprintf("workflow for stage %s produced no artifact", stageName), time.Since(start))
	}
	if _, err := os.Stat(artifact); err != nil {
		return state.NewStageResult(state.StatusFailed, "",
			fmt.Sprintf("workflow reported artifact %s but it is not on disk", artifact), time.Since(start))
	}
	return state.NewStageResult(state.StatusPassed, artifact, "", time.Since(start))
}

// runImpl creates the worktree if needed and drives the implementation
// workflow inside it.
func (r *Runner) runImpl(st *state.State, start time.Time) state.StageResult {
	wf, ok := r.workflows[config.StageImpl]
	if !ok {
		return state.NewStageResult(state.StatusFailed, "",
			"no workflow registered for stage \"impl\"", time.Since(start))
	}

	path, branch, err := r.wt.Ensure(st.IssueNumber, r.cfg.PRBase)
	if err != nil {
		return state.NewStageResult(state.StatusFailed, "",
			fmt.Sprintf("ensure worktree: %v", err), time.Since(start))
	}
	r.logf("stage impl: worktree %s (branch %s)", path, branch)

	inputs, err := r.buildInputs(st, config.StageImpl)
	if err != nil {
		return state.NewStageResult(state.StatusFailed, "", err.Error(), time.Since(start))
	}
	inputs[workflow.InWorktree] = path
	inputs[workflow.InBranch] = branch

	outputs := wf.Invoke(inputs)
	if msg := outputs[workflow.KeyErrorMessage]; msg != "" {
		return state.NewStageResult(state.StatusFailed, "", msg, time.Since(start))
	}
	wtPath := outputs[workflow.KeyWorktreePath]
	if wtPath == "" {
		return state.NewStageResult(state.StatusFailed, "",
			"impl workflow reported no worktree", time.Since(start))
	}
	return state.NewStageResult(state.StatusPassed, wtPath, "", time.Since(start))
}

// runPR pushes the implementation branch and creates the pull request.
// Its artifact is the PR URL, not a filesystem path. Finding an existing PR
// for the branch short-circuits creation so re-runs are safe.
func (r *Runner) runPR(st *state.State, start time.Time) state.StageResult {
	branch := worktree.Branch(st.IssueNumber)
	dir := st.ImplArtifact
	if dir == "" {
		return state.NewStageResult(state.StatusFailed, "",
			"pr stage requires a completed impl stage (no worktree recorded)", time.Since(start))
	}

	if err := r.pr.PushBranch(dir, branch); err != nil {
		return state.NewStageResult(state.StatusFailed, "",
			fmt.Sprintf("push branch %s: %v", branch, err), time.Since(start))
	}

	if url, err := r.pr.FindPRByBranch(branch); err == nil && url != "" {
		r.logf("stage pr: PR already exists: %s", url)
		return state.NewStageResult(state.StatusPassed, url, "", time.Since(start))
	}

	issue, err := r.gh.GetIssue(st.IssueNumber)
	if err != nil {
		return state.NewStageResult(state.StatusFailed, "",
			fmt.Sprintf("fetch issue for PR title: %v", err), time.Since(start))
	}

	url, err := r.pr.CreatePR(github.PRCreateOpts{
		Title:  issue.Title,
		Body:   fmt.Sprintf("Closes #%d\n\nGenerated by the steward pipeline.", st.IssueNumber),
		Branch: branch,
		Base:   r.cfg.PRBase,
	})
	if err != nil {
		return state.NewStageResult(state.StatusFailed, "",
			fmt.Sprintf("create PR: %v", err), time.Since(start))
	}
	return state.NewStageResult(state.StatusPassed, url, "", time.Since(start))
}

// buildInputs assembles the workflow input map: issue metadata plus the
// upstream artifact's content.
func (r *Runner) buildInputs(st *state.State, stageName string) (map[string]string, error) {
	issue, err := r.gh.GetIssue(st.IssueNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch issue %d: %w", st.IssueNumber, err)
	}

	inputs := map[string]string{
		workflow.InIssueNumber: fmt.Sprintf("%d", st.IssueNumber),
		workflow.InIssueTitle:  issue.Title,
		workflow.InIssueBody:   issue.Body,
		workflow.InLabels:      issue.LabelNames(),
	}

	if upstream := upstreamStage(stageName); upstream != "" {
		if path := st.ArtifactFor(upstream); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read upstream %s artifact %s: %w", upstream, path, err)
			}
			inputs[workflow.InUpstream] = string(data)
		}
	}
	return inputs, nil
}

// upstreamStage returns the stage whose artifact feeds the given stage.
func upstreamStage(stageName string) string {
	switch stageName {
	case config.StageLLD:
		return config.StageTriage
	case config.StageSpec:
		return config.StageLLD
	case config.StageImpl:
		return config.StageSpec
	}
	return ""
}

// artifactKey maps a document stage to its workflow output key.
func artifactKey(stageName string) string {
	switch stageName {
	case config.StageTriage:
		return workflow.KeyTriagePath
	case config.StageLLD:
		return workflow.KeyLLDPath
	case config.StageSpec:
		return workflow.KeySpecPath
	}
	return ""
}
