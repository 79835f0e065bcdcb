package stage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgewright/steward/internal/config"
	"github.com/forgewright/steward/internal/github"
	"github.com/forgewright/steward/internal/state"
	"github.com/forgewright/steward/internal/workflow"
)

type fakeIssues struct {
	issue *github.Issue
	err   error
}

func (f *fakeIssues) GetIssue(number int) (*github.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.issue, nil
}

type fakePR struct {
	pushErr   error
	existing  string
	created   string
	createErr error
	pushed    []string
}

func (f *fakePR) PushBranch(dir, branch string) error {
	f.pushed = append(f.pushed, branch)
	return f.pushErr
}

func (f *fakePR) FindPRByBranch(branch string) (string, error) {
	return f.existing, nil
}

func (f *fakePR) CreatePR(opts github.PRCreateOpts) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.created, nil
}

type fakeWorktrees struct {
	path   string
	branch string
	err    error
}

func (f *fakeWorktrees) Ensure(issue int, base string) (string, string, error) {
	return f.path, f.branch, f.err
}

type fakeWorkflow struct {
	outputs map[string]string
	inputs  map[string]string
	panics  bool
}

func (f *fakeWorkflow) Invoke(inputs map[string]string) map[string]string {
	f.inputs = inputs
	if f.panics {
		panic("workflow exploded")
	}
	return f.outputs
}

func testIssue() *github.Issue {
	return &github.Issue{Number: 42, Title: "fix the thing", Body: "it is broken", State: "open"}
}

func newTestRunner(t *testing.T, workflows map[string]workflow.Workflow, pr *fakePR, wt *fakeWorktrees) (*Runner, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.BaseDir = t.TempDir()
	if pr == nil {
		pr = &fakePR{}
	}
	if wt == nil {
		wt = &fakeWorktrees{path: "/tmp/wt", branch: "steward/issue-42"}
	}
	return NewRunner(cfg, &fakeIssues{issue: testIssue()}, pr, wt, workflows), cfg
}

func mustState(t *testing.T, cfg *config.Config) *state.State {
	t.Helper()
	st, err := state.New(42, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestRunDocumentStagePassed(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "triage.md")
	if err := os.WriteFile(artifact, []byte("## Classification\nbug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	wf := &fakeWorkflow{outputs: map[string]string{
		workflow.KeyTriagePath:    artifact,
		workflow.KeyReviewVerdict: "approve",
	}}
	r, cfg := newTestRunner(t, map[string]workflow.Workflow{config.StageTriage: wf}, nil, nil)
	st := mustState(t, cfg)

	res := r.Run(st, config.StageTriage)
	if res.Status != state.StatusPassed {
		t.Fatalf("status = %s, want passed (err: %s)", res.Status, res.ErrorMessage)
	}
	if res.ArtifactPath != artifact {
		t.Errorf("artifact = %q, want %q", res.ArtifactPath, artifact)
	}
	if wf.inputs[workflow.InIssueTitle] != "fix the thing" {
		t.Errorf("issue title not passed to workflow: %q", wf.inputs[workflow.InIssueTitle])
	}
}

func TestRunDocumentStageBlockedOnVerdict(t *testing.T) {
	wf := &fakeWorkflow{outputs: map[string]string{
		workflow.KeyTriagePath:    "/tmp/whatever.md",
		workflow.KeyReviewVerdict: "reject",
	}}
	r, cfg := newTestRunner(t, map[string]workflow.Workflow{config.StageTriage: wf}, nil, nil)

	res := r.Run(mustState(t, cfg), config.StageTriage)
	if res.Status != state.StatusBlocked {
		t.Fatalf("status = %s, want blocked", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "reject") {
		t.Errorf("message should name the verdict, got %q", res.ErrorMessage)
	}
}

func TestRunDocumentStageFailed(t *testing.T) {
	wf := &fakeWorkflow{outputs: map[string]string{
		workflow.KeyErrorMessage: "model timed out",
	}}
	r, cfg := newTestRunner(t, map[string]workflow.Workflow{config.StageLLD: wf}, nil, nil)

	res := r.Run(mustState(t, cfg), config.StageLLD)
	if res.Status != state.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.ErrorMessage != "model timed out" {
		t.Errorf("error = %q", res.ErrorMessage)
	}
}

func TestRunSkipsWithExistingArtifact(t *testing.T) {
	wf := &fakeWorkflow{panics: true} // must never be invoked
	r, cfg := newTestRunner(t, map[string]workflow.Workflow{config.StageTriage: wf}, nil, nil)

	writeArtifact(t, cfg.BaseDir, 42, "triage.md", "## Classification\nbug\n")

	res := r.Run(mustState(t, cfg), config.StageTriage)
	if res.Status != state.StatusSkipped {
		t.Fatalf("status = %s, want skipped", res.Status)
	}
	if res.ArtifactPath == "" {
		t.Error("skipped result should carry the detected artifact path")
	}
}

func TestRunContainsWorkflowPanic(t *testing.T) {
	wf := &fakeWorkflow{panics: true}
	r, cfg := newTestRunner(t, map[string]workflow.Workflow{config.StageSpec: wf}, nil, nil)

	res := r.Run(mustState(t, cfg), config.StageSpec)
	if res.Status != state.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "panicked") {
		t.Errorf("message should report the panic, got %q", res.ErrorMessage)
	}
}

func TestRunImplEnsuresWorktree(t *testing.T) {
	wf := &fakeWorkflow{outputs: map[string]string{
		workflow.KeyWorktreePath: "/tmp/wt",
	}}
	wt := &fakeWorktrees{path: "/tmp/wt", branch: "steward/issue-42"}
	r, cfg := newTestRunner(t, map[string]workflow.Workflow{config.StageImpl: wf}, nil, wt)

	res := r.Run(mustState(t, cfg), config.StageImpl)
	if res.Status != state.StatusPassed {
		t.Fatalf("status = %s, want passed (err: %s)", res.Status, res.ErrorMessage)
	}
	if res.ArtifactPath != "/tmp/wt" {
		t.Errorf("artifact = %q", res.ArtifactPath)
	}
	if wf.inputs[workflow.InBranch] != "steward/issue-42" {
		t.Errorf("branch not passed to workflow: %q", wf.inputs[workflow.InBranch])
	}
}

func TestRunImplWorktreeFailure(t *testing.T) {
	wt := &fakeWorktrees{err: errors.New("git worktree add: disk full")}
	r, cfg := newTestRunner(t, map[string]workflow.Workflow{config.StageImpl: &fakeWorkflow{}}, nil, wt)

	res := r.Run(mustState(t, cfg), config.StageImpl)
	if res.Status != state.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "worktree") {
		t.Errorf("message = %q", res.ErrorMessage)
	}
}

func TestRunPRCreatesAndReturnsURL(t *testing.T) {
	pr := &fakePR{created: "https://github.com/forgewright/demo/pull/7"}
	r, cfg := newTestRunner(t, nil, pr, nil)

	st := mustState(t, cfg)
	st.ImplArtifact = "/tmp/wt"

	res := r.Run(st, config.StagePR)
	if res.Status != state.StatusPassed {
		t.Fatalf("status = %s, want passed (err: %s)", res.Status, res.ErrorMessage)
	}
	if res.ArtifactPath != pr.created {
		t.Errorf("artifact = %q, want PR URL", res.ArtifactPath)
	}
	if len(pr.pushed) != 1 || pr.pushed[0] != "steward/issue-42" {
		t.Errorf("pushed branches = %v", pr.pushed)
	}
}

func TestRunPRReusesExistingPR(t *testing.T) {
	pr := &fakePR{
		existing:  "https://github.com/forgewright/demo/pull/3",
		createErr: errors.New("CreatePR must not be called"),
	}
	r, cfg := newTestRunner(t, nil, pr, nil)

	st := mustState(t, cfg)
	st.ImplArtifact = "/tmp/wt"

	res := r.Run(st, config.StagePR)
	if res.Status != state.StatusPassed {
		t.Fatalf("status = %s, want passed (err: %s)", res.Status, res.ErrorMessage)
	}
	if res.ArtifactPath != pr.existing {
		t.Errorf("artifact = %q, want existing PR URL", res.ArtifactPath)
	}
}

func TestRunPRRequiresImplArtifact(t *testing.T) {
	r, cfg := newTestRunner(t, nil, nil, nil)

	res := r.Run(mustState(t, cfg), config.StagePR)
	if res.Status != state.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "impl") {
		t.Errorf("message = %q", res.ErrorMessage)
	}
}

func TestRunUnknownStage(t *testing.T) {
	r, cfg := newTestRunner(t, nil, nil, nil)

	res := r.Run(mustState(t, cfg), "deploy")
	if res.Status != state.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
}
