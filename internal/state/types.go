package state

import (
	"fmt"
	"time"

	"github.com/forgewright/steward/internal/config"
)

// Status classifies the outcome of a single stage attempt.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
)

// Terminal reports whether the status halts the pipeline (failed or blocked).
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusBlocked
}

// StageResult is the outcome of one stage attempt. Results are created fresh
// per attempt and never mutated afterwards; a retry supersedes the previous
// result with a new value.
type StageResult struct {
	Status          Status  `json:"status"`
	ArtifactPath    string  `json:"artifact_path"`
	ErrorMessage    string  `json:"error_message"`
	DurationSeconds float64 `json:"duration_seconds"`
	Attempts        int     `json:"attempts"`
}

// genericFailure is substituted when a failed or blocked result arrives
// without an error message, so reporting never shows an empty reason.
const genericFailure = "stage did not report an error message"

// NewStageResult constructs a result, enforcing that failed and blocked
// outcomes always carry a non-empty message.
func NewStageResult(status Status, artifactPath, errorMessage string, duration time.Duration) StageResult {
	if status.Terminal() && errorMessage == "" {
		errorMessage = genericFailure
	}
	return StageResult{
		Status:          status,
		ArtifactPath:    artifactPath,
		ErrorMessage:    errorMessage,
		DurationSeconds: duration.Seconds(),
	}
}

// State is the persistent record of one issue's pipeline run.
//
// CurrentStage always names the next stage to attempt; it advances only when
// the corresponding StageResult is passed or skipped. State values are never
// mutated in place: ApplyResult returns a new State and leaves its input
// untouched.
type State struct {
	IssueNumber  int    `json:"issue_number"`
	RunID        string `json:"run_id"`
	CurrentStage string `json:"current_stage"`

	TriageArtifact string `json:"triage_artifact"`
	LLDArtifact    string `json:"lld_artifact"`
	SpecArtifact   string `json:"spec_artifact"`
	ImplArtifact   string `json:"impl_artifact"`
	PRArtifact     string `json:"pr_artifact"`

	StageResults  map[string]StageResult `json:"stage_results"`
	StageAttempts map[string]int         `json:"stage_attempts"`

	StartedAt      string `json:"started_at"`
	StageStartedAt string `json:"stage_started_at"`
	CompletedAt    string `json:"completed_at"`

	Config       *config.Config `json:"config"`
	ErrorMessage string         `json:"error_message"`
}

// New creates the initial state for an issue. The config is snapshotted so
// later edits by the caller do not leak into the persisted run.
func New(issueNumber int, cfg *config.Config) (*State, error) {
	if issueNumber <= 0 {
		return nil, fmt.Errorf("invalid issue number %d: must be positive", issueNumber)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return &State{
		IssueNumber:   issueNumber,
		CurrentStage:  config.StageTriage,
		StageResults:  map[string]StageResult{},
		StageAttempts: map[string]int{},
		StartedAt:     time.Now().UTC().Format(time.RFC3339),
		Config:        cfg.Clone(),
	}, nil
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	out := *s
	out.StageResults = make(map[string]StageResult, len(s.StageResults))
	for k, v := range s.StageResults {
		out.StageResults[k] = v
	}
	out.StageAttempts = make(map[string]int, len(s.StageAttempts))
	for k, v := range s.StageAttempts {
		out.StageAttempts[k] = v
	}
	if s.Config != nil {
		out.Config = s.Config.Clone()
	}
	return &out
}

// Done reports whether the pipeline has run to completion.
func (s *State) Done() bool {
	return s.CurrentStage == config.StageDone
}

// ArtifactFor returns the recorded artifact path for a stage.
func (s *State) ArtifactFor(stage string) string {
	switch stage {
	case config.StageTriage:
		return s.TriageArtifact
	case config.StageLLD:
		return s.LLDArtifact
	case config.StageSpec:
		return s.SpecArtifact
	case config.StageImpl:
		return s.ImplArtifact
	case config.StagePR:
		return s.PRArtifact
	}
	return ""
}

func setArtifact(s *State, stage, path string) {
	switch stage {
	case config.StageTriage:
		s.TriageArtifact = path
	case config.StageLLD:
		s.LLDArtifact = path
	case config.StageSpec:
		s.SpecArtifact = path
	case config.StageImpl:
		s.ImplArtifact = path
	case config.StagePR:
		s.PRArtifact = path
	}
}

// ApplyResult is the single transition function of the state machine.
//
// On passed or skipped it records the result, copies a non-empty artifact
// path into the stage's artifact field, clears any prior error, and advances
// CurrentStage; reaching done stamps CompletedAt. On failed or blocked it
// records the result and error message without advancing. The input state is
// never modified.
func ApplyResult(s *State, stage string, result StageResult) *State {
	next := s.Clone()
	next.StageResults[stage] = result
	next.StageAttempts[stage] = result.Attempts

	if result.Status.Terminal() {
		next.ErrorMessage = result.ErrorMessage
		return next
	}

	if result.ArtifactPath != "" {
		setArtifact(next, stage, result.ArtifactPath)
	}
	next.ErrorMessage = ""
	next.CurrentStage = config.NextStage(stage)
	if next.CurrentStage == config.StageDone {
		next.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return next
}
