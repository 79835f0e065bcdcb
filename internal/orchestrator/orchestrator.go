// Package orchestrator drives the five-stage pipeline for a single issue:
// lock, load-or-create state, run stages with retry, persist after every
// attempt, release the lock on the way out.
package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgewright/steward/internal/audit"
	"github.com/forgewright/steward/internal/config"
	"github.com/forgewright/steward/internal/state"
)

// StageRunner executes one attempt of a named stage.
type StageRunner interface {
	Run(st *state.State, stage string) state.StageResult
}

// Options control a single Orchestrate call.
type Options struct {
	DryRun     bool
	ResumeFrom string // empty means continue from the persisted stage
}

// Result summarizes a pipeline run for the CLI.
type Result struct {
	IssueNumber  int
	Success      bool
	Blocked      bool
	FinalStage   string
	Attempts     int
	Duration     time.Duration
	ErrorSummary string
}

// Orchestrator wires the stage runner to persistence, locking, and audit.
type Orchestrator struct {
	cfg    *config.Config
	store  *state.Store
	locker *state.Locker
	runner StageRunner

	db       *audit.DB // optional
	progress io.Writer
	sleep    func(time.Duration)
	now      func() time.Time
}

// New creates an orchestrator. db may be nil; audit shards are always written.
func New(cfg *config.Config, runner StageRunner, db *audit.DB) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		store:  state.NewStore(cfg.BaseDir),
		locker: state.NewLocker(cfg.BaseDir),
		runner: runner,
		db:     db,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// SetProgress sets a writer for live progress output.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, format+"\n", args...)
	}
}

// Orchestrate runs the pipeline for one issue to completion, a blocked pause,
// or exhausted retries. Lock conflicts surface as *state.ErrLocked;
// configuration problems as plain errors. Everything that happens inside the
// pipeline itself comes back in the Result, not as an error.
func (o *Orchestrator) Orchestrate(issue int, opts Options) (*Result, error) {
	if issue <= 0 {
		return nil, fmt.Errorf("invalid issue number %d: must be positive", issue)
	}
	if errs := config.Validate(o.cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	if opts.DryRun {
		return o.plan(issue, opts)
	}

	if err := o.locker.Acquire(issue); err != nil {
		return nil, err
	}
	defer o.locker.Release(issue)

	st, err := o.prepareState(issue, opts)
	if err != nil {
		return nil, err
	}

	shard, err := audit.NewShard(o.cfg.BaseDir, issue, st.RunID)
	if err != nil {
		return nil, fmt.Errorf("open audit shard: %w", err)
	}

	start := o.now()
	o.audit(shard, issue, st.RunID, "run_started", st.CurrentStage, 0, "")

	res := o.drive(st, shard)
	res.Duration = o.now().Sub(start)

	event := "run_failed"
	switch {
	case res.Success:
		event = "run_completed"
	case res.Blocked:
		event = "run_blocked"
	}
	o.audit(shard, issue, st.RunID, event, res.FinalStage, res.Attempts, res.ErrorSummary)
	return res, nil
}

// prepareState loads persisted state or creates fresh state, applying resume
// semantics: a resumed run keeps its artifacts and earlier stage results but
// takes this invocation's configuration.
func (o *Orchestrator) prepareState(issue int, opts Options) (*state.State, error) {
	st, err := o.store.Load(issue)
	if err != nil {
		return nil, err
	}

	switch {
	case st == nil && opts.ResumeFrom != "":
		return nil, fmt.Errorf("cannot resume issue %d from %q: no persisted state", issue, opts.ResumeFrom)
	case st == nil:
		st, err = state.New(issue, o.cfg)
		if err != nil {
			return nil, err
		}
	case opts.ResumeFrom != "":
		st, err = state.PrepareResume(st, opts.ResumeFrom, o.cfg)
		if err != nil {
			return nil, err
		}
		o.logf("resuming issue %d from stage %s", issue, opts.ResumeFrom)
	case st.Done():
		// Re-running a finished issue is a clean no-op, not a resume.
		o.logf("issue %d already complete", issue)
	default:
		st, err = state.PrepareResume(st, st.CurrentStage, o.cfg)
		if err != nil {
			return nil, err
		}
		if st.CurrentStage != config.StageTriage || len(st.StageResults) > 0 {
			o.logf("continuing issue %d at stage %s", issue, st.CurrentStage)
		}
	}

	if st.RunID == "" {
		st.RunID = uuid.New().String()
	}
	return st, nil
}

// drive is the stage loop: init stamps the stage start, run executes with
// retry, route decides whether to advance, finish, or stop on a terminal
// result.
func (o *Orchestrator) drive(st *state.State, shard *audit.Shard) *Result {
	res := &Result{IssueNumber: st.IssueNumber}

	for !st.Done() {
		stage := st.CurrentStage
		st.StageStartedAt = o.now().UTC().Format(time.RFC3339)
		o.logf("▶ stage %s", stage)
		o.audit(shard, st.IssueNumber, st.RunID, "stage_started", stage, 0, "")

		var result state.StageResult
		if o.cfg.Gates[stage] {
			// Gates beat retry: a gated stage is blocked immediately,
			// without invoking the workflow.
			result = state.NewStageResult(state.StatusBlocked, "",
				fmt.Sprintf("stage %s is gated: human approval required before it may run", stage), 0)
			result.Attempts = 1
			st = state.ApplyResult(st, stage, result)
			if err := o.store.Save(st); err != nil {
				return o.fatal(res, stage, result, fmt.Sprintf("persist state: %v", err))
			}
			o.observeAttempt(shard, st, stage, 1, result)
		} else {
			r := newRetrier(o.cfg.MaxStageRetries, o.retryDelay())
			r.sleep = o.sleep
			r.observe = func(attempt int, result state.StageResult) {
				o.observeAttempt(shard, st, stage, attempt, result)
			}
			var err error
			st, result, err = r.run(st, stage,
				func(s *state.State) state.StageResult { return o.runner.Run(s, stage) },
				o.store.Save)
			if err != nil {
				return o.fatal(res, stage, result, err.Error())
			}
		}

		if result.Status.Terminal() {
			res.FinalStage = stage
			res.Attempts = result.Attempts
			res.Blocked = result.Status == state.StatusBlocked
			res.ErrorSummary = fmt.Sprintf("stage %s %s after %d attempt(s): %s. Resume with --resume-from %s",
				stage, result.Status, result.Attempts, result.ErrorMessage, stage)
			return res
		}
		o.logf("  stage %s %s (%.1fs)", stage, result.Status, result.DurationSeconds)
	}

	res.Success = true
	res.FinalStage = config.StageDone
	return res
}

func (o *Orchestrator) fatal(res *Result, stage string, result state.StageResult, msg string) *Result {
	res.FinalStage = stage
	res.Attempts = result.Attempts
	res.ErrorSummary = fmt.Sprintf("stage %s: %s. Resume with --resume-from %s", stage, msg, stage)
	return res
}

// plan describes what a run would do without touching locks, state, or the
// workflows.
func (o *Orchestrator) plan(issue int, opts Options) (*Result, error) {
	start := opts.ResumeFrom
	if start == "" {
		if st, err := o.store.Load(issue); err == nil && st != nil {
			start = st.CurrentStage
		} else {
			start = config.StageTriage
		}
	}
	if !config.ValidStage(start) {
		return nil, fmt.Errorf("invalid stage %q", start)
	}

	o.logf("dry run for issue %d (starting at %s):", issue, start)
	active := false
	for _, stage := range config.StageOrder {
		if stage == start {
			active = true
		}
		if !active {
			continue
		}
		switch {
		case o.cfg.Gates[stage]:
			o.logf("  %s: gated, would block awaiting approval", stage)
		case o.cfg.SkipExisting[stage]:
			o.logf("  %s: would run (skipped if a valid artifact exists)", stage)
		default:
			o.logf("  %s: would run", stage)
		}
	}
	return &Result{IssueNumber: issue, Success: true, FinalStage: start}, nil
}

func (o *Orchestrator) retryDelay() time.Duration {
	return time.Duration(o.cfg.RetryDelaySeconds * float64(time.Second))
}

// observeAttempt records one stage attempt in the audit shard and, when
// configured, the event database. Audit failures never affect the run.
func (o *Orchestrator) observeAttempt(shard *audit.Shard, st *state.State, stage string, attempt int, result state.StageResult) {
	detail := result.ErrorMessage
	if detail == "" {
		detail = result.ArtifactPath
	}
	o.audit(shard, st.IssueNumber, st.RunID, "stage_"+string(result.Status), stage, attempt, detail)
	if o.db != nil {
		if err := o.db.LogStageAttempt(st.IssueNumber, st.RunID, stage, attempt,
			string(result.Status), result.ArtifactPath, result.ErrorMessage, result.DurationSeconds); err != nil {
			o.logf("audit db write failed: %v", err)
		}
	}
}

func (o *Orchestrator) audit(shard *audit.Shard, issue int, runID, event, stage string, attempt int, detail string) {
	if shard != nil {
		if err := shard.Append(event, stage, attempt, detail); err != nil {
			o.logf("audit shard write failed: %v", err)
		}
	}
	if o.db != nil {
		if err := o.db.LogPipelineEvent(issue, runID, event, stage, attempt, detail); err != nil {
			o.logf("audit db write failed: %v", err)
		}
	}
}
