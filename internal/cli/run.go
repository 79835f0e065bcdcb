package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgewright/steward/internal/audit"
	"github.com/forgewright/steward/internal/config"
	"github.com/forgewright/steward/internal/github"
	"github.com/forgewright/steward/internal/llm"
	"github.com/forgewright/steward/internal/orchestrator"
	"github.com/forgewright/steward/internal/stage"
	"github.com/forgewright/steward/internal/workflow"
	"github.com/forgewright/steward/internal/worktree"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for a single issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, _ := cmd.Flags().GetInt("issue")
		if issue <= 0 {
			return fmt.Errorf("--issue is required and must be positive")
		}

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		resumeFrom, _ := cmd.Flags().GetString("resume-from")

		// Interrupts exit here, at the CLI boundary. State was persisted
		// after the last completed attempt, so the run is resumable; the
		// lock's stale-PID check clears the abandoned lock on the next run.
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigc)
		go func() {
			<-sigc
			fmt.Fprintf(os.Stderr, "\ninterrupted — resume with: steward run --issue %d\n", issue)
			os.Exit(ExitInterrupt)
		}()

		db := openAuditDB(cfg)
		if db != nil {
			defer db.Close()
		}

		credential := ""
		if len(cfg.Credentials) > 0 {
			credential = cfg.Credentials[0]
		}

		orch := orchestrator.New(cfg, buildRunner(cfg, issue, credential, cmd.ErrOrStderr()), db)
		orch.SetProgress(cmd.ErrOrStderr())

		res, err := orch.Orchestrate(issue, orchestrator.Options{
			DryRun:     dryRun,
			ResumeFrom: resumeFrom,
		})
		if err != nil {
			return err
		}
		return printRunSummary(cmd, res)
	},
}

func init() {
	runCmd.Flags().Int("issue", 0, "GitHub issue number (required)")
	runCmd.Flags().String("resume-from", "", "Resume a persisted run from the named stage")
	addPipelineFlags(runCmd)
	runCmd.MarkFlagRequired("issue")
}

// printRunSummary reports a finished run and decides the command's error.
// Blocked runs are reported distinctly from failures but share exit code 1.
func printRunSummary(cmd *cobra.Command, res *orchestrator.Result) error {
	w := cmd.OutOrStdout()
	switch {
	case res.Success:
		color.New(color.FgGreen).Fprintf(w, "✓ issue %d: pipeline complete (%.1fs)\n",
			res.IssueNumber, res.Duration.Seconds())
		return nil
	case res.Blocked:
		color.New(color.FgYellow).Fprintf(w, "⏸ issue %d: blocked at stage %s, awaiting approval\n",
			res.IssueNumber, res.FinalStage)
		fmt.Fprintf(w, "  %s\n", res.ErrorSummary)
		return errPipelineFailed
	default:
		color.New(color.FgRed).Fprintf(w, "✗ issue %d: pipeline failed at stage %s after %d attempt(s) (%.1fs)\n",
			res.IssueNumber, res.FinalStage, res.Attempts, res.Duration.Seconds())
		fmt.Fprintf(w, "  %s\n", res.ErrorSummary)
		return errPipelineFailed
	}
}

// buildRunner assembles the stage runner for one issue: tracker client,
// worktree manager, LLM invoker, and the per-stage workflows.
func buildRunner(cfg *config.Config, issue int, credential string, progress io.Writer) *stage.Runner {
	sub := &github.ExecRunner{}
	gh := github.NewClientWithGit(sub, sub)
	wt := worktree.NewManager(sub, cfg.RepoDir)
	invoker := llm.NewCLIInvoker(&llm.ExecRunner{}, cfg.Model, credential)

	artifactDir := stage.ArtifactDir(cfg.BaseDir, issue)
	workflows := map[string]workflow.Workflow{
		config.StageTriage: workflow.NewTriageWorkflow(invoker, cfg.RepoDir, artifactDir),
		config.StageLLD:    workflow.NewLLDWorkflow(invoker, cfg.RepoDir, artifactDir),
		config.StageSpec:   workflow.NewSpecWorkflow(invoker, cfg.RepoDir, artifactDir),
		config.StageImpl:   workflow.NewImplWorkflow(invoker, cfg.RepoDir),
	}

	r := stage.NewRunner(cfg, gh, gh, wt, workflows)
	if progress != nil {
		r.SetProgress(progress)
	}
	return r
}

// openAuditDB opens the event database. Audit is best-effort: a failure to
// open it degrades to shard-only logging with a warning.
func openAuditDB(cfg *config.Config) *audit.DB {
	path, err := audit.DefaultDBPath(cfg.BaseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit db unavailable: %v\n", err)
		return nil
	}
	db, err := audit.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit db unavailable: %v\n", err)
		return nil
	}
	if err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit db migration failed: %v\n", err)
		db.Close()
		return nil
	}
	return db
}
