// Package cli wires the steward commands together.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgewright/steward/internal/config"
	"github.com/forgewright/steward/internal/state"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

// Exit codes returned by Execute.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitLocked    = 2
	ExitInterrupt = 130
)

// errPipelineFailed signals a run that completed with a failed or blocked
// stage; the run command has already printed the summary.
var errPipelineFailed = errors.New("pipeline did not complete")

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "steward — a human-gated issue pipeline",
	Long: `steward drives GitHub issues through a fixed five-stage pipeline
(triage → lld → spec → impl → pr), drafting each artifact with an LLM and
pausing at configured gates for human approval.

State is stored under ~/.steward/ (JSON per issue, SQLite for the audit
trail). Runs are resumable: state is persisted after every stage attempt.`,
	SilenceUsage: true,
}

// Execute runs the CLI and maps errors to process exit codes.
func Execute() int {
	return exitCodeFor(rootCmd.Execute())
}

func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var locked *state.ErrLocked
	if errors.As(err, &locked) {
		return ExitLocked
	}
	return ExitFailure
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a steward config file (default: ./steward.yaml, then ~/.steward/config.yaml)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(auditCmd)
}

// resolveConfig loads the configuration and applies flag overrides. The
// skip/gate flag pairs only take effect when explicitly set, so config-file
// values survive untouched flags.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	setBool := func(flag string, apply func(bool)) {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetBool(flag)
			apply(v)
		}
	}
	setBool("skip-lld", func(v bool) { cfg.SkipExisting[config.StageLLD] = v })
	setBool("no-skip-lld", func(v bool) { cfg.SkipExisting[config.StageLLD] = !v })
	setBool("skip-spec", func(v bool) { cfg.SkipExisting[config.StageSpec] = v })
	setBool("no-skip-spec", func(v bool) { cfg.SkipExisting[config.StageSpec] = !v })
	setBool("gate-pr", func(v bool) { cfg.Gates[config.StagePR] = v })
	setBool("no-gate-pr", func(v bool) { cfg.Gates[config.StagePR] = !v })

	if cmd.Flags().Changed("model") {
		m, _ := cmd.Flags().GetString("model")
		cfg.Model = m
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config: %s\n", e.Error())
		}
		return nil, fmt.Errorf("invalid configuration (%d problem(s))", len(errs))
	}
	return cfg, nil
}

// addPipelineFlags registers the flags shared by run and batch.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("dry-run", false, "Plan only: list what would run, execute nothing")
	cmd.Flags().Bool("skip-lld", false, "Skip the lld stage when a valid artifact already exists")
	cmd.Flags().Bool("no-skip-lld", false, "Always run the lld stage, even with an existing artifact")
	cmd.Flags().Bool("skip-spec", false, "Skip the spec stage when a valid artifact already exists")
	cmd.Flags().Bool("no-skip-spec", false, "Always run the spec stage, even with an existing artifact")
	cmd.Flags().Bool("gate-pr", false, "Require human approval before the pr stage")
	cmd.Flags().Bool("no-gate-pr", false, "Run the pr stage without a human gate")
	cmd.Flags().String("model", "", "Model name passed to the LLM CLI")
	cmd.MarkFlagsMutuallyExclusive("skip-lld", "no-skip-lld")
	cmd.MarkFlagsMutuallyExclusive("skip-spec", "no-skip-spec")
	cmd.MarkFlagsMutuallyExclusive("gate-pr", "no-gate-pr")
}
