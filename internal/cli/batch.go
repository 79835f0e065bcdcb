package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgewright/steward/internal/credential"
	"github.com/forgewright/steward/internal/orchestrator"
	"github.com/forgewright/steward/internal/parallel"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the pipeline for several issues in parallel",
	Long: `batch runs one full pipeline per issue, bounded by max_workers.
Each worker draws a credential from the configured pool; rate-limited
credentials cool down before re-use. Interrupting a batch finishes
in-flight issues and reports the rest as checkpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		issuesFlag, _ := cmd.Flags().GetString("issues")
		issues, err := parseIssueList(issuesFlag)
		if err != nil {
			return err
		}

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		var pool *credential.Pool
		if len(cfg.Credentials) > 0 {
			pool, err = credential.NewPool(cfg.Credentials)
			if err != nil {
				return err
			}
		}

		db := openAuditDB(cfg)
		if db != nil {
			defer db.Close()
		}

		coord := parallel.NewCoordinator(cfg, pool, cmd.ErrOrStderr())
		coord.SetAuditDB(db)
		worker := func(issue int, cred string) error {
			// Each issue gets its own config snapshot; pipelines must not
			// share mutable configuration across workers.
			icfg := cfg.Clone()
			orch := orchestrator.New(icfg, buildRunner(icfg, issue, cred, nil), db)
			res, err := orch.Orchestrate(issue, orchestrator.Options{})
			if err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.ErrorSummary)
			}
			return nil
		}

		summary := coord.Execute(issues, worker, dryRun)
		return printBatchSummary(cmd, summary, dryRun)
	},
}

func init() {
	batchCmd.Flags().String("issues", "", "Comma-separated issue numbers, e.g. 12,14,99 (required)")
	addPipelineFlags(batchCmd)
	batchCmd.MarkFlagRequired("issues")
}

func parseIssueList(s string) ([]int, error) {
	var issues []int
	seen := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid issue number %q", part)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		issues = append(issues, n)
	}
	if len(issues) == 0 {
		return nil, fmt.Errorf("--issues must name at least one issue")
	}
	return issues, nil
}

func printBatchSummary(cmd *cobra.Command, summary *parallel.Summary, dryRun bool) error {
	if dryRun {
		return nil
	}
	w := cmd.OutOrStdout()

	ok := 0
	for _, r := range summary.Results {
		if r.Success {
			ok++
			color.New(color.FgGreen).Fprintf(w, "✓ issue %s (%.1fs)\n", r.ItemID, r.Duration.Seconds())
		} else {
			color.New(color.FgRed).Fprintf(w, "✗ issue %s: %s\n", r.ItemID, r.Error)
		}
	}
	fmt.Fprintf(w, "%d/%d issue(s) completed\n", ok, len(summary.Results))

	if len(summary.Checkpoints) > 0 {
		fmt.Fprintf(w, "checkpointed (not started): %s\n", strings.Join(summary.Checkpoints, ", "))
		fmt.Fprintf(w, "re-run with: steward batch --issues %s\n", strings.Join(summary.Checkpoints, ","))
	}

	if summary.Interrupted {
		return errPipelineFailed
	}
	if summary.Failed() > 0 {
		return errPipelineFailed
	}
	return nil
}
