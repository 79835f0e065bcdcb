package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgewright/steward/internal/config"
	"github.com/forgewright/steward/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status [issue-number]",
	Short: "Show pipeline state for one issue, or all persisted runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		store := state.NewStore(cfg.BaseDir)

		if len(args) == 1 {
			issue, err := strconv.Atoi(args[0])
			if err != nil || issue <= 0 {
				return fmt.Errorf("invalid issue number: %s", args[0])
			}
			return printIssueStatus(cmd, store, issue)
		}
		return printAllStatus(cmd, store)
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}

func printIssueStatus(cmd *cobra.Command, store *state.Store, issue int) error {
	st, err := store.Load(issue)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("no persisted state for issue %d", issue)
	}

	if format, _ := cmd.Flags().GetString("format"); format == "json" {
		data, _ := json.MarshalIndent(st, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Issue #%d\n", st.IssueNumber)
	fmt.Fprintf(w, "  Current Stage: %s\n", st.CurrentStage)
	fmt.Fprintf(w, "  Started:       %s\n", st.StartedAt)
	if st.CompletedAt != "" {
		fmt.Fprintf(w, "  Completed:     %s\n", st.CompletedAt)
	}
	if st.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:         %s\n", st.ErrorMessage)
	}

	fmt.Fprintln(w, "  Stages:")
	for _, stage := range config.StageOrder {
		res, ok := st.StageResults[stage]
		if !ok {
			fmt.Fprintf(w, "    %-8s pending\n", stage)
			continue
		}
		line := fmt.Sprintf("    %-8s %-8s attempts=%d", stage, res.Status, res.Attempts)
		if res.ArtifactPath != "" {
			line += "  " + res.ArtifactPath
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func printAllStatus(cmd *cobra.Command, store *state.Store) error {
	issues, err := store.Issues()
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No persisted runs found.")
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-8s %-8s %-4s %s\n", "ISSUE", "STAGE", "ATT", "ERROR")
	fmt.Fprintf(w, "%-8s %-8s %-4s %s\n",
		strings.Repeat("-", 8), strings.Repeat("-", 8), strings.Repeat("-", 4), strings.Repeat("-", 5))
	for _, issue := range issues {
		st, err := store.Load(issue)
		if err != nil || st == nil {
			continue
		}
		msg := st.ErrorMessage
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		fmt.Fprintf(w, "%-8d %-8s %-4d %s\n",
			st.IssueNumber, st.CurrentStage, st.StageAttempts[st.CurrentStage], msg)
	}
	return nil
}
