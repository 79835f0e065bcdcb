package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forgewright/steward/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and maintain the audit trail",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <issue-number>",
	Short: "Show recent pipeline events for an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := strconv.Atoi(args[0])
		if err != nil || issue <= 0 {
			return fmt.Errorf("invalid issue number: %s", args[0])
		}

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		db := openAuditDB(cfg)
		if db == nil {
			return fmt.Errorf("audit db unavailable")
		}
		defer db.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := db.RecentEvents(issue, limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, e := range events {
			line := fmt.Sprintf("%s  %-16s %-8s", e.Timestamp, e.Event, e.Stage)
			if e.Attempt > 0 {
				line += fmt.Sprintf(" attempt=%d", e.Attempt)
			}
			if e.Detail != "" {
				line += "  " + e.Detail
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

var auditCredentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Show recent credential pool activity across batch runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		db := openAuditDB(cfg)
		if db == nil {
			return fmt.Errorf("audit db unavailable")
		}
		defer db.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		events, err := db.RecentCredentialEvents(limit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No credential events recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, e := range events {
			line := fmt.Sprintf("%s  %-10s run=%s", e.Timestamp, e.Event, e.RunID)
			if e.Detail != "" {
				line += "  " + e.Detail
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

var auditConsolidateCmd = &cobra.Command{
	Use:   "consolidate <issue-number>",
	Short: "Merge an issue's per-run audit shards into its history file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := strconv.Atoi(args[0])
		if err != nil || issue <= 0 {
			return fmt.Errorf("invalid issue number: %s", args[0])
		}

		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}

		merged, err := audit.Consolidate(cfg.BaseDir, issue)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "merged %d entr(ies) into history for issue %d\n", merged, issue)
		return nil
	},
}

func init() {
	auditTailCmd.Flags().Int("limit", 20, "Maximum number of events to show")
	auditCredentialsCmd.Flags().Int("limit", 20, "Maximum number of events to show")
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditCredentialsCmd)
	auditCmd.AddCommand(auditConsolidateCmd)
}
