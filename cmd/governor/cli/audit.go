package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkingovr/agent-governor/api"
)

var (
	auditLimit  int
	auditRuleID string
	auditAction string
	auditJSON   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read and prune the output rule audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	RunE:  runAuditList,
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries older than the configured retention now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.OutputGuard.Audit.RetentionDays <= 0 {
			return fmt.Errorf("output_guard.audit.retention_days is not set")
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.Retention.RunOnce(cmd.Context())
		fmt.Printf("pruned %d audit entries\n", n)
		return nil
	},
}

func init() {
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 0, "maximum entries (default and cap from config)")
	auditListCmd.Flags().StringVar(&auditRuleID, "rule", "", "only entries for this rule id")
	auditListCmd.Flags().StringVar(&auditAction, "action", "", "only CREATE, UPDATE, DELETE or SIMULATE")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "print JSON")
	auditCmd.AddCommand(auditListCmd, auditPruneCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.Admin.QueryAudit(cmd.Context(), api.AuditQuery{
		RuleID: auditRuleID,
		Action: api.AuditAction(auditAction),
		Limit:  auditLimit,
	})
	if err != nil {
		return err
	}
	if auditJSON {
		return printJSON(os.Stdout, entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tRULE\tACTOR\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Action, e.RuleID, e.Actor, e.Detail)
	}
	return tw.Flush()
}
