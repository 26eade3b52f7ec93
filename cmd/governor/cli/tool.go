package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tkingovr/agent-governor/api"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

var (
	toolChannel string
	toolArgs    string
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Inspect the tool execution policy",
}

var toolEvaluateCmd = &cobra.Command{
	Use:   "evaluate <tool>",
	Short: "Show the policy decision for a tool call on a channel",
	Example: `  governor tool evaluate delete_file --channel slack
  governor tool evaluate send_email --channel web --args '{"to":"ops@example.com"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runToolEvaluate,
}

var toolPolicyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Print the current tool policy document",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.Admin.GetPolicy(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, p)
	},
}

func init() {
	toolEvaluateCmd.Flags().StringVar(&toolChannel, "channel", "", "channel of the run")
	toolEvaluateCmd.Flags().StringVar(&toolArgs, "args", "", "tool arguments as a JSON object")
	toolCmd.AddCommand(toolEvaluateCmd, toolPolicyCmd)
	rootCmd.AddCommand(toolCmd)
}

func runToolEvaluate(cmd *cobra.Command, args []string) error {
	var toolArgMap map[string]any
	if toolArgs != "" {
		if err := json.Unmarshal([]byte(toolArgs), &toolArgMap); err != nil {
			return fmt.Errorf("parsing --args: %w", err)
		}
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	tool := args[0]
	out := api.ToolEvaluateResponse{
		WriteTool:        a.Tools.IsWriteTool(ctx, tool),
		RequiresApproval: a.Tools.RequiresApproval(ctx, tool, toolArgMap),
	}
	switch d := a.Tools.Evaluate(ctx, toolChannel, tool).(type) {
	case toolpolicy.Allow:
		out.Decision = "allow"
	case toolpolicy.Deny:
		out.Decision = "deny"
		out.Reason = d.Reason
		out.RequiresApproval = false
	}
	return printJSON(os.Stdout, out)
}
