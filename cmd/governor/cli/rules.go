package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tkingovr/agent-governor/internal/outputguard"
)

var (
	simulateFile  string
	simulateActor string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and test output guard rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List output guard rules in evaluation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rules, err := a.Admin.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		return printRules(os.Stdout, rules)
	},
}

var rulesSimulateCmd = &cobra.Command{
	Use:   "simulate [text]",
	Short: "Evaluate text against the active rules without releasing it",
	Example: `  governor rules simulate "my password: hunter2"
  governor rules simulate --file response.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rulesSimulateCmd.Flags().StringVarP(&simulateFile, "file", "f", "", "read content from file (- for stdin)")
	rulesSimulateCmd.Flags().StringVar(&simulateActor, "actor", "", "actor recorded in the audit log (default $USER)")
	rulesCmd.AddCommand(rulesListCmd, rulesSimulateCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	var content string
	switch {
	case simulateFile == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		content = string(data)
	case simulateFile != "":
		data, err := os.ReadFile(simulateFile)
		if err != nil {
			return fmt.Errorf("reading %s: %w", simulateFile, err)
		}
		content = string(data)
	case len(args) == 1:
		content = args[0]
	default:
		return fmt.Errorf("provide text as an argument or with --file")
	}

	actor := simulateActor
	if actor == "" {
		actor = defaultActor()
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ev, err := a.Admin.Simulate(cmd.Context(), actor, content, nil)
	if err != nil && ev == nil {
		return err
	}
	return printJSON(os.Stdout, ev)
}

func printRules(w io.Writer, rules []outputguard.Rule) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tNAME\tACTION\tENABLED\tID")
	for _, r := range rules {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", r.Priority, r.Name, r.Action, r.Enabled, r.ID)
	}
	return tw.Flush()
}
