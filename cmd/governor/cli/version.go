package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set via ldflags at release time.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of governor",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("governor %s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, configCmd)
}
