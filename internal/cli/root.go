package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates a new root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testbench",
		Short: "testbench API test runner",
		Long: `testbench executes REST, SOAP and multi-step E2E API tests defined in YAML
and records every run.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				_ = os.Setenv("TESTBENCH_LOG", "DEBUG")
			}
			InitLogging()
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	cmd.AddCommand(
		NewRunCmd(),
		NewValidateCmd(),
		NewWorkerCmd(),
		NewHistoryCmd(),
		NewGetCmd(),
		NewVersionCmd(),
	)

	return cmd
}
