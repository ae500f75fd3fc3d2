package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

// NewVersionCmd creates a new version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of testbench",
		Run: func(cmd *cobra.Command, args []string) {
			version := os.Getenv("TESTBENCH_VERSION")
			if version == "" {
				version = Version
			}
			fmt.Fprintf(cmd.OutOrStdout(), "testbench %s\n", version)
		},
	}
}
