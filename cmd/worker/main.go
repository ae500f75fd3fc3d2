package main

import (
	"os"

	"github.com/testbench-io/testbench/internal/cli"
)

// testbench-worker is the standalone Temporal worker binary. It is the same
// as "testbench worker".
func main() {
	cli.InitLogging()

	cmd := cli.NewWorkerCmd()
	if err := cmd.Execute(); err != nil {
		cli.Logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}
