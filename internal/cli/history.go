package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/testbench-io/testbench/internal/config"
	"github.com/testbench-io/testbench/internal/runs"
)

// NewHistoryCmd lists the stored runs of one test.
func NewHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <test-id>",
		Short: "List recent runs of a test, newest first",
		Long: `List recent runs of a test from the configured run store. Only SQL stores
(TESTBENCH_STORE_DRIVER) keep runs between invocations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigFromEnv()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			store, closeStore, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := store.ListRunsByTest(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintf(out, "no runs recorded for test %q\n", args[0])
				return nil
			}
			for _, rec := range records {
				printRecordLine(out, rec)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

// NewGetCmd shows one stored run.
func NewGetCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigFromEnv()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			store, closeStore, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			rec, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			switch rec.Kind {
			case runs.RecordKindSuite:
				printSuiteRun(out, rec.Suite)
			default:
				printCaseRun(out, *rec.Case, "")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw run record as JSON")
	return cmd
}
