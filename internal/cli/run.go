package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/testbench-io/testbench/internal/config"
	"github.com/testbench-io/testbench/internal/dsl"
	"github.com/testbench-io/testbench/internal/orchestrator"
	"github.com/testbench-io/testbench/internal/runs"
)

type runOptions struct {
	suiteID    string
	testID     string
	env        string
	vars       []string
	varFile    string
	envFile    string
	healthAddr string
}

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run the tests of a definition file",
		Long: `Run every suite of a definition file, a single suite (--suite) or a single
test (--test). Variables resolve project < suite < environment (--env) and
are then overridden by --var-file and --var.

Examples:
  testbench run shop.yaml
  testbench run shop.yaml --env staging --suite orders
  testbench run shop.yaml --test checkout --var baseUrl=http://localhost:8080`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.suiteID, "suite", "", "Only run the suite with this id")
	cmd.Flags().StringVar(&opts.testID, "test", "", "Only run the test with this id")
	cmd.Flags().StringVarP(&opts.env, "env", "e", "", "Project environment whose variables to apply")
	cmd.Flags().StringArrayVar(&opts.vars, "var", nil, "Override a variable (key=value), repeatable")
	cmd.Flags().StringVar(&opts.varFile, "var-file", "", "Load variable overrides from a YAML or KEY=VALUE file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "Load TESTBENCH_* settings from a .env file")
	cmd.Flags().StringVar(&opts.healthAddr, "health-addr", "", "Serve gRPC health on this address while running")
	return cmd
}

func runTests(cmd *cobra.Command, path string, opts *runOptions) error {
	if opts.suiteID != "" && opts.testID != "" {
		return fmt.Errorf("--suite and --test are mutually exclusive")
	}

	if opts.envFile != "" {
		env, err := loadEnvFile(opts.envFile)
		if err != nil {
			return err
		}
		if err := setEnvironmentVariables(env); err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	doc, err := dsl.ParseFile(path)
	if err != nil {
		return err
	}

	overrides, err := collectOverrides(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	engine := orchestrator.NewEngine(b.submitter, b.store, orchestrator.Options{
		APITimeout:      cfg.APITimeout,
		WorkflowTimeout: cfg.WorkflowTimeout,
		Logger:          Logger,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = engine.Close(shutdownCtx)
	}()

	if opts.healthAddr != "" {
		go func() {
			if err := orchestrator.ServeHealth(ctx, opts.healthAddr, engine); err != nil {
				Logger.Error("health server stopped", "error", err)
			}
		}()
	}

	r := &runner{
		doc:       doc,
		env:       opts.env,
		overrides: overrides,
		engine:    engine,
		out:       cmd.OutOrStdout(),
	}
	if opts.testID != "" {
		err = r.runTest(ctx, opts.testID)
	} else {
		err = r.runSuites(ctx, opts.suiteID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(r.out, "%d passed, %d failed\n", r.passed, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d test(s) failed", r.failed)
	}
	return nil
}

func collectOverrides(opts *runOptions) (map[string]string, error) {
	overrides := map[string]string{}
	if opts.varFile != "" {
		fileVars, err := loadVarFile(opts.varFile)
		if err != nil {
			return nil, err
		}
		overrides = dsl.MergeVariables(overrides, fileVars)
	}
	flagVars, err := parseVarFlags(opts.vars)
	if err != nil {
		return nil, err
	}
	return dsl.MergeVariables(overrides, flagVars), nil
}

type runner struct {
	doc       *dsl.Document
	env       string
	overrides map[string]string
	engine    *orchestrator.Engine
	out       io.Writer

	passed int
	failed int
}

func (r *runner) varsFor(suiteID string) (map[string]string, error) {
	vars, err := r.doc.Variables(suiteID, r.env)
	if err != nil {
		return nil, err
	}
	return dsl.MergeVariables(vars, r.overrides), nil
}

func (r *runner) runSuites(ctx context.Context, only string) error {
	if only != "" {
		if _, ok := r.doc.Suite(only); !ok {
			return fmt.Errorf("suite %q not found", only)
		}
	}

	d := r.engine.Dispatcher()
	for i := range r.doc.Suites {
		suite := &r.doc.Suites[i]
		if only != "" && suite.ID != only {
			continue
		}
		vars, err := r.varsFor(suite.ID)
		if err != nil {
			return err
		}

		Logger.Debug("running suite", "suite_id", suite.ID, "tests", len(suite.Tests))
		run, err := d.ExecuteSuite(ctx, suite, vars)
		if run == nil {
			return err
		}
		printSuiteRun(r.out, run)
		r.passed += run.PassedCount()
		r.failed += len(run.Cases) - run.PassedCount()
		if errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

func (r *runner) runTest(ctx context.Context, testID string) error {
	tc, suite, ok := r.doc.Test(testID)
	if !ok {
		return fmt.Errorf("test %q not found", testID)
	}
	vars, err := r.varsFor(suite.ID)
	if err != nil {
		return err
	}

	d := r.engine.Dispatcher()
	var c runs.TestCaseRun
	if tc.Type == dsl.TestTypeE2E {
		run, err := d.ExecuteE2ETest(ctx, tc, vars)
		if run == nil {
			return err
		}
		c = runs.E2ECase(run)
	} else {
		run, err := d.ExecuteAPITest(ctx, tc, vars)
		if run == nil {
			return err
		}
		c = runs.APICase(run)
	}

	printCaseRun(r.out, c, "")
	if c.Base().Succeeded() {
		r.passed++
	} else {
		r.failed++
	}
	return ctx.Err()
}
