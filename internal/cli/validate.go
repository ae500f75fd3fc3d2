package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/testbench-io/testbench/internal/dsl"
	"github.com/testbench-io/testbench/internal/translator"
)

// NewValidateCmd creates a new validate command
func NewValidateCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "validate [file_or_directory...]",
		Short: "Validate definition files without executing them",
		Long: `Validate one or more definition files against the JSON schema and translate
every test with its resolved variables. Placeholders that no variable
resolves are reported as warnings.

Examples:
  testbench validate shop.yaml
  testbench validate ./tests/ --env staging`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), args, env)
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "Project environment whose variables to apply")
	return cmd
}

func runValidate(out io.Writer, args []string, env string) error {
	var files []string
	totalInvalid := 0

	for _, arg := range args {
		stat, err := os.Stat(arg)
		if err != nil {
			Logger.Error("failed to access path", "path", arg, "error", err)
			totalInvalid++
			continue
		}
		if !stat.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && (filepath.Ext(path) == ".yaml" || filepath.Ext(path) == ".yml") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			Logger.Error("failed to scan directory", "path", arg, "error", err)
			totalInvalid++
		}
	}

	if len(files) == 0 && totalInvalid == 0 {
		return fmt.Errorf("no YAML files found to validate")
	}

	totalValid := 0
	for _, file := range files {
		warnings, err := validateFile(file, env)
		if err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", failLabel("x"), file, err)
			totalInvalid++
			continue
		}
		fmt.Fprintf(out, "%s %s\n", passLabel("ok"), file)
		for _, w := range warnings {
			fmt.Fprintf(out, "    %s %s\n", color.YellowString("warning:"), w)
		}
		totalValid++
	}

	Logger.Debug("validation complete", "valid", totalValid, "invalid", totalInvalid)
	if totalInvalid > 0 {
		return fmt.Errorf("validation failed for %d file(s)", totalInvalid)
	}
	return nil
}

// validateFile parses and translates every test of a file. It returns
// warnings for placeholders left unresolved.
func validateFile(path, env string) ([]string, error) {
	doc, err := dsl.ParseFile(path)
	if err != nil {
		return nil, err
	}

	var warnings []string
	for i := range doc.Suites {
		suite := &doc.Suites[i]
		vars, err := doc.Variables(suite.ID, env)
		if err != nil {
			return nil, err
		}
		for j := range suite.Tests {
			tc := &suite.Tests[j]
			if err := translator.Validate(tc, vars); err != nil {
				return nil, err
			}
			for _, name := range unresolvedPlaceholders(tc, vars) {
				warnings = append(warnings, fmt.Sprintf("test %q: variable %q is not defined", tc.ID, name))
			}
		}
	}
	return warnings, nil
}

// unresolvedPlaceholders lists placeholder names in tc that vars does not
// define. Names extracted by earlier E2E steps count as defined.
func unresolvedPlaceholders(tc *dsl.TestCase, vars map[string]string) []string {
	known := make(map[string]bool, len(vars))
	for k := range vars {
		known[k] = true
	}
	missing := map[string]bool{}
	check := func(values ...string) {
		for _, v := range values {
			for _, name := range dsl.Placeholders(v) {
				if !known[name] {
					missing[name] = true
				}
			}
		}
	}

	checkRequest := func(rest *dsl.RestRequest, soap *dsl.SoapRequest, asserts []dsl.Assertion) {
		if rest != nil {
			check(rest.URL)
			for _, v := range rest.Headers {
				check(v)
			}
			for _, v := range rest.Query {
				check(v)
			}
			if rest.Body != nil {
				check(rest.Body.Content)
			}
		}
		if soap != nil {
			check(soap.URL, soap.Action, soap.Envelope)
		}
		for _, a := range asserts {
			check(a.Target, a.Expected)
		}
	}

	if tc.Type == dsl.TestTypeE2E {
		for _, step := range tc.Steps {
			checkRequest(step.Request, step.Soap, step.Assertions)
			for _, ex := range step.Extract {
				known[ex.Variable] = true
			}
		}
	} else {
		checkRequest(tc.Request, tc.Soap, tc.Assertions)
	}

	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
