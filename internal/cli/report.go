package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/testbench-io/testbench/internal/runs"
)

var (
	passLabel   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failLabel   = color.New(color.FgRed, color.Bold).SprintFunc()
	errorLabel  = color.New(color.FgYellow, color.Bold).SprintFunc()
	dimText     = color.New(color.Faint).SprintFunc()
	headingText = color.New(color.FgCyan, color.Bold).SprintFunc()
)

// statusLabel renders the outcome of a terminal run.
func statusLabel(r *runs.Run) string {
	switch {
	case r.Result == runs.ResultSuccess:
		return passLabel("PASS")
	case r.Result == runs.ResultCancelled:
		return errorLabel("CANCELLED")
	case r.Status == runs.StatusFailed:
		return errorLabel("ERROR")
	case r.Result == runs.ResultFailure:
		return failLabel("FAIL")
	default:
		return dimText(string(r.Status))
	}
}

func printSuiteRun(w io.Writer, s *runs.TestSuiteRun) {
	name := s.SuiteName
	if name == "" {
		name = s.SuiteID
	}
	fmt.Fprintf(w, "%s %s %s\n", headingText("Suite"), name, dimText(s.ID))
	for _, c := range s.Cases {
		printCaseRun(w, c, "  ")
	}
	fmt.Fprintf(w, "%s %s  passed=%d failed=%d total=%d %s\n\n",
		statusLabel(&s.Run), name, s.PassedCount(), s.FailedCount(), len(s.Cases), dimText(s.Duration()))
}

func printCaseRun(w io.Writer, c runs.TestCaseRun, indent string) {
	base := c.Base()
	fmt.Fprintf(w, "%s%s %s %s\n", indent, statusLabel(base), c.TestName(), dimText(base.Duration()))
	printRunError(w, base, indent+"    ")

	switch c.Kind {
	case runs.CaseKindAPI:
		printAssertions(w, c.API.AssertionResults, indent+"    ")
	case runs.CaseKindE2E:
		for _, step := range c.E2E.Steps {
			fmt.Fprintf(w, "%s  %s step %d: %s\n", indent, statusLabel(&step.Run), step.StepIndex+1, step.StepName)
			printRunError(w, &step.Run, indent+"      ")
			printAssertions(w, step.AssertionResults, indent+"      ")
			for _, f := range step.ExtractionFailures {
				fmt.Fprintf(w, "%s      %s %s: %s\n", indent, errorLabel("extract"), f.Variable, f.Message)
			}
		}
	}
}

func printRunError(w io.Writer, r *runs.Run, indent string) {
	if r.ErrorMessage == "" {
		return
	}
	fmt.Fprintf(w, "%s%s %s\n", indent, errorLabel(string(r.ErrorKind)), r.ErrorMessage)
}

// printAssertions lists failing assertions only.
func printAssertions(w io.Writer, results []runs.AssertionResult, indent string) {
	for _, res := range results {
		if res.Passed {
			continue
		}
		label := res.Assertion.Type
		if res.Assertion.Target != "" {
			label += " " + res.Assertion.Target
		}
		msg := res.Message
		if msg == "" && res.Actual != nil {
			msg = "actual " + *res.Actual
		}
		fmt.Fprintf(w, "%s%s %s: %s\n", indent, failLabel("x"), label, strings.TrimSpace(msg))
	}
}

func printRecordLine(w io.Writer, rec runs.Record) {
	r := runs.Run{Status: rec.Status, Result: rec.Result}
	fmt.Fprintf(w, "%s  %-9s %s %s\n", rec.ID, statusLabel(&r), rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), dimText(rec.ParentID))
}
