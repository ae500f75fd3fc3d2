package translator

import (
	"fmt"
	"strings"

	"github.com/testbench-io/testbench/internal/assertions"
	"github.com/testbench-io/testbench/internal/runs"
	"github.com/testbench-io/testbench/internal/wire"
)

// ResultTarget is a run that records an observed response and its
// assertion results: an ApiTestRun or an E2eStepRun.
type ResultTarget interface {
	RecordResponse(obs runs.Observed) error
	AddAssertionResult(res runs.AssertionResult) error
}

// ApplyResult copies the observed response onto target and attaches one
// assertion result per assertion of unit, in definition order.
//
// Outcomes already evaluated by the worker are matched by assertion id, or
// by exact (type, target) when the worker sent no id and exactly one
// assertion fits. Assertions the worker did not evaluate are evaluated here.
// Outcomes that match nothing are appended as failing results flagged
// Unmatched.
func ApplyResult(target ResultTarget, unit Unit, raw wire.RawResult) error {
	if raw.Response == nil {
		return fmt.Errorf("result for unit %s carries no response", raw.UnitID)
	}
	resp := *raw.Response

	if err := checkSpecIDs(unit.Assertions); err != nil {
		return err
	}
	if err := target.RecordResponse(Observe(resp)); err != nil {
		return err
	}

	matched, unmatched := matchOutcomes(unit.Assertions, raw.Outcomes)

	for i, spec := range unit.Assertions {
		out, ok := matched[i]
		if !ok {
			out = assertions.Evaluate(spec, resp)
		}
		if err := target.AddAssertionResult(resultFor(spec, out)); err != nil {
			return err
		}
	}

	for _, out := range unmatched {
		res := runs.AssertionResult{
			Assertion: runs.AssertionRef{
				ID:     out.AssertionID,
				Type:   out.Type,
				Target: out.Target,
			},
			Actual:    out.Actual,
			Passed:    false,
			Unmatched: true,
			Message:   unmatchedMessage(out),
		}
		if err := target.AddAssertionResult(res); err != nil {
			return err
		}
	}
	return nil
}

// checkSpecIDs rejects units whose assertion ids repeat.
func checkSpecIDs(specs []wire.AssertionSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			continue
		}
		if seen[s.ID] {
			return fmt.Errorf("unit has duplicate assertion id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Observe converts a wire response to the recorded form.
func Observe(resp wire.Response) runs.Observed {
	var headers map[string][]string
	if resp.Headers != nil {
		headers = make(map[string][]string, len(resp.Headers))
		for k, v := range resp.Headers {
			headers[k] = append([]string(nil), v...)
		}
	}
	return runs.Observed{
		StatusCode:     resp.StatusCode,
		Body:           string(resp.Body),
		Headers:        headers,
		ResponseTimeMs: resp.LatencyMs,
	}
}

func matchOutcomes(specs []wire.AssertionSpec, outcomes []wire.AssertionOutcome) (map[int]wire.AssertionOutcome, []wire.AssertionOutcome) {
	matched := make(map[int]wire.AssertionOutcome, len(outcomes))
	var unmatched []wire.AssertionOutcome

	byID := make(map[string]int, len(specs))
	for i, s := range specs {
		byID[s.ID] = i
	}

	for _, out := range outcomes {
		idx := -1
		if out.AssertionID != "" {
			if i, ok := byID[out.AssertionID]; ok {
				idx = i
			}
		} else {
			idx = uniqueByTypeAndTarget(specs, matched, out)
		}

		if idx < 0 {
			unmatched = append(unmatched, out)
			continue
		}
		if _, taken := matched[idx]; taken {
			unmatched = append(unmatched, out)
			continue
		}
		matched[idx] = out
	}
	return matched, unmatched
}

// uniqueByTypeAndTarget returns the index of the only unmatched spec with the
// outcome's type and target, or -1 when there is none or more than one.
func uniqueByTypeAndTarget(specs []wire.AssertionSpec, matched map[int]wire.AssertionOutcome, out wire.AssertionOutcome) int {
	found := -1
	for i, s := range specs {
		if _, taken := matched[i]; taken {
			continue
		}
		if !strings.EqualFold(s.Type, out.Type) || s.Target != out.Target {
			continue
		}
		if found >= 0 {
			return -1
		}
		found = i
	}
	return found
}

func resultFor(spec wire.AssertionSpec, out wire.AssertionOutcome) runs.AssertionResult {
	return runs.AssertionResult{
		Assertion: runs.AssertionRef{
			ID:       spec.ID,
			Type:     spec.Type,
			Target:   spec.Target,
			Expected: spec.Expected,
		},
		Actual:  out.Actual,
		Passed:  out.Passed,
		Message: out.Message,
	}
}

func unmatchedMessage(out wire.AssertionOutcome) string {
	msg := "worker outcome does not match any assertion"
	if out.AssertionID != "" {
		msg += fmt.Sprintf(" (id %q)", out.AssertionID)
	} else {
		msg += fmt.Sprintf(" (%s %s)", out.Type, out.Target)
	}
	if out.Message != "" {
		msg += ": " + out.Message
	}
	return msg
}
