package runs

import "fmt"

// CaseKind discriminates the TestCaseRun variants.
type CaseKind string

const (
	CaseKindAPI CaseKind = "API"
	CaseKindE2E CaseKind = "E2E"
)

// TestCaseRun is a tagged union: exactly one of API or E2E is set, matching
// Kind.
type TestCaseRun struct {
	Kind CaseKind    `json:"kind"`
	API  *ApiTestRun `json:"api,omitempty"`
	E2E  *E2eTestRun `json:"e2e,omitempty"`
}

// APICase wraps an ApiTestRun.
func APICase(r *ApiTestRun) TestCaseRun {
	return TestCaseRun{Kind: CaseKindAPI, API: r}
}

// E2ECase wraps an E2eTestRun.
func E2ECase(r *E2eTestRun) TestCaseRun {
	return TestCaseRun{Kind: CaseKindE2E, E2E: r}
}

// Base returns the lifecycle fields of the active variant.
func (c TestCaseRun) Base() *Run {
	switch c.Kind {
	case CaseKindAPI:
		return &c.API.Run
	case CaseKindE2E:
		return &c.E2E.Run
	default:
		panic(fmt.Sprintf("runs: unknown test case run kind %q", c.Kind))
	}
}

// TestID returns the definition id of the active variant.
func (c TestCaseRun) TestID() string {
	switch c.Kind {
	case CaseKindAPI:
		return c.API.TestID
	case CaseKindE2E:
		return c.E2E.TestID
	default:
		panic(fmt.Sprintf("runs: unknown test case run kind %q", c.Kind))
	}
}

// TestName returns the definition name of the active variant.
func (c TestCaseRun) TestName() string {
	switch c.Kind {
	case CaseKindAPI:
		return c.API.TestName
	case CaseKindE2E:
		return c.E2E.TestName
	default:
		panic(fmt.Sprintf("runs: unknown test case run kind %q", c.Kind))
	}
}

// Clone returns a deep copy.
func (c TestCaseRun) Clone() TestCaseRun {
	return TestCaseRun{Kind: c.Kind, API: c.API.Clone(), E2E: c.E2E.Clone()}
}
