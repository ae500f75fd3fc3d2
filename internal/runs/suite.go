package runs

import "fmt"

// TestSuiteRun records the sequential execution of a suite's test cases.
type TestSuiteRun struct {
	Run
	SuiteID   string        `json:"suite_id"`
	SuiteName string        `json:"suite_name,omitempty"`
	Cases     []TestCaseRun `json:"cases"`
}

// NewTestSuiteRun creates a NOT_STARTED suite run.
func NewTestSuiteRun(id, suiteID, suiteName string) *TestSuiteRun {
	return &TestSuiteRun{
		Run:       newRun(id),
		SuiteID:   suiteID,
		SuiteName: suiteName,
	}
}

// AddCaseRun appends a child run. Only allowed while the suite is in progress.
func (s *TestSuiteRun) AddCaseRun(c TestCaseRun) error {
	switch c.Kind {
	case CaseKindAPI:
		if c.API == nil {
			return fmt.Errorf("suite run %s: api case run cannot be nil", s.ID)
		}
	case CaseKindE2E:
		if c.E2E == nil {
			return fmt.Errorf("suite run %s: e2e case run cannot be nil", s.ID)
		}
	default:
		return fmt.Errorf("suite run %s: unknown case kind %q", s.ID, c.Kind)
	}
	if err := s.requireInProgress("add case run"); err != nil {
		return err
	}
	s.Cases = append(s.Cases, c)
	s.touch()
	return nil
}

// AllPassed is true iff the suite has children and every child succeeded.
func (s *TestSuiteRun) AllPassed() bool {
	if len(s.Cases) == 0 {
		return false
	}
	for _, c := range s.Cases {
		if c.Base().Result != ResultSuccess {
			return false
		}
	}
	return true
}

// PassedCount counts children with a SUCCESS result.
func (s *TestSuiteRun) PassedCount() int {
	n := 0
	for _, c := range s.Cases {
		if c.Base().Result == ResultSuccess {
			n++
		}
	}
	return n
}

// FailedCount counts children that ended with FAILURE.
func (s *TestSuiteRun) FailedCount() int {
	n := 0
	for _, c := range s.Cases {
		if c.Base().Result == ResultFailure {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (s *TestSuiteRun) Clone() *TestSuiteRun {
	if s == nil {
		return nil
	}
	c := *s
	c.Run = s.Run.clone()
	if s.Cases != nil {
		c.Cases = make([]TestCaseRun, len(s.Cases))
		for i, tc := range s.Cases {
			c.Cases[i] = tc.Clone()
		}
	}
	return &c
}
