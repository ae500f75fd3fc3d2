package runs

import "fmt"

// ExtractionFailure records a variable that could not be extracted from a
// step response.
type ExtractionFailure struct {
	Variable string `json:"variable"`
	Message  string `json:"message"`
}

// E2eStepRun records the execution of one workflow step.
type E2eStepRun struct {
	Run
	StepIndex          int                 `json:"step_index"`
	StepName           string              `json:"step_name"`
	Observed           Observed            `json:"observed"`
	ExtractedVariables map[string]string   `json:"extracted_variables,omitempty"`
	ExtractionFailures []ExtractionFailure `json:"extraction_failures,omitempty"`
	AssertionResults   []AssertionResult   `json:"assertion_results"`
}

// NewE2eStepRun creates a NOT_STARTED step run.
func NewE2eStepRun(id string, index int, name string) *E2eStepRun {
	return &E2eStepRun{
		Run:       newRun(id),
		StepIndex: index,
		StepName:  name,
	}
}

// RecordResponse stores the observed response.
func (s *E2eStepRun) RecordResponse(obs Observed) error {
	if err := s.requireInProgress("record response"); err != nil {
		return err
	}
	s.Observed = obs
	s.touch()
	return nil
}

// AddAssertionResult appends an assertion outcome.
func (s *E2eStepRun) AddAssertionResult(res AssertionResult) error {
	if err := s.requireInProgress("add assertion result"); err != nil {
		return err
	}
	s.AssertionResults = append(s.AssertionResults, res)
	s.touch()
	return nil
}

// RecordExtraction stores one successfully extracted variable.
func (s *E2eStepRun) RecordExtraction(name, value string) error {
	if err := s.requireInProgress("record extraction"); err != nil {
		return err
	}
	if s.ExtractedVariables == nil {
		s.ExtractedVariables = make(map[string]string)
	}
	s.ExtractedVariables[name] = value
	s.touch()
	return nil
}

// RecordExtractionFailure stores a failed extraction.
func (s *E2eStepRun) RecordExtractionFailure(name, message string) error {
	if err := s.requireInProgress("record extraction failure"); err != nil {
		return err
	}
	s.ExtractionFailures = append(s.ExtractionFailures, ExtractionFailure{Variable: name, Message: message})
	s.touch()
	return nil
}

// AllAssertionsPassed is true when no assertion of the step failed.
func (s *E2eStepRun) AllAssertionsPassed() bool {
	return allAssertionsPassed(s.AssertionResults)
}

// Clone returns a deep copy.
func (s *E2eStepRun) Clone() *E2eStepRun {
	if s == nil {
		return nil
	}
	c := *s
	c.Run = s.Run.clone()
	c.Observed = s.Observed.clone()
	c.AssertionResults = cloneAssertionResults(s.AssertionResults)
	if s.ExtractedVariables != nil {
		c.ExtractedVariables = make(map[string]string, len(s.ExtractedVariables))
		for k, v := range s.ExtractedVariables {
			c.ExtractedVariables[k] = v
		}
	}
	c.ExtractionFailures = append([]ExtractionFailure(nil), s.ExtractionFailures...)
	return &c
}

// E2eTestRun records the execution of a multi-step workflow.
type E2eTestRun struct {
	Run
	TestID   string        `json:"test_id"`
	TestName string        `json:"test_name,omitempty"`
	Steps    []*E2eStepRun `json:"steps"`
}

// NewE2eTestRun creates a NOT_STARTED workflow run.
func NewE2eTestRun(id, testID, testName string) *E2eTestRun {
	return &E2eTestRun{
		Run:      newRun(id),
		TestID:   testID,
		TestName: testName,
	}
}

// AddStepRun appends the next step. Steps are appended in workflow order.
func (r *E2eTestRun) AddStepRun(step *E2eStepRun) error {
	if step == nil {
		return fmt.Errorf("run %s: step run cannot be nil", r.ID)
	}
	if err := r.requireInProgress("add step run"); err != nil {
		return err
	}
	if step.StepIndex != len(r.Steps) {
		return fmt.Errorf("run %s: step %d appended out of order, expected %d", r.ID, step.StepIndex, len(r.Steps))
	}
	r.Steps = append(r.Steps, step)
	r.touch()
	return nil
}

// AllStepsPassed is true when every step completed and passed its assertions.
func (r *E2eTestRun) AllStepsPassed() bool {
	if len(r.Steps) == 0 {
		return false
	}
	for _, s := range r.Steps {
		if s.Status != StatusCompleted || !s.AllAssertionsPassed() {
			return false
		}
	}
	return true
}

// PassedStepsCount counts steps whose assertions all passed.
func (r *E2eTestRun) PassedStepsCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StatusCompleted && s.AllAssertionsPassed() {
			n++
		}
	}
	return n
}

// FailedStepsCount counts steps that failed or had failing assertions.
func (r *E2eTestRun) FailedStepsCount() int {
	return len(r.Steps) - r.PassedStepsCount()
}

// Clone returns a deep copy.
func (r *E2eTestRun) Clone() *E2eTestRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Run = r.Run.clone()
	if r.Steps != nil {
		c.Steps = make([]*E2eStepRun, len(r.Steps))
		for i, s := range r.Steps {
			c.Steps[i] = s.Clone()
		}
	}
	return &c
}
