package runs

// Protocol of a single API test.
type Protocol string

const (
	ProtocolREST Protocol = "REST"
	ProtocolSOAP Protocol = "SOAP"
)

// ApiTestRun records the execution of one REST or SOAP test.
type ApiTestRun struct {
	Run
	TestID           string            `json:"test_id"`
	TestName         string            `json:"test_name,omitempty"`
	Protocol         Protocol          `json:"protocol"`
	Observed         Observed          `json:"observed"`
	AssertionResults []AssertionResult `json:"assertion_results"`
}

// NewApiTestRun creates a NOT_STARTED run for the given test.
func NewApiTestRun(id, testID, testName string, protocol Protocol) *ApiTestRun {
	return &ApiTestRun{
		Run:      newRun(id),
		TestID:   testID,
		TestName: testName,
		Protocol: protocol,
	}
}

// RecordResponse stores the observed response. Only allowed while in progress.
func (r *ApiTestRun) RecordResponse(obs Observed) error {
	if err := r.requireInProgress("record response"); err != nil {
		return err
	}
	r.Observed = obs
	r.touch()
	return nil
}

// AddAssertionResult appends an assertion outcome while in progress.
func (r *ApiTestRun) AddAssertionResult(res AssertionResult) error {
	if err := r.requireInProgress("add assertion result"); err != nil {
		return err
	}
	r.AssertionResults = append(r.AssertionResults, res)
	r.touch()
	return nil
}

// AllAssertionsPassed is true when no assertion failed. A test without
// assertions passes once its request was executed.
func (r *ApiTestRun) AllAssertionsPassed() bool {
	return allAssertionsPassed(r.AssertionResults)
}

// Clone returns a deep copy.
func (r *ApiTestRun) Clone() *ApiTestRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Run = r.Run.clone()
	c.Observed = r.Observed.clone()
	c.AssertionResults = cloneAssertionResults(r.AssertionResults)
	return &c
}
