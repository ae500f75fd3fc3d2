package runs

// AssertionRef identifies the assertion definition a result came from.
type AssertionRef struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Target   string `json:"target,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// AssertionResult is the outcome of one assertion. Unmatched is set when a
// worker reported an outcome that could not be tied to any assertion of the
// unit; such results never pass.
type AssertionResult struct {
	Assertion AssertionRef `json:"assertion"`
	Actual    *string      `json:"actual,omitempty"`
	Passed    bool         `json:"passed"`
	Message   string       `json:"message,omitempty"`
	Unmatched bool         `json:"unmatched,omitempty"`
}

func allAssertionsPassed(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func cloneAssertionResults(in []AssertionResult) []AssertionResult {
	if in == nil {
		return nil
	}
	out := make([]AssertionResult, len(in))
	for i, r := range in {
		out[i] = r
		if r.Actual != nil {
			v := *r.Actual
			out[i].Actual = &v
		}
	}
	return out
}

// Observed is the response data recorded on an API test run or E2E step run.
type Observed struct {
	StatusCode     int                 `json:"actual_status_code,omitempty"`
	Body           string              `json:"actual_response_body,omitempty"`
	Headers        map[string][]string `json:"actual_response_headers,omitempty"`
	ResponseTimeMs int64               `json:"response_time_ms,omitempty"`
}

func (o Observed) clone() Observed {
	c := o
	if o.Headers != nil {
		c.Headers = make(map[string][]string, len(o.Headers))
		for k, v := range o.Headers {
			c.Headers[k] = append([]string(nil), v...)
		}
	}
	return c
}
