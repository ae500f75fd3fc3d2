// Package wire holds the protocol-neutral structures exchanged between the
// dispatcher and execution workers. Nothing here knows about HTTP framing.
package wire

import (
	"net/textproto"
	"strings"
	"time"
)

// Request is what a worker sends over the network.
type Request struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// AssertionSpec is a typed check with a stable identifier assigned at
// translation time.
type AssertionSpec struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Target   string `json:"target,omitempty"`
	Expected string `json:"expected,omitempty"`
}

// ExtractorSpec pulls VariableName out of a response.
type ExtractorSpec struct {
	VariableName string `json:"variable_name"`
	Source       string `json:"source"`
	Expression   string `json:"expression,omitempty"`
}

// Envelope is one unit of work handed to a worker.
type Envelope struct {
	UnitID     string          `json:"unit_id"`
	RunID      string          `json:"run_id"`
	Request    Request         `json:"request"`
	Assertions []AssertionSpec `json:"assertions,omitempty"`
	Timeout    time.Duration   `json:"timeout,omitempty"`
}

// Response is the observed result of a network call.
type Response struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       []byte              `json:"body,omitempty"`
	LatencyMs  int64               `json:"latency_ms"`
}

// Header returns the values of a header using a case-insensitive lookup.
func (r Response) Header(name string) ([]string, bool) {
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	if v, ok := r.Headers[canonical]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// AssertionOutcome is the evaluation of one AssertionSpec. AssertionID may be
// empty when a worker does not thread identifiers through.
type AssertionOutcome struct {
	AssertionID string  `json:"assertion_id,omitempty"`
	Type        string  `json:"type"`
	Target      string  `json:"target,omitempty"`
	Actual      *string `json:"actual,omitempty"`
	Passed      bool    `json:"passed"`
	Message     string  `json:"message,omitempty"`
}

// RawResult is what a worker reports back through the completion callback.
// Either Error is set (transport/protocol failure) or Response is.
// Outcomes is only populated by workers that evaluate assertions themselves.
type RawResult struct {
	UnitID   string             `json:"unit_id"`
	Response *Response          `json:"response,omitempty"`
	Error    string             `json:"error,omitempty"`
	Outcomes []AssertionOutcome `json:"outcomes,omitempty"`
}

// Failed reports a transport or protocol level failure.
func (r RawResult) Failed() bool {
	return r.Error != "" || r.Response == nil
}
