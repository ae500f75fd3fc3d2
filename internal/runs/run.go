package runs

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result is the outcome of a run. It is only set once the run is terminal.
type Result string

const (
	ResultNone      Result = ""
	ResultSuccess   Result = "SUCCESS"
	ResultFailure   Result = "FAILURE"
	ResultCancelled Result = "CANCELLED"
)

// ErrorKind classifies why a run ended in FAILED.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindTimeout           ErrorKind = "timeout"
	ErrorKindTransport         ErrorKind = "transport"
	ErrorKindWorkerUnavailable ErrorKind = "worker_unavailable"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindAborted           ErrorKind = "aborted"
)

// ErrInvalidTransition is wrapped by every TransitionError.
var ErrInvalidTransition = errors.New("invalid run state transition")

// TransitionError describes a rejected lifecycle call.
type TransitionError struct {
	RunID  string
	Action string
	From   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("run %s: cannot %s while %s", e.RunID, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Run holds the lifecycle fields shared by every run type. Mutate it only
// through its methods so the status/result invariant holds.
type Run struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	Result       Result     `json:"result,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// now is swapped in tests that need stable timestamps.
var now = func() time.Time { return time.Now().UTC() }

func newRun(id string) Run {
	ts := now()
	return Run{
		ID:        id,
		Status:    StatusNotStarted,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// Start moves the run from NOT_STARTED to IN_PROGRESS.
func (r *Run) Start() error {
	if r.Status != StatusNotStarted {
		return r.reject("start")
	}
	ts := now()
	r.Status = StatusInProgress
	r.StartedAt = &ts
	r.UpdatedAt = ts
	return nil
}

// CompleteWithSuccess ends an in-progress run as COMPLETED/SUCCESS.
func (r *Run) CompleteWithSuccess() error {
	return r.finish("complete with success", StatusCompleted, ResultSuccess)
}

// CompleteWithFailure ends an in-progress run as COMPLETED/FAILURE. This is
// the normal outcome of a run whose assertions did not all pass.
func (r *Run) CompleteWithFailure() error {
	return r.finish("complete with failure", StatusCompleted, ResultFailure)
}

// Fail ends an in-progress run as FAILED/FAILURE with an infrastructure
// error such as a timeout or a transport failure.
func (r *Run) Fail(kind ErrorKind, message string) error {
	if err := r.finish("fail", StatusFailed, ResultFailure); err != nil {
		return err
	}
	r.ErrorKind = kind
	r.ErrorMessage = message
	return nil
}

// Cancel ends a run that has not reached a terminal state as
// FAILED/CANCELLED.
func (r *Run) Cancel(message string) error {
	if r.Status.Terminal() {
		return r.reject("cancel")
	}
	ts := now()
	if r.StartedAt == nil {
		r.StartedAt = &ts
	}
	r.Status = StatusFailed
	r.Result = ResultCancelled
	r.ErrorKind = ErrorKindCancelled
	r.ErrorMessage = message
	r.CompletedAt = &ts
	r.UpdatedAt = ts
	return nil
}

// InProgress reports whether children and results may still be appended.
func (r *Run) InProgress() bool {
	return r.Status == StatusInProgress
}

// Succeeded reports a terminal SUCCESS result.
func (r *Run) Succeeded() bool {
	return r.Result == ResultSuccess
}

// Duration is the wall time between start and completion, or zero.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

func (r *Run) finish(action string, status Status, result Result) error {
	if r.Status != StatusInProgress {
		return r.reject(action)
	}
	ts := now()
	r.Status = status
	r.Result = result
	r.CompletedAt = &ts
	r.UpdatedAt = ts
	return nil
}

func (r *Run) touch() {
	r.UpdatedAt = now()
}

func (r *Run) requireInProgress(action string) error {
	if r.Status != StatusInProgress {
		return r.reject(action)
	}
	return nil
}

func (r *Run) reject(action string) error {
	return &TransitionError{RunID: r.ID, Action: action, From: r.Status}
}

func (r Run) clone() Run {
	c := r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
