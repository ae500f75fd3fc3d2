// Package worker executes units of work on behalf of the dispatcher. A
// Submitter accepts an envelope and reports the raw result through a
// callback once the network call has finished.
package worker

import (
	"context"
	"errors"

	"github.com/testbench-io/testbench/internal/wire"
)

var (
	// ErrQueueFull is returned when a bounded queue cannot take more work.
	ErrQueueFull = errors.New("worker queue is full")
	// ErrClosed is returned by a submitter that has been shut down.
	ErrClosed = errors.New("worker is closed")
)

// Callback receives the result of a submitted envelope. It is invoked at
// most once per successful Submit, from a worker goroutine.
type Callback func(wire.RawResult)

// Submitter is the execution worker contract.
type Submitter interface {
	// Submit enqueues env. A nil error means done will be called later.
	Submit(ctx context.Context, env wire.Envelope, done Callback) error
	Health(ctx context.Context) (Health, error)
}

// Executor performs the network call for a request.
type Executor interface {
	Execute(ctx context.Context, req wire.Request) (wire.Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req wire.Request) (wire.Response, error)

func (f ExecutorFunc) Execute(ctx context.Context, req wire.Request) (wire.Response, error) {
	return f(ctx, req)
}

// Health reports the state of a worker backend.
type Health struct {
	Backend    string `json:"backend"`
	Healthy    bool   `json:"healthy"`
	QueueDepth int    `json:"queue_depth"`
	Capacity   int    `json:"capacity,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	Message    string `json:"message,omitempty"`
}
