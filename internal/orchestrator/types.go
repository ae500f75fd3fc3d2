package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/testbench-io/testbench/internal/runs"
)

var (
	// ErrTimeout is returned when a worker does not report a result within
	// the unit's time budget. The run is marked FAILED.
	ErrTimeout = errors.New("timed out waiting for worker result")
	// ErrWorkerUnavailable is returned when a unit cannot be submitted.
	ErrWorkerUnavailable = errors.New("worker unavailable")
	// ErrRunNotFound is returned by run stores for unknown ids.
	ErrRunNotFound = errors.New("run not found")
)

// RunStore persists run snapshots. Implementations must be safe for
// concurrent use. SaveRun upserts by record id.
type RunStore interface {
	SaveRun(ctx context.Context, rec runs.Record) error
	GetRun(ctx context.Context, id string) (runs.Record, error)
	// ListRunsByTest returns records for testID, newest first. A
	// non-positive limit returns all of them.
	ListRunsByTest(ctx context.Context, testID string, limit int) ([]runs.Record, error)
}

// Options configures the dispatcher.
type Options struct {
	// APITimeout bounds a single API test.
	APITimeout time.Duration
	// WorkflowTimeout bounds a whole E2E workflow; each step gets the time
	// remaining until that deadline.
	WorkflowTimeout time.Duration
	Logger          *slog.Logger
	// NewID generates run and unit ids. Defaults to random UUIDs.
	NewID func() string
}

const (
	defaultAPITimeout      = 30 * time.Second
	defaultWorkflowTimeout = 60 * time.Second
)
