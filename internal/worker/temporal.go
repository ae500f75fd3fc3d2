package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	sdkworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/testbench-io/testbench/internal/wire"
)

const (
	// ExecuteUnitWorkflowName is the registered workflow type.
	ExecuteUnitWorkflowName = "ExecuteUnitWorkflow"
	// ExecuteUnitActivityName is the registered activity type.
	ExecuteUnitActivityName = "testbench.execute_unit"

	defaultUnitTimeout = 30 * time.Second
	monitorGrace       = 10 * time.Second
)

// ExecuteUnitWorkflow runs one envelope as a single activity. Activity
// failures come back as a failed raw result rather than a workflow error so
// the caller always gets a result shape.
func ExecuteUnitWorkflow(ctx workflow.Context, env wire.Envelope) (wire.RawResult, error) {
	timeout := env.Timeout
	if timeout <= 0 {
		timeout = defaultUnitTimeout
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("Executing unit", "unit_id", env.UnitID, "run_id", env.RunID, "method", env.Request.Method, "url", env.Request.URL)

	var res wire.RawResult
	if err := workflow.ExecuteActivity(ctx, ExecuteUnitActivityName, env).Get(ctx, &res); err != nil {
		logger.Warn("Unit activity failed", "unit_id", env.UnitID, "error", err)
		return wire.RawResult{UnitID: env.UnitID, Error: err.Error()}, nil
	}
	return res, nil
}

// Activities holds the activity implementations registered on a Temporal
// worker.
type Activities struct {
	Executor Executor
	Evaluate bool
}

// ExecuteUnit performs the network call for env.
func (a *Activities) ExecuteUnit(ctx context.Context, env wire.Envelope) (wire.RawResult, error) {
	activity.GetLogger(ctx).Debug("Sending request", "unit_id", env.UnitID, "url", env.Request.URL)
	return Execute(ctx, a.Executor, env, defaultUnitTimeout, a.Evaluate), nil
}

// RegisterTemporal registers the unit workflow and activity on w.
func RegisterTemporal(w sdkworker.Registry, acts *Activities) {
	w.RegisterWorkflowWithOptions(ExecuteUnitWorkflow, workflow.RegisterOptions{Name: ExecuteUnitWorkflowName})
	w.RegisterActivityWithOptions(acts.ExecuteUnit, activity.RegisterOptions{Name: ExecuteUnitActivityName})
}

// TemporalSubmitter submits units as Temporal workflows. A monitor goroutine
// per unit waits for the workflow result and invokes the callback.
type TemporalSubmitter struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger

	inflight atomic.Int64
	wg       sync.WaitGroup
}

// NewTemporalSubmitter creates a submitter on taskQueue.
func NewTemporalSubmitter(c client.Client, taskQueue string, logger *slog.Logger) *TemporalSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemporalSubmitter{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger.With("component", "temporal-submitter"),
	}
}

func (s *TemporalSubmitter) Submit(ctx context.Context, env wire.Envelope, done Callback) error {
	if done == nil {
		return fmt.Errorf("submit %s: callback is required", env.UnitID)
	}

	timeout := env.Timeout
	if timeout <= 0 {
		timeout = defaultUnitTimeout
	}

	options := client.StartWorkflowOptions{
		ID:                       "testbench-unit-" + env.UnitID,
		TaskQueue:                s.taskQueue,
		WorkflowExecutionTimeout: timeout + monitorGrace,
	}
	execution, err := s.client.ExecuteWorkflow(ctx, options, ExecuteUnitWorkflowName, env)
	if err != nil {
		return fmt.Errorf("failed to start workflow: %w", err)
	}
	s.logger.Debug("workflow started", "unit_id", env.UnitID, "workflow_id", execution.GetID(), "workflow_run_id", execution.GetRunID())

	s.inflight.Add(1)
	s.wg.Add(1)
	go s.monitorWorkflow(env.UnitID, execution, timeout+monitorGrace, done)
	return nil
}

func (s *TemporalSubmitter) monitorWorkflow(unitID string, execution client.WorkflowRun, limit time.Duration, done Callback) {
	defer s.wg.Done()
	defer s.inflight.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	var res wire.RawResult
	if err := execution.Get(ctx, &res); err != nil {
		s.logger.Warn("workflow did not produce a result", "unit_id", unitID, "workflow_id", execution.GetID(), "error", err)
		res = wire.RawResult{UnitID: unitID, Error: fmt.Sprintf("workflow %s: %v", execution.GetID(), err)}
	}
	if res.UnitID == "" {
		res.UnitID = unitID
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("callback panicked", "unit_id", unitID, "panic", r)
		}
	}()
	done(res)
}

// Health checks the Temporal frontend. QueueDepth counts workflows still
// being monitored.
func (s *TemporalSubmitter) Health(ctx context.Context) (Health, error) {
	h := Health{
		Backend:    "temporal",
		QueueDepth: int(s.inflight.Load()),
	}
	if _, err := s.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		h.Message = err.Error()
		return h, fmt.Errorf("temporal health check failed: %w", err)
	}
	h.Healthy = true
	h.Message = "task queue " + s.taskQueue
	return h, nil
}

// Wait blocks until every monitor goroutine has delivered its result.
func (s *TemporalSubmitter) Wait() {
	s.wg.Wait()
}
