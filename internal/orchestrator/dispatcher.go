package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/testbench-io/testbench/internal/dsl"
	"github.com/testbench-io/testbench/internal/extractors"
	"github.com/testbench-io/testbench/internal/runs"
	"github.com/testbench-io/testbench/internal/translator"
	"github.com/testbench-io/testbench/internal/wire"
	"github.com/testbench-io/testbench/internal/worker"
)

// Dispatcher executes test cases and suites against a worker backend and
// records their progress in a RunStore. All executions are bounded by the
// configured timeouts; a worker that never answers fails the run.
type Dispatcher struct {
	submitter       worker.Submitter
	store           RunStore
	pending         *pendingTable
	apiTimeout      time.Duration
	workflowTimeout time.Duration
	newID           func() string
	logger          *slog.Logger
}

// NewDispatcher wires a dispatcher to a submitter and a run store.
func NewDispatcher(sub worker.Submitter, store RunStore, opts Options) *Dispatcher {
	if opts.APITimeout <= 0 {
		opts.APITimeout = defaultAPITimeout
	}
	if opts.WorkflowTimeout <= 0 {
		opts.WorkflowTimeout = defaultWorkflowTimeout
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		submitter:       sub,
		store:           store,
		pending:         newPendingTable(),
		apiTimeout:      opts.APITimeout,
		workflowTimeout: opts.WorkflowTimeout,
		newID:           opts.NewID,
		logger:          opts.Logger.With("component", "dispatcher"),
	}
}

// PreparedCase is a validated test case with its NOT_STARTED run.
type PreparedCase struct {
	Test *dsl.TestCase
	Vars map[string]string
	Run  runs.TestCaseRun
	unit translator.Unit
}

// PrepareCase validates tc against vars and creates its run. Definition
// errors are returned before any run exists.
func (d *Dispatcher) PrepareCase(tc *dsl.TestCase, vars map[string]string) (*PreparedCase, error) {
	if tc == nil {
		return nil, fmt.Errorf("%w: test case is required", translator.ErrDefinition)
	}
	pc := &PreparedCase{Test: tc, Vars: vars}

	switch tc.Type {
	case dsl.TestTypeREST, dsl.TestTypeSOAP:
		unit, err := translator.TranslateTest(tc, vars)
		if err != nil {
			return nil, err
		}
		pc.unit = unit
		protocol := runs.ProtocolREST
		if tc.Type == dsl.TestTypeSOAP {
			protocol = runs.ProtocolSOAP
		}
		pc.Run = runs.APICase(runs.NewApiTestRun(d.newID(), tc.ID, tc.Name, protocol))
	case dsl.TestTypeE2E:
		if err := translator.Validate(tc, vars); err != nil {
			return nil, err
		}
		pc.Run = runs.E2ECase(runs.NewE2eTestRun(d.newID(), tc.ID, tc.Name))
	default:
		return nil, fmt.Errorf("%w: test %q has unsupported type %q", translator.ErrDefinition, tc.ID, tc.Type)
	}
	return pc, nil
}

// saveFunc persists a snapshot of a case run.
type saveFunc func(ctx context.Context, c runs.TestCaseRun)

// ExecuteAPITest runs a REST or SOAP test to completion and returns its
// final run.
func (d *Dispatcher) ExecuteAPITest(ctx context.Context, tc *dsl.TestCase, vars map[string]string) (*runs.ApiTestRun, error) {
	if tc != nil && tc.Type == dsl.TestTypeE2E {
		return nil, fmt.Errorf("%w: test %q is an E2E test", translator.ErrDefinition, tc.ID)
	}
	pc, err := d.PrepareCase(tc, vars)
	if err != nil {
		return nil, err
	}
	d.saveCase(ctx, pc.Run, "")
	err = d.RunCase(ctx, pc, d.caseSaver(""))
	return pc.Run.API, err
}

// ExecuteE2ETest runs a multi-step workflow to completion and returns its
// final run.
func (d *Dispatcher) ExecuteE2ETest(ctx context.Context, tc *dsl.TestCase, vars map[string]string) (*runs.E2eTestRun, error) {
	if tc != nil && tc.Type != dsl.TestTypeE2E {
		return nil, fmt.Errorf("%w: test %q is not an E2E test", translator.ErrDefinition, tc.ID)
	}
	pc, err := d.PrepareCase(tc, vars)
	if err != nil {
		return nil, err
	}
	d.saveCase(ctx, pc.Run, "")
	err = d.RunCase(ctx, pc, d.caseSaver(""))
	return pc.Run.E2E, err
}

// RunCase drives a prepared case from NOT_STARTED to a terminal state. The
// returned error is non-nil only when the run could not complete normally
// (timeout, worker unavailable, cancellation); the run itself always ends
// terminal.
func (d *Dispatcher) RunCase(ctx context.Context, pc *PreparedCase, save saveFunc) error {
	if save == nil {
		save = func(context.Context, runs.TestCaseRun) {}
	}
	switch pc.Run.Kind {
	case runs.CaseKindAPI:
		return d.runAPI(ctx, pc, save)
	case runs.CaseKindE2E:
		return d.runE2E(ctx, pc, save)
	default:
		panic(fmt.Sprintf("orchestrator: unknown case kind %q", pc.Run.Kind))
	}
}

func (d *Dispatcher) runAPI(ctx context.Context, pc *PreparedCase, save saveFunc) error {
	run := pc.Run.API
	if err := run.Start(); err != nil {
		return err
	}
	save(ctx, pc.Run)

	logger := d.logger.With("run_id", run.ID, "test_id", run.TestID)
	logger.Debug("dispatching api test", "method", pc.unit.Request.Method, "url", pc.unit.Request.URL)

	raw, err := d.dispatch(ctx, run.ID, pc.unit, d.apiTimeout)
	if err != nil {
		d.failRun(&run.Run, err)
		save(ctx, pc.Run)
		logger.Warn("api test did not complete", "error", err)
		return err
	}
	if raw.Failed() {
		_ = run.Fail(runs.ErrorKindTransport, transportMessage(raw))
		save(ctx, pc.Run)
		logger.Info("api test failed", "error", raw.Error)
		return nil
	}

	if err := translator.ApplyResult(run, pc.unit, raw); err != nil {
		_ = run.Fail(runs.ErrorKindAborted, err.Error())
		save(ctx, pc.Run)
		return err
	}
	if run.AllAssertionsPassed() {
		_ = run.CompleteWithSuccess()
	} else {
		_ = run.CompleteWithFailure()
	}
	save(ctx, pc.Run)
	logger.Info("api test completed", "result", run.Result, "assertions", len(run.AssertionResults))
	return nil
}

func (d *Dispatcher) runE2E(ctx context.Context, pc *PreparedCase, save saveFunc) error {
	run := pc.Run.E2E
	if err := run.Start(); err != nil {
		return err
	}
	save(ctx, pc.Run)

	logger := d.logger.With("run_id", run.ID, "test_id", run.TestID)
	deadline := time.Now().Add(d.workflowTimeout)
	scope := dsl.MergeVariables(pc.Vars, nil)

	for i := range pc.Test.Steps {
		step := &pc.Test.Steps[i]
		stepRun := runs.NewE2eStepRun(d.newID(), i, step.Name)
		if err := run.AddStepRun(stepRun); err != nil {
			return err
		}

		unit, err := translator.TranslateStep(step, scope)
		if err != nil {
			// Steps were validated up front; this only fires for values
			// introduced by extraction.
			_ = stepRun.Start()
			_ = stepRun.Fail(runs.ErrorKindAborted, err.Error())
			_ = run.Fail(runs.ErrorKindAborted, fmt.Sprintf("step %d (%s): %v", i, step.Name, err))
			save(ctx, pc.Run)
			return err
		}

		_ = stepRun.Start()
		save(ctx, pc.Run)
		logger.Debug("dispatching e2e step", "step", i, "name", step.Name)

		raw, err := d.dispatch(ctx, stepRun.ID, unit, time.Until(deadline))
		if err != nil {
			d.failRun(&stepRun.Run, err)
			d.failRun(&run.Run, fmt.Errorf("step %d (%s): %w", i, step.Name, err))
			save(ctx, pc.Run)
			logger.Warn("e2e workflow aborted", "step", i, "error", err)
			return err
		}
		if raw.Failed() {
			msg := transportMessage(raw)
			_ = stepRun.Fail(runs.ErrorKindTransport, msg)
			_ = run.Fail(runs.ErrorKindTransport, fmt.Sprintf("step %d (%s): %s", i, step.Name, msg))
			save(ctx, pc.Run)
			logger.Info("e2e workflow failed", "step", i, "error", msg)
			return nil
		}

		if err := translator.ApplyResult(stepRun, unit, raw); err != nil {
			_ = stepRun.Fail(runs.ErrorKindAborted, err.Error())
			_ = run.Fail(runs.ErrorKindAborted, err.Error())
			save(ctx, pc.Run)
			return err
		}

		values, failures := extractors.ExtractAll(unit.Extractors, *raw.Response)
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_ = stepRun.RecordExtraction(name, values[name])
		}
		for _, f := range failures {
			_ = stepRun.RecordExtractionFailure(f.Variable, f.Message)
		}
		scope = dsl.MergeVariables(scope, values)

		if stepRun.AllAssertionsPassed() {
			_ = stepRun.CompleteWithSuccess()
		} else {
			_ = stepRun.CompleteWithFailure()
		}
		save(ctx, pc.Run)
	}

	if run.AllStepsPassed() {
		_ = run.CompleteWithSuccess()
	} else {
		_ = run.CompleteWithFailure()
	}
	save(ctx, pc.Run)
	logger.Info("e2e test completed", "result", run.Result,
		"passed_steps", run.PassedStepsCount(), "failed_steps", run.FailedStepsCount())
	return nil
}

// dispatch submits one unit and waits for its result, the budget to run
// out, or ctx to end. Whatever happens, the pending entry is gone when it
// returns, so a late result is dropped.
func (d *Dispatcher) dispatch(ctx context.Context, runID string, unit translator.Unit, budget time.Duration) (wire.RawResult, error) {
	if err := ctx.Err(); err != nil {
		return wire.RawResult{}, err
	}
	if budget <= 0 {
		return wire.RawResult{}, ErrTimeout
	}

	unitID := d.newID()
	results := d.pending.register(unitID)
	defer d.pending.remove(unitID)

	env := wire.Envelope{
		UnitID:     unitID,
		RunID:      runID,
		Request:    unit.Request,
		Assertions: unit.Assertions,
		Timeout:    budget,
	}
	if err := d.submitter.Submit(ctx, env, d.complete); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return wire.RawResult{}, ctxErr
		}
		return wire.RawResult{}, fmt.Errorf("%w: %v", ErrWorkerUnavailable, err)
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case raw := <-results:
		return raw, nil
	case <-timer.C:
		return wire.RawResult{}, fmt.Errorf("%w after %s", ErrTimeout, budget)
	case <-ctx.Done():
		return wire.RawResult{}, ctx.Err()
	}
}

// complete is the worker callback. It may be called from any goroutine.
func (d *Dispatcher) complete(raw wire.RawResult) {
	if !d.pending.complete(raw.UnitID, raw) {
		d.logger.Warn("dropping result for unknown or finished unit", "unit_id", raw.UnitID)
	}
}

func (d *Dispatcher) failRun(r *runs.Run, err error) {
	switch {
	case errors.Is(err, ErrTimeout):
		_ = r.Fail(runs.ErrorKindTimeout, err.Error())
	case errors.Is(err, ErrWorkerUnavailable):
		_ = r.Fail(runs.ErrorKindWorkerUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		_ = r.Cancel(err.Error())
	default:
		_ = r.Fail(runs.ErrorKindAborted, err.Error())
	}
}

func transportMessage(raw wire.RawResult) string {
	if raw.Error != "" {
		return raw.Error
	}
	return "worker returned no response"
}

// PreparedSuite is a suite whose cases have all been validated.
type PreparedSuite struct {
	Suite *dsl.Suite
	Run   *runs.TestSuiteRun
	Cases []*PreparedCase
}

// PrepareSuite validates every case of suite. A single bad definition
// rejects the whole suite and no run is created.
func (d *Dispatcher) PrepareSuite(suite *dsl.Suite, vars map[string]string) (*PreparedSuite, error) {
	if suite == nil {
		return nil, fmt.Errorf("%w: suite is required", translator.ErrDefinition)
	}
	if len(suite.Tests) == 0 {
		return nil, fmt.Errorf("%w: suite %q has no tests", translator.ErrDefinition, suite.ID)
	}
	ps := &PreparedSuite{Suite: suite, Run: runs.NewTestSuiteRun(d.newID(), suite.ID, suite.Name)}
	for i := range suite.Tests {
		pc, err := d.PrepareCase(&suite.Tests[i], vars)
		if err != nil {
			return nil, fmt.Errorf("suite %q: %w", suite.ID, err)
		}
		ps.Cases = append(ps.Cases, pc)
	}
	return ps, nil
}

// ExecuteSuite runs every test of suite in order and returns the final
// suite run.
func (d *Dispatcher) ExecuteSuite(ctx context.Context, suite *dsl.Suite, vars map[string]string) (*runs.TestSuiteRun, error) {
	ps, err := d.PrepareSuite(suite, vars)
	if err != nil {
		return nil, err
	}
	d.saveSuite(ctx, ps.Run)
	err = d.RunSuite(ctx, ps)
	return ps.Run, err
}

// RunSuite executes the cases of a prepared suite sequentially. A failing
// case does not stop the suite; cancellation of ctx does, and cancels every
// case that has not run.
func (d *Dispatcher) RunSuite(ctx context.Context, ps *PreparedSuite) error {
	suiteRun := ps.Run
	if err := suiteRun.Start(); err != nil {
		return err
	}
	d.saveSuite(ctx, suiteRun)
	logger := d.logger.With("suite_run_id", suiteRun.ID, "suite_id", suiteRun.SuiteID)

	childSave := func(ctx context.Context, c runs.TestCaseRun) {
		d.saveCase(ctx, c, suiteRun.ID)
		d.saveSuite(ctx, suiteRun)
	}

	for i, pc := range ps.Cases {
		if err := ctx.Err(); err != nil {
			d.cancelRemaining(ctx, suiteRun, ps.Cases[i:], err)
			logger.Warn("suite cancelled", "error", err)
			return err
		}
		if err := suiteRun.AddCaseRun(pc.Run); err != nil {
			return err
		}
		if err := d.RunCase(ctx, pc, childSave); err != nil {
			logger.Debug("case did not complete", "test_id", pc.Test.ID, "error", err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				d.cancelRemaining(ctx, suiteRun, ps.Cases[i+1:], ctxErr)
				logger.Warn("suite cancelled", "error", ctxErr)
				return ctxErr
			}
		}
	}

	if suiteRun.AllPassed() {
		_ = suiteRun.CompleteWithSuccess()
	} else {
		_ = suiteRun.CompleteWithFailure()
	}
	d.saveSuite(ctx, suiteRun)
	logger.Info("suite completed", "result", suiteRun.Result,
		"passed", suiteRun.PassedCount(), "failed", suiteRun.FailedCount())
	return nil
}

func (d *Dispatcher) cancelRemaining(ctx context.Context, suiteRun *runs.TestSuiteRun, remaining []*PreparedCase, cause error) {
	for _, pc := range remaining {
		if err := suiteRun.AddCaseRun(pc.Run); err != nil {
			break
		}
		_ = pc.Run.Base().Cancel(cause.Error())
		d.saveCase(ctx, pc.Run, suiteRun.ID)
	}
	_ = suiteRun.Cancel(cause.Error())
	d.saveSuite(ctx, suiteRun)
}

func (d *Dispatcher) caseSaver(parentID string) saveFunc {
	return func(ctx context.Context, c runs.TestCaseRun) {
		d.saveCase(ctx, c, parentID)
	}
}

func (d *Dispatcher) saveCase(ctx context.Context, c runs.TestCaseRun, parentID string) {
	rec := runs.CaseRecord(c)
	rec.ParentID = parentID
	d.save(ctx, rec)
}

func (d *Dispatcher) saveSuite(ctx context.Context, s *runs.TestSuiteRun) {
	d.save(ctx, runs.SuiteRecord(s))
}

func (d *Dispatcher) save(ctx context.Context, rec runs.Record) {
	if d.store == nil {
		return
	}
	if err := d.store.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Error("failed to save run", "run_id", rec.ID, "kind", rec.Kind, "error", err)
	}
}
