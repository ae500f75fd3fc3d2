package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/testbench-io/testbench/internal/dsl"
	"github.com/testbench-io/testbench/internal/runs"
	"github.com/testbench-io/testbench/internal/worker"
)

// Engine runs tests in the background. Callers get a run id back as soon as
// the definition has been validated, then poll the store for progress.
type Engine struct {
	dispatcher *Dispatcher
	submitter  worker.Submitter
	store      RunStore
	logger     *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(sub worker.Submitter, store RunStore, opts Options) *Engine {
	if store == nil {
		store = NewMemoryRunStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		dispatcher: NewDispatcher(sub, store, opts),
		submitter:  sub,
		store:      store,
		logger:     opts.Logger.With("component", "engine"),
		baseCtx:    ctx,
		cancel:     cancel,
	}
}

// Dispatcher exposes the synchronous execution API.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// ExecuteTestCase validates tc, persists a NOT_STARTED run and executes it
// asynchronously. ctx only bounds the validation and the first save.
func (e *Engine) ExecuteTestCase(ctx context.Context, tc *dsl.TestCase, vars map[string]string) (string, error) {
	pc, err := e.dispatcher.PrepareCase(tc, vars)
	if err != nil {
		return "", err
	}
	rec := runs.CaseRecord(pc.Run)
	if err := e.store.SaveRun(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	e.logger.Info("test run created", "run_id", rec.ID, "test_id", tc.ID, "type", tc.Type)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.dispatcher.RunCase(e.baseCtx, pc, e.dispatcher.caseSaver("")); err != nil {
			e.logger.Debug("test run ended early", "run_id", rec.ID, "error", err)
		}
	}()
	return rec.ID, nil
}

// ExecuteSuite validates every case of suite, persists the suite run and
// executes it asynchronously.
func (e *Engine) ExecuteSuite(ctx context.Context, suite *dsl.Suite, vars map[string]string) (string, error) {
	ps, err := e.dispatcher.PrepareSuite(suite, vars)
	if err != nil {
		return "", err
	}
	if err := e.store.SaveRun(ctx, runs.SuiteRecord(ps.Run)); err != nil {
		return "", fmt.Errorf("failed to save suite run: %w", err)
	}
	e.logger.Info("suite run created", "run_id", ps.Run.ID, "suite_id", suite.ID, "tests", len(ps.Cases))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.dispatcher.RunSuite(e.baseCtx, ps); err != nil {
			e.logger.Debug("suite run ended early", "run_id", ps.Run.ID, "error", err)
		}
	}()
	return ps.Run.ID, nil
}

// GetRun returns the latest snapshot of a run.
func (e *Engine) GetRun(ctx context.Context, id string) (runs.Record, error) {
	return e.store.GetRun(ctx, id)
}

// GetRunHistory returns the runs of one test, newest first.
func (e *Engine) GetRunHistory(ctx context.Context, testID string, limit int) ([]runs.Record, error) {
	return e.store.ListRunsByTest(ctx, testID, limit)
}

// WorkerHealth reports the state of the worker backend.
func (e *Engine) WorkerHealth(ctx context.Context) (worker.Health, error) {
	return e.submitter.Health(ctx)
}

// Wait blocks until every background run has finished or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every in-flight run and waits for them to record their
// final state.
func (e *Engine) Close(ctx context.Context) error {
	e.cancel()
	if err := e.Wait(ctx); err != nil {
		e.logger.Warn("runs still in flight at shutdown", "error", err)
		return err
	}
	return nil
}
