package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/testbench-io/testbench/internal/dsl"
	"github.com/testbench-io/testbench/internal/runs"
	"github.com/testbench-io/testbench/internal/translator"
	"github.com/testbench-io/testbench/internal/wire"
	"github.com/testbench-io/testbench/internal/worker"
)

// shopBackend answers like a tiny order service and records every URL it
// was asked for.
type shopBackend struct {
	mu   sync.Mutex
	seen []string
}

func (b *shopBackend) Execute(ctx context.Context, req wire.Request) (wire.Response, error) {
	b.mu.Lock()
	b.seen = append(b.seen, req.Method+" "+req.URL)
	b.mu.Unlock()

	switch {
	case strings.HasSuffix(req.URL, "/health"):
		return jsonResponse(200, `{"status":"ok"}`), nil
	case strings.HasSuffix(req.URL, "/broken"):
		return jsonResponse(500, `{"error":"boom"}`), nil
	case strings.HasSuffix(req.URL, "/unreachable"):
		return wire.Response{}, errors.New("dial tcp: connection refused")
	case req.Method == "POST" && strings.HasSuffix(req.URL, "/orders"):
		return jsonResponse(201, `{"id":"ord-42","total":19.5}`), nil
	case strings.Contains(req.URL, "/orders/ord-42"):
		return jsonResponse(200, `{"id":"ord-42","state":"open"}`), nil
	default:
		return jsonResponse(404, `{}`), nil
	}
}

func (b *shopBackend) urls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seen...)
}

func jsonResponse(status int, body string) wire.Response {
	return wire.Response{
		StatusCode: status,
		Headers:    map[string][]string{"Content-Type": {"application/json"}},
		Body:       []byte(body),
		LatencyMs:  3,
	}
}

func newTestPool(t *testing.T, exec worker.Executor) *worker.Pool {
	t.Helper()
	p := worker.NewPool(exec, worker.PoolOptions{Concurrency: 2, QueueSize: 8})
	t.Cleanup(p.Close)
	return p
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func restTest(id, path string, asserts ...dsl.Assertion) dsl.TestCase {
	return dsl.TestCase{
		ID:         id,
		Name:       id,
		Type:       dsl.TestTypeREST,
		Request:    &dsl.RestRequest{Method: "GET", URL: "{{baseUrl}}" + path},
		Assertions: asserts,
	}
}

func statusIs(code string) dsl.Assertion {
	return dsl.Assertion{Type: "STATUS_EQUALS", Expected: code}
}

var shopVars = map[string]string{"baseUrl": "http://shop.local"}

// silentSubmitter accepts every unit and never answers unless told to.
type silentSubmitter struct {
	mu        sync.Mutex
	callbacks map[string]worker.Callback
}

func (s *silentSubmitter) Submit(_ context.Context, env wire.Envelope, done worker.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callbacks == nil {
		s.callbacks = make(map[string]worker.Callback)
	}
	s.callbacks[env.UnitID] = done
	return nil
}

func (s *silentSubmitter) Health(context.Context) (worker.Health, error) {
	return worker.Health{Backend: "silent", Healthy: true}, nil
}

func (s *silentSubmitter) deliverAll(raw wire.RawResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cb := range s.callbacks {
		r := raw
		r.UnitID = id
		cb(r)
	}
}

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, env wire.Envelope, done worker.Callback) error {
	args := m.Called(ctx, env, done)
	return args.Error(0)
}

func (m *mockSubmitter) Health(ctx context.Context) (worker.Health, error) {
	args := m.Called(ctx)
	return args.Get(0).(worker.Health), args.Error(1)
}

func TestExecuteAPITestSuccess(t *testing.T) {
	t.Parallel()

	store := NewMemoryRunStore()
	d := NewDispatcher(newTestPool(t, &shopBackend{}), store, Options{NewID: sequentialIDs()})

	tc := restTest("get-health", "/health",
		statusIs("200"),
		dsl.Assertion{ID: "ok", Type: "JSONPATH_EQUALS", Target: "$.status", Expected: "ok"},
	)
	run, err := d.ExecuteAPITest(context.Background(), &tc, shopVars)
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.Equal(t, runs.ResultSuccess, run.Result)
	assert.Equal(t, 200, run.Observed.StatusCode)
	require.Len(t, run.AssertionResults, 2)
	assert.Equal(t, "a0", run.AssertionResults[0].Assertion.ID)
	assert.Equal(t, "ok", run.AssertionResults[1].Assertion.ID)

	rec, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusCompleted, rec.Status)
	assert.Equal(t, "get-health", rec.TestID)
}

func TestExecuteAPITestAssertionFailure(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newTestPool(t, &shopBackend{}), nil, Options{})

	tc := restTest("get-broken", "/broken", statusIs("200"))
	run, err := d.ExecuteAPITest(context.Background(), &tc, shopVars)
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.Equal(t, runs.ResultFailure, run.Result)
	assert.Empty(t, run.ErrorKind)
	require.Len(t, run.AssertionResults, 1)
	assert.False(t, run.AssertionResults[0].Passed)
	assert.Equal(t, "expected status 200 but got 500", run.AssertionResults[0].Message)
}

func TestExecuteAPITestTransportFailure(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newTestPool(t, &shopBackend{}), nil, Options{})

	tc := restTest("down", "/unreachable", statusIs("200"))
	run, err := d.ExecuteAPITest(context.Background(), &tc, shopVars)
	require.NoError(t, err)

	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, runs.ResultFailure, run.Result)
	assert.Equal(t, runs.ErrorKindTransport, run.ErrorKind)
	assert.Contains(t, run.ErrorMessage, "connection refused")
	assert.Empty(t, run.AssertionResults)
}

func TestExecuteAPITestTimeout(t *testing.T) {
	t.Parallel()

	sub := &silentSubmitter{}
	d := NewDispatcher(sub, nil, Options{APITimeout: 50 * time.Millisecond})

	tc := restTest("slow", "/health", statusIs("200"))
	run, err := d.ExecuteAPITest(context.Background(), &tc, shopVars)
	require.ErrorIs(t, err, ErrTimeout)

	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, runs.ResultFailure, run.Result)
	assert.Equal(t, runs.ErrorKindTimeout, run.ErrorKind)
	assert.Zero(t, d.pending.len())

	// A result arriving after the deadline is dropped and changes nothing.
	sub.deliverAll(wire.RawResult{Response: &wire.Response{StatusCode: 200}})
	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Empty(t, run.AssertionResults)
}

func TestExecuteAPITestWorkerUnavailable(t *testing.T) {
	t.Parallel()

	sub := &mockSubmitter{}
	sub.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(worker.ErrQueueFull)

	d := NewDispatcher(sub, nil, Options{})
	tc := restTest("get-health", "/health")
	run, err := d.ExecuteAPITest(context.Background(), &tc, shopVars)
	require.ErrorIs(t, err, ErrWorkerUnavailable)

	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, runs.ErrorKindWorkerUnavailable, run.ErrorKind)
	sub.AssertNumberOfCalls(t, "Submit", 1)
}

func TestDispatchSendsTranslatedEnvelope(t *testing.T) {
	t.Parallel()

	sub := &mockSubmitter{}
	sub.On("Submit", mock.Anything, mock.MatchedBy(func(env wire.Envelope) bool {
		return env.Request.URL == "http://shop.local/health" &&
			env.Request.Method == "GET" &&
			len(env.Assertions) == 1 &&
			env.Timeout == time.Second
	}), mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		env := args.Get(1).(wire.Envelope)
		done := args.Get(2).(worker.Callback)
		go done(wire.RawResult{UnitID: env.UnitID, Response: &wire.Response{StatusCode: 200}})
	})

	d := NewDispatcher(sub, nil, Options{APITimeout: time.Second})
	tc := restTest("get-health", "/health", statusIs("200"))
	run, err := d.ExecuteAPITest(context.Background(), &tc, shopVars)
	require.NoError(t, err)
	assert.Equal(t, runs.ResultSuccess, run.Result)
	sub.AssertExpectations(t)
}

func TestPrepareCaseRejectsBadDefinitions(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&silentSubmitter{}, nil, Options{})

	tc := restTest("no-url", "")
	tc.Request.URL = "{{missing}}"
	tc.Request.Auth = &dsl.Auth{Type: dsl.AuthBearer, Token: ""}

	_, err := d.PrepareCase(&tc, nil)
	require.ErrorIs(t, err, translator.ErrDefinition)

	_, err = d.ExecuteE2ETest(context.Background(), &tc, nil)
	require.ErrorIs(t, err, translator.ErrDefinition)
}

func checkoutWorkflow() dsl.TestCase {
	return dsl.TestCase{
		ID:   "checkout",
		Name: "Checkout flow",
		Type: dsl.TestTypeE2E,
		Steps: []dsl.E2eStep{
			{
				Name:       "create order",
				Request:    &dsl.RestRequest{Method: "POST", URL: "{{baseUrl}}/orders", Body: &dsl.Body{Type: dsl.BodyJSON, Content: `{"sku":"A1"}`}},
				Assertions: []dsl.Assertion{statusIs("201")},
				Extract:    []dsl.Extractor{{Variable: "orderId", Source: "JSONPATH", Expression: "$.id"}},
			},
			{
				Name:       "fetch order",
				Request:    &dsl.RestRequest{Method: "GET", URL: "{{baseUrl}}/orders/{{orderId}}"},
				Assertions: []dsl.Assertion{{Type: "JSONPATH_EQUALS", Target: "$.state", Expected: "open"}},
			},
			{
				Name:       "cancel order",
				Request:    &dsl.RestRequest{Method: "DELETE", URL: "{{baseUrl}}/orders/{{orderId}}"},
				Assertions: []dsl.Assertion{statusIs("200")},
			},
		},
	}
}

func TestExecuteE2ETestPropagatesExtractedVariables(t *testing.T) {
	t.Parallel()

	backend := &shopBackend{}
	d := NewDispatcher(newTestPool(t, backend), nil, Options{})

	tc := checkoutWorkflow()
	run, err := d.ExecuteE2ETest(context.Background(), &tc, shopVars)
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.Equal(t, runs.ResultSuccess, run.Result)
	require.Len(t, run.Steps, 3)
	assert.Equal(t, map[string]string{"orderId": "ord-42"}, run.Steps[0].ExtractedVariables)
	for i, step := range run.Steps {
		assert.Equal(t, i, step.StepIndex)
		assert.Equal(t, runs.ResultSuccess, step.Result, "step %d", i)
	}

	assert.Equal(t, []string{
		"POST http://shop.local/orders",
		"GET http://shop.local/orders/ord-42",
		"DELETE http://shop.local/orders/ord-42",
	}, backend.urls())
}

func TestExecuteE2ETestContinuesAfterAssertionFailure(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newTestPool(t, &shopBackend{}), nil, Options{})

	tc := checkoutWorkflow()
	tc.Steps[1].Assertions = []dsl.Assertion{statusIs("204")}
	run, err := d.ExecuteE2ETest(context.Background(), &tc, shopVars)
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.Equal(t, runs.ResultFailure, run.Result)
	require.Len(t, run.Steps, 3)
	assert.Equal(t, runs.ResultFailure, run.Steps[1].Result)
	assert.Equal(t, 2, run.PassedStepsCount())
}

func TestExecuteE2ETestRecordsExtractionFailures(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newTestPool(t, &shopBackend{}), nil, Options{})

	tc := checkoutWorkflow()
	tc.Steps[0].Extract = append(tc.Steps[0].Extract, dsl.Extractor{Variable: "coupon", Source: "JSONPATH", Expression: "$.coupon"})
	tc.Steps = tc.Steps[:1]

	run, err := d.ExecuteE2ETest(context.Background(), &tc, shopVars)
	require.NoError(t, err)

	require.Len(t, run.Steps, 1)
	step := run.Steps[0]
	assert.Equal(t, "ord-42", step.ExtractedVariables["orderId"])
	require.Len(t, step.ExtractionFailures, 1)
	assert.Equal(t, "coupon", step.ExtractionFailures[0].Variable)
	assert.Equal(t, runs.ResultSuccess, run.Result, "extraction failures do not fail assertions")
}

func TestExecuteE2ETestAbortsOnTransportFailure(t *testing.T) {
	t.Parallel()

	backend := &shopBackend{}
	d := NewDispatcher(newTestPool(t, backend), nil, Options{})

	tc := checkoutWorkflow()
	tc.Steps[1].Request.URL = "{{baseUrl}}/unreachable"
	run, err := d.ExecuteE2ETest(context.Background(), &tc, shopVars)
	require.NoError(t, err)

	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, runs.ErrorKindTransport, run.ErrorKind)
	require.Len(t, run.Steps, 2, "remaining steps are not started")
	assert.Equal(t, runs.StatusFailed, run.Steps[1].Status)
	assert.Len(t, backend.urls(), 2)
}

func TestExecuteE2ETestWorkflowTimeout(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&silentSubmitter{}, nil, Options{WorkflowTimeout: 50 * time.Millisecond})

	tc := checkoutWorkflow()
	run, err := d.ExecuteE2ETest(context.Background(), &tc, shopVars)
	require.ErrorIs(t, err, ErrTimeout)

	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, runs.ErrorKindTimeout, run.ErrorKind)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, runs.ErrorKindTimeout, run.Steps[0].ErrorKind)
}

func TestExecuteSuite(t *testing.T) {
	t.Parallel()

	store := NewMemoryRunStore()
	d := NewDispatcher(newTestPool(t, &shopBackend{}), store, Options{})

	suite := &dsl.Suite{
		ID:   "orders",
		Name: "Orders",
		Tests: []dsl.TestCase{
			restTest("health", "/health", statusIs("200")),
			checkoutWorkflow(),
		},
	}

	run, err := d.ExecuteSuite(context.Background(), suite, shopVars)
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.Equal(t, runs.ResultSuccess, run.Result)
	assert.Equal(t, 2, run.PassedCount())
	assert.Equal(t, 0, run.FailedCount())
	require.Len(t, run.Cases, 2)
	assert.Equal(t, runs.CaseKindAPI, run.Cases[0].Kind)
	assert.Equal(t, runs.CaseKindE2E, run.Cases[1].Kind)

	suiteRec, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.RecordKindSuite, suiteRec.Kind)
	assert.Equal(t, runs.ResultSuccess, suiteRec.Result)

	children, err := store.ListRunsByTest(context.Background(), "checkout", 0)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, run.ID, children[0].ParentID)
}

func TestExecuteSuiteWithFailingCase(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newTestPool(t, &shopBackend{}), nil, Options{})

	suite := &dsl.Suite{
		ID: "mixed",
		Tests: []dsl.TestCase{
			restTest("broken", "/broken", statusIs("200")),
			restTest("health", "/health", statusIs("200")),
		},
	}

	run, err := d.ExecuteSuite(context.Background(), suite, shopVars)
	require.NoError(t, err)

	assert.Equal(t, runs.StatusCompleted, run.Status)
	assert.Equal(t, runs.ResultFailure, run.Result)
	assert.Equal(t, 1, run.PassedCount())
	assert.Equal(t, 1, run.FailedCount())
}

func TestExecuteSuiteRejectsInvalidCase(t *testing.T) {
	t.Parallel()

	store := NewMemoryRunStore()
	d := NewDispatcher(&silentSubmitter{}, store, Options{})

	bad := restTest("bad", "")
	bad.Request.URL = ""
	suite := &dsl.Suite{ID: "s", Tests: []dsl.TestCase{restTest("ok", "/health"), bad}}

	run, err := d.ExecuteSuite(context.Background(), suite, shopVars)
	require.ErrorIs(t, err, translator.ErrDefinition)
	assert.Nil(t, run)

	history, err := store.ListRunsByTest(context.Background(), "ok", 0)
	require.NoError(t, err)
	assert.Empty(t, history, "no run is created for a rejected suite")
}

func TestExecuteSuiteCancelled(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newTestPool(t, &shopBackend{}), nil, Options{})
	suite := &dsl.Suite{
		ID: "orders",
		Tests: []dsl.TestCase{
			restTest("health", "/health"),
			restTest("health-again", "/health"),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := d.ExecuteSuite(ctx, suite, shopVars)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, runs.ResultCancelled, run.Result)
	require.Len(t, run.Cases, 2)
	for _, c := range run.Cases {
		assert.Equal(t, runs.ResultCancelled, c.Base().Result)
	}
}

func TestPendingTableCompletesOnce(t *testing.T) {
	t.Parallel()

	p := newPendingTable()
	ch := p.register("u1")

	assert.True(t, p.complete("u1", wire.RawResult{UnitID: "u1"}))
	assert.False(t, p.complete("u1", wire.RawResult{UnitID: "u1"}), "duplicate results are dropped")
	assert.False(t, p.complete("u2", wire.RawResult{UnitID: "u2"}))

	raw := <-ch
	assert.Equal(t, "u1", raw.UnitID)
	assert.Zero(t, p.len())
}
