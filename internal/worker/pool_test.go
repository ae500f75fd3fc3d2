package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testbench-io/testbench/internal/wire"
)

func staticExecutor(status int, body string) Executor {
	return ExecutorFunc(func(ctx context.Context, req wire.Request) (wire.Response, error) {
		return wire.Response{StatusCode: status, Body: []byte(body), LatencyMs: 1}, nil
	})
}

func collect(t *testing.T) (Callback, func() wire.RawResult) {
	t.Helper()
	ch := make(chan wire.RawResult, 1)
	return func(r wire.RawResult) { ch <- r }, func() wire.RawResult {
		select {
		case r := <-ch:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("no result delivered")
			return wire.RawResult{}
		}
	}
}

func TestPoolDeliversResult(t *testing.T) {
	t.Parallel()

	p := NewPool(staticExecutor(200, `{"ok":true}`), PoolOptions{Concurrency: 2, QueueSize: 4})
	defer p.Close()

	done, wait := collect(t)
	require.NoError(t, p.Submit(context.Background(), wire.Envelope{
		UnitID:     "u1",
		Assertions: []wire.AssertionSpec{{ID: "a0", Type: "STATUS_EQUALS", Expected: "200"}},
	}, done))

	res := wait()
	assert.Equal(t, "u1", res.UnitID)
	assert.False(t, res.Failed())
	assert.Equal(t, 200, res.Response.StatusCode)
	assert.Empty(t, res.Outcomes, "evaluation disabled")
}

func TestPoolEvaluatesWhenEnabled(t *testing.T) {
	t.Parallel()

	p := NewPool(staticExecutor(500, ""), PoolOptions{Evaluate: true})
	defer p.Close()

	done, wait := collect(t)
	require.NoError(t, p.Submit(context.Background(), wire.Envelope{
		UnitID:     "u1",
		Assertions: []wire.AssertionSpec{{ID: "a0", Type: "STATUS_EQUALS", Expected: "200"}},
	}, done))

	res := wait()
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, "a0", res.Outcomes[0].AssertionID)
	assert.False(t, res.Outcomes[0].Passed)
}

func TestPoolReportsExecutorErrors(t *testing.T) {
	t.Parallel()

	failing := ExecutorFunc(func(ctx context.Context, req wire.Request) (wire.Response, error) {
		return wire.Response{}, errors.New("connection refused")
	})
	panicking := ExecutorFunc(func(ctx context.Context, req wire.Request) (wire.Response, error) {
		panic("boom")
	})

	for name, exec := range map[string]Executor{"error": failing, "panic": panicking} {
		t.Run(name, func(t *testing.T) {
			p := NewPool(exec, PoolOptions{})
			defer p.Close()

			done, wait := collect(t)
			require.NoError(t, p.Submit(context.Background(), wire.Envelope{UnitID: "u"}, done))
			res := wait()
			assert.True(t, res.Failed())
			assert.Nil(t, res.Response)
			assert.NotEmpty(t, res.Error)
		})
	}
}

func TestPoolQueueFullAndClosed(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	blocking := ExecutorFunc(func(ctx context.Context, req wire.Request) (wire.Response, error) {
		<-release
		return wire.Response{StatusCode: 204}, nil
	})

	p := NewPool(blocking, PoolOptions{Concurrency: 1, QueueSize: 1})

	var wg sync.WaitGroup
	cb := func(wire.RawResult) { wg.Done() }

	// one unit occupies the worker, one sits in the queue
	wg.Add(1)
	require.NoError(t, p.Submit(context.Background(), wire.Envelope{UnitID: "busy"}, cb))
	require.Eventually(t, func() bool {
		h, _ := p.Health(context.Background())
		return h.QueueDepth == 0
	}, time.Second, 5*time.Millisecond)

	wg.Add(1)
	require.NoError(t, p.Submit(context.Background(), wire.Envelope{UnitID: "queued"}, cb))

	err := p.Submit(context.Background(), wire.Envelope{UnitID: "overflow"}, cb)
	assert.ErrorIs(t, err, ErrQueueFull)

	h, err := p.Health(context.Background())
	require.NoError(t, err)
	assert.True(t, h.Healthy)
	assert.Equal(t, 1, h.QueueDepth)
	assert.Equal(t, 1, h.Capacity)

	close(release)
	p.Close()
	wg.Wait()

	assert.ErrorIs(t, p.Submit(context.Background(), wire.Envelope{UnitID: "late"}, cb), ErrClosed)
	h, _ = p.Health(context.Background())
	assert.False(t, h.Healthy)
}

func TestPoolSubmitValidation(t *testing.T) {
	t.Parallel()

	p := NewPool(staticExecutor(200, ""), PoolOptions{})
	defer p.Close()

	assert.Error(t, p.Submit(context.Background(), wire.Envelope{UnitID: "u"}, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Submit(ctx, wire.Envelope{UnitID: "u"}, func(wire.RawResult) {}), context.Canceled)
}

func TestExecuteAppliesTimeout(t *testing.T) {
	t.Parallel()

	slow := ExecutorFunc(func(ctx context.Context, req wire.Request) (wire.Response, error) {
		<-ctx.Done()
		return wire.Response{}, ctx.Err()
	})
	res := Execute(context.Background(), slow, wire.Envelope{UnitID: "u", Timeout: 20 * time.Millisecond}, time.Minute, false)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "deadline exceeded")
}
