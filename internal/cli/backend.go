package cli

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/testbench-io/testbench/internal/config"
	"github.com/testbench-io/testbench/internal/orchestrator"
	"github.com/testbench-io/testbench/internal/persistence"
	"github.com/testbench-io/testbench/internal/worker"
)

// backend bundles the worker submitter and run store selected by config.
type backend struct {
	submitter worker.Submitter
	store     orchestrator.RunStore
	closers   []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	b.store = store
	b.closers = append(b.closers, closeStore)

	switch cfg.Worker.Backend {
	case config.BackendTemporal:
		c, err := dialTemporal(cfg.Worker.Temporal)
		if err != nil {
			b.Close()
			return nil, err
		}
		sub := worker.NewTemporalSubmitter(c, cfg.Worker.Temporal.TaskQueue, Logger)
		b.submitter = sub
		b.closers = append(b.closers, func() {
			sub.Wait()
			c.Close()
		})
	default:
		pool := worker.NewPool(worker.NewHTTPExecutor(cfg.Worker.HTTPTimeout), worker.PoolOptions{
			Concurrency:    cfg.Worker.Concurrency,
			QueueSize:      cfg.Worker.QueueSize,
			Evaluate:       cfg.Worker.Evaluate,
			DefaultTimeout: cfg.Worker.HTTPTimeout,
			Logger:         Logger,
		})
		b.submitter = pool
		b.closers = append(b.closers, pool.Close)
	}

	Logger.Debug("backend ready", "worker", cfg.Worker.Backend, "store", cfg.Store.Driver)
	return b, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (orchestrator.RunStore, func(), error) {
	if cfg.Driver == "memory" {
		return orchestrator.NewMemoryRunStore(), func() {}, nil
	}
	store, err := persistence.NewStore(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func dialTemporal(cfg config.TemporalConfig) (client.Client, error) {
	Logger.Debug("connecting to temporal", "host", cfg.Host, "namespace", cfg.Namespace)
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Host,
		Namespace: cfg.Namespace,
		Logger:    temporallog.NewStructuredLogger(Logger.With(slog.String("component", "temporal"))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}
	return c, nil
}
