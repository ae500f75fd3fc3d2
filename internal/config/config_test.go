package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.APITimeout)
	assert.Equal(t, 60*time.Second, cfg.WorkflowTimeout)
	assert.Equal(t, BackendLocal, cfg.Worker.Backend)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 256, cfg.Worker.QueueSize)
	assert.False(t, cfg.Worker.Evaluate)
	assert.Equal(t, "testbench-units", cfg.Worker.Temporal.TaskQueue)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, ":7701", cfg.HealthAddr)
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("TESTBENCH_API_TIMEOUT", "5s")
	t.Setenv("TESTBENCH_WORKFLOW_TIMEOUT", "2m")
	t.Setenv("TESTBENCH_WORKER_BACKEND", "Temporal")
	t.Setenv("TESTBENCH_TEMPORAL_HOST", "localhost:7233")
	t.Setenv("TESTBENCH_WORKER_CONCURRENCY", "8")
	t.Setenv("TESTBENCH_WORKER_EVALUATE", "true")
	t.Setenv("TESTBENCH_STORE_DRIVER", "sqlite")
	t.Setenv("TESTBENCH_STORE_DSN", "file:runs.db")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.APITimeout)
	assert.Equal(t, 2*time.Minute, cfg.WorkflowTimeout)
	assert.Equal(t, BackendTemporal, cfg.Worker.Backend)
	assert.Equal(t, "localhost:7233", cfg.Worker.Temporal.Host)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.True(t, cfg.Worker.Evaluate)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:runs.db", cfg.Store.DSN)
}

func TestLoadConfigFromEnvErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"bad duration", map[string]string{"TESTBENCH_API_TIMEOUT": "soon"}, "invalid TESTBENCH_API_TIMEOUT"},
		{"negative duration", map[string]string{"TESTBENCH_WORKFLOW_TIMEOUT": "-1s"}, "must be positive"},
		{"bad int", map[string]string{"TESTBENCH_WORKER_QUEUE_SIZE": "lots"}, "invalid TESTBENCH_WORKER_QUEUE_SIZE"},
		{"zero concurrency", map[string]string{"TESTBENCH_WORKER_CONCURRENCY": "0"}, "must be positive"},
		{"bad bool", map[string]string{"TESTBENCH_WORKER_EVALUATE": "maybe"}, "invalid TESTBENCH_WORKER_EVALUATE"},
		{"unknown backend", map[string]string{"TESTBENCH_WORKER_BACKEND": "kafka"}, "unsupported TESTBENCH_WORKER_BACKEND"},
		{"temporal without host", map[string]string{"TESTBENCH_WORKER_BACKEND": "temporal"}, "TESTBENCH_TEMPORAL_HOST is required"},
		{"sql store without dsn", map[string]string{"TESTBENCH_STORE_DRIVER": "postgres"}, "TESTBENCH_STORE_DSN is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfigFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
