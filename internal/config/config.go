package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Worker backends.
const (
	BackendLocal    = "local"
	BackendTemporal = "temporal"
)

// Config is the runtime configuration of the engine, its workers and its
// run store.
type Config struct {
	APITimeout      time.Duration
	WorkflowTimeout time.Duration
	Worker          WorkerConfig
	Store           StoreConfig
	HealthAddr      string
}

type WorkerConfig struct {
	Backend     string
	Concurrency int
	QueueSize   int
	Evaluate    bool
	HTTPTimeout time.Duration
	Temporal    TemporalConfig
}

type TemporalConfig struct {
	Host      string
	Namespace string
	TaskQueue string
}

type StoreConfig struct {
	Driver string
	DSN    string
}

const (
	defaultAPITimeout        = 30 * time.Second
	defaultWorkflowTimeout   = 60 * time.Second
	defaultHTTPTimeout       = 30 * time.Second
	defaultWorkerConcurrency = 4
	defaultWorkerQueueSize   = 256
	defaultTaskQueue         = "testbench-units"
	defaultNamespace         = "default"
	defaultStoreDriver       = "memory"
	defaultHealthAddr        = ":7701"
)

func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		HealthAddr: getEnvDefault("TESTBENCH_HEALTH_ADDR", defaultHealthAddr),
		Worker: WorkerConfig{
			Backend: strings.ToLower(getEnvDefault("TESTBENCH_WORKER_BACKEND", BackendLocal)),
			Temporal: TemporalConfig{
				Host:      strings.TrimSpace(os.Getenv("TESTBENCH_TEMPORAL_HOST")),
				Namespace: getEnvDefault("TESTBENCH_TEMPORAL_NAMESPACE", defaultNamespace),
				TaskQueue: getEnvDefault("TESTBENCH_TEMPORAL_TASK_QUEUE", defaultTaskQueue),
			},
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnvDefault("TESTBENCH_STORE_DRIVER", defaultStoreDriver)),
			DSN:    strings.TrimSpace(os.Getenv("TESTBENCH_STORE_DSN")),
		},
	}

	var err error
	if cfg.APITimeout, err = getEnvDuration("TESTBENCH_API_TIMEOUT", defaultAPITimeout); err != nil {
		return Config{}, err
	}
	if cfg.WorkflowTimeout, err = getEnvDuration("TESTBENCH_WORKFLOW_TIMEOUT", defaultWorkflowTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Worker.HTTPTimeout, err = getEnvDuration("TESTBENCH_HTTP_TIMEOUT", defaultHTTPTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Worker.Concurrency, err = getEnvInt("TESTBENCH_WORKER_CONCURRENCY", defaultWorkerConcurrency); err != nil {
		return Config{}, err
	}
	if cfg.Worker.QueueSize, err = getEnvInt("TESTBENCH_WORKER_QUEUE_SIZE", defaultWorkerQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.Worker.Evaluate, err = getEnvBool("TESTBENCH_WORKER_EVALUATE", false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c Config) Validate() error {
	switch c.Worker.Backend {
	case BackendLocal:
	case BackendTemporal:
		if c.Worker.Temporal.Host == "" {
			return fmt.Errorf("TESTBENCH_TEMPORAL_HOST is required for the temporal worker backend")
		}
	default:
		return fmt.Errorf("unsupported TESTBENCH_WORKER_BACKEND %q", c.Worker.Backend)
	}

	if c.Store.Driver != defaultStoreDriver && c.Store.DSN == "" {
		return fmt.Errorf("TESTBENCH_STORE_DSN is required for store driver %q", c.Store.Driver)
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getEnvInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return n, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
