// Package config loads settings for the later binary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdziat/simple-delayed-requests/pkg/core"
	"github.com/jdziat/simple-delayed-requests/pkg/dispatch"
	"github.com/jdziat/simple-delayed-requests/pkg/registry"
	"github.com/jdziat/simple-delayed-requests/pkg/storage"
	"github.com/jdziat/simple-delayed-requests/pkg/worker"
)

// Backends
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

// Config is the top-level configuration loaded from file and env.
type Config struct {
	Backend  string `yaml:"backend"`
	Database string `yaml:"database"`
	Redis    struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Password string `yaml:"password"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Queue string `yaml:"queue"`

	Worker struct {
		Concurrency   int           `yaml:"concurrency"`
		PollInterval  time.Duration `yaml:"poll_interval"`
		Lease         time.Duration `yaml:"lease"`
		MaxDeliveries int           `yaml:"max_deliveries"`
		SweepSchedule string        `yaml:"sweep_schedule"`
	} `yaml:"worker"`

	Dispatch struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"dispatch"`

	MaxAllocationAttempts int           `yaml:"max_allocation_attempts"`
	RecordGrace           time.Duration `yaml:"record_grace"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns built-in defaults.
func Default() *Config {
	cfg := &Config{
		Backend:               BackendSQL,
		Database:              storage.DefaultSQLitePath,
		Queue:                 core.DefaultQueue,
		MaxAllocationAttempts: registry.DefaultMaxAllocationAttempts,
		RecordGrace:           registry.DefaultRecordGrace,
	}
	cfg.Redis.Addr = "localhost:6379"
	cfg.Worker.Concurrency = worker.DefaultConcurrency
	cfg.Worker.PollInterval = worker.DefaultPollInterval
	cfg.Worker.Lease = worker.DefaultLease
	cfg.Worker.MaxDeliveries = worker.DefaultMaxDeliveries
	cfg.Worker.SweepSchedule = worker.DefaultSweepSchedule
	cfg.Dispatch.Timeout = dispatch.DefaultTimeout
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads the YAML file at path over the defaults. Environment
// references in the file are expanded. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the binary cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQL, BackendRedis:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be positive")
	}
	if c.Worker.Lease <= c.Dispatch.Timeout {
		return fmt.Errorf("config: worker.lease (%s) must exceed dispatch.timeout (%s)", c.Worker.Lease, c.Dispatch.Timeout)
	}
	if c.MaxAllocationAttempts < 0 {
		return fmt.Errorf("config: max_allocation_attempts must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}

// FromEnv overlays LATER_* environment variables onto c.
func FromEnv(c *Config) error {
	return fromLookup(c, os.LookupEnv)
}

func fromLookup(c *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("config: %s: %w", name, err)
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("config: %s: %w", name, err)
				return
			}
			*dst = d
		}
	}

	str("LATER_BACKEND", &c.Backend)
	str("LATER_DATABASE", &c.Database)
	str("LATER_REDIS_ADDR", &c.Redis.Addr)
	num("LATER_REDIS_DB", &c.Redis.DB)
	str("LATER_REDIS_PASSWORD", &c.Redis.Password)
	str("LATER_REDIS_PREFIX", &c.Redis.Prefix)
	str("LATER_QUEUE", &c.Queue)
	num("LATER_WORKER_CONCURRENCY", &c.Worker.Concurrency)
	dur("LATER_WORKER_POLL_INTERVAL", &c.Worker.PollInterval)
	dur("LATER_WORKER_LEASE", &c.Worker.Lease)
	num("LATER_WORKER_MAX_DELIVERIES", &c.Worker.MaxDeliveries)
	str("LATER_WORKER_SWEEP_SCHEDULE", &c.Worker.SweepSchedule)
	dur("LATER_DISPATCH_TIMEOUT", &c.Dispatch.Timeout)
	num("LATER_MAX_ALLOCATION_ATTEMPTS", &c.MaxAllocationAttempts)
	dur("LATER_RECORD_GRACE", &c.RecordGrace)
	str("LATER_HTTP_ADDR", &c.HTTP.Addr)
	str("LATER_LOG_LEVEL", &c.Log.Level)
	str("LATER_LOG_FORMAT", &c.Log.Format)

	c.Backend = strings.ToLower(c.Backend)
	c.Log.Format = strings.ToLower(c.Log.Format)
	return firstErr
}
