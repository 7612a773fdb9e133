// Package config loads process configuration from environment
// variables via viper, following the fallback-default style of
// stanstork-stratum-api's internal/config/config.go but bound to env
// vars instead of a YAML file, since the operation config surface
// (spec §6) is env-var driven end to end.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OrchestratorConfig configures the orchestrator process: the HTTP API,
// scheduler, supervisor, and Temporal client.
type OrchestratorConfig struct {
	DatabaseURL      string        `mapstructure:"database_url"`
	ServerPort       string        `mapstructure:"server_port"`
	JWTSigningKey    string        `mapstructure:"jwt_signing_key"`
	SchedulerPoll    time.Duration `mapstructure:"scheduler_poll_interval"`
	TemporalHostPort string        `mapstructure:"temporal_host_port"`
	TemporalTaskQ    string        `mapstructure:"temporal_task_queue"`

	WorkerImage         string `mapstructure:"worker_image"`
	WorkerContainerName string `mapstructure:"worker_container_name"`
	WorkerEndpoint      string `mapstructure:"worker_endpoint"`
	WorkerCPULimit      int64  `mapstructure:"worker_cpu_limit"`
	WorkerMemoryLimit   int64  `mapstructure:"worker_memory_limit"`

	MigrateHTTPTimeout time.Duration `mapstructure:"migrate_http_timeout"`
}

// WorkerConfig configures the stateless migration worker process: its
// HTTP surface and JWT verification key.
type WorkerConfig struct {
	ServerPort    string `mapstructure:"server_port"`
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadOrchestrator reads MIGRATUM_* environment variables into an
// OrchestratorConfig, applying the same style of fallback defaults as
// the teacher's config.Load.
func LoadOrchestrator() (*OrchestratorConfig, error) {
	v := newViper("MIGRATUM")
	v.SetDefault("server_port", "8080")
	v.SetDefault("scheduler_poll_interval", 5*time.Second)
	v.SetDefault("temporal_task_queue", "MIGRATUM_OPERATIONS")
	v.SetDefault("worker_image", "migratum/worker:latest")
	v.SetDefault("worker_container_name", "migratum-worker")
	v.SetDefault("worker_endpoint", "http://127.0.0.1:9090")
	v.SetDefault("worker_cpu_limit", int64(1000))
	v.SetDefault("worker_memory_limit", int64(512*1024*1024))
	v.SetDefault("migrate_http_timeout", time.Hour)

	for _, key := range []string{
		"database_url", "server_port", "jwt_signing_key", "scheduler_poll_interval",
		"temporal_host_port", "temporal_task_queue",
		"worker_image", "worker_container_name", "worker_endpoint",
		"worker_cpu_limit", "worker_memory_limit", "migrate_http_timeout",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &OrchestratorConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal orchestrator config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("MIGRATUM_DATABASE_URL must be set")
	}
	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("MIGRATUM_JWT_SIGNING_KEY must be set")
	}
	return cfg, nil
}

// LoadWorker reads MIGRATUM_WORKER_* environment variables into a
// WorkerConfig.
func LoadWorker() (*WorkerConfig, error) {
	v := newViper("MIGRATUM_WORKER")
	v.SetDefault("server_port", "9090")

	for _, key := range []string{"server_port", "jwt_signing_key"} {
		_ = v.BindEnv(key)
	}

	cfg := &WorkerConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal worker config: %w", err)
	}
	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("MIGRATUM_WORKER_JWT_SIGNING_KEY must be set")
	}
	return cfg, nil
}
