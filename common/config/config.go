package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all engine configuration
type Config struct {
	Service    ServiceConfig
	Scheduler  SchedulerConfig
	Checkpoint CheckpointConfig
	Journal    JournalConfig
	Approval   ApprovalConfig
	Workflow   WorkflowConfig
	Telemetry  TelemetryConfig
}

// ServiceConfig holds process-wide settings
type ServiceConfig struct {
	Name        string
	Environment string
	LogLevel    string
	LogFormat   string
	Port        int
}

// WorkflowConfig controls where workflow documents (the reflection
// executor's patch target) are stored.
type WorkflowConfig struct {
	Backend    string // "memory" (default) or "redis"
	RedisAddr  string
	SchemaPath string // loaded from WORKFLOW_SCHEMA_PATH; not read anywhere: create-workflow validates against the built-in schema
}

// SchedulerConfig holds ready-set loop and executor defaults
type SchedulerConfig struct {
	IdlePollInterval time.Duration // §4.4 100ms idle-wait between ready-set iterations
	ScriptTimeout    time.Duration
	ShellTimeout     time.Duration
	AgentMaxRetries  int
}

// CheckpointConfig controls where CheckpointState is persisted
type CheckpointConfig struct {
	Backend string // "file" (default) or "postgres"
	Dir     string // root directory for file-backed checkpoints/summaries/journals
}

// JournalConfig controls event-journal persistence
type JournalConfig struct {
	Dir string
}

// ApprovalConfig controls the human-approval coordinator
type ApprovalConfig struct {
	UseRedisMirror bool
	RedisAddr      string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnableTracing  bool
	EnableMetrics  bool
	MetricsPort    int
	TracingBackend string // loaded from TRACING_BACKEND (default "stdout"); tracing.Setup does not read it and always exports to stdout
}

// Load loads configuration from environment variables.
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			Port:        getEnvInt("PORT", 8090),
		},
		Scheduler: SchedulerConfig{
			IdlePollInterval: getEnvDuration("SCHEDULER_IDLE_POLL", 100*time.Millisecond),
			ScriptTimeout:    getEnvDuration("SCRIPT_TIMEOUT", 30*time.Second),
			ShellTimeout:     getEnvDuration("SHELL_TIMEOUT", 60*time.Second),
			AgentMaxRetries:  getEnvInt("AGENT_MAX_RETRIES", 3),
		},
		Checkpoint: CheckpointConfig{
			Backend: getEnv("CHECKPOINT_BACKEND", "file"),
			Dir:     getEnv("CHECKPOINT_DIR", "./data/executions"),
		},
		Journal: JournalConfig{
			Dir: getEnv("JOURNAL_DIR", "./data/executions"),
		},
		Approval: ApprovalConfig{
			UseRedisMirror: getEnvBool("APPROVAL_REDIS_MIRROR", false),
			RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Workflow: WorkflowConfig{
			Backend:    getEnv("WORKFLOW_STORE_BACKEND", "memory"),
			RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
			SchemaPath: getEnv("WORKFLOW_SCHEMA_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			EnableTracing:  getEnvBool("ENABLE_TRACING", true),
			EnableMetrics:  getEnvBool("ENABLE_METRICS", true),
			MetricsPort:    getEnvInt("METRICS_PORT", 9090),
			TracingBackend: getEnv("TRACING_BACKEND", "stdout"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Scheduler.IdlePollInterval <= 0 {
		return fmt.Errorf("scheduler idle poll interval must be positive")
	}
	switch c.Checkpoint.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", c.Checkpoint.Backend)
	}
	switch c.Workflow.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown workflow store backend: %s", c.Workflow.Backend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
