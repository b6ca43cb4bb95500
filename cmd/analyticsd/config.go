package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/config"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/errortrack"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/security"
)

// envPrefix is prepended to every variable, e.g. ANALYTICS_DEMO.
const envPrefix = "ANALYTICS"

// AppConfig is the service configuration. Values resolve in order:
// built-in defaults, the optional YAML/JSON file, the optional .env file,
// then the process environment.
type AppConfig struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
	Demo     bool   `yaml:"demo" env:"DEMO"`

	Executor ExecutorConfig `yaml:"executor" env:"EXECUTOR"`
	Metrics  MetricsConfig  `yaml:"metrics" env:"METRICS"`
	Health   HealthConfig   `yaml:"health" env:"HEALTH"`
	Errors   ErrorsConfig   `yaml:"errors" env:"ERRORS"`
	Security SecurityConfig `yaml:"security" env:"SECURITY"`
	Sandbox  SandboxConfig  `yaml:"sandbox" env:"SANDBOX"`
	Recovery RecoveryConfig `yaml:"recovery" env:"RECOVERY"`
	LLM      LLMConfig      `yaml:"llm" env:"LLM"`
	NATS     NATSConfig     `yaml:"nats" env:"NATS"`

	PostgresEnabled bool            `yaml:"postgres_enabled" env:"POSTGRES_ENABLED"`
	Postgres        postgres.Config `yaml:"postgres" env:"POSTGRES"`
	RedisEnabled    bool            `yaml:"redis_enabled" env:"REDIS_ENABLED"`
	Redis           redis.Config    `yaml:"redis" env:"REDIS"`
	MinIOEnabled    bool            `yaml:"minio_enabled" env:"MINIO_ENABLED"`
	MinIO           minio.Config    `yaml:"minio" env:"MINIO"`
}

type ExecutorConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent" env:"MAX_CONCURRENT" envDefault:"10"`
	ToolCacheSize int64         `yaml:"tool_cache_size" env:"TOOL_CACHE_SIZE" envDefault:"10000"`
	JobTimeout    time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT" envDefault:"5m"`
	DrainTimeout  time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT" envDefault:"30s"`
}

type MetricsConfig struct {
	Retention      time.Duration `yaml:"retention" env:"RETENTION" envDefault:"24h"`
	MaxPoints      int           `yaml:"max_points" env:"MAX_POINTS" envDefault:"100000"`
	ExportInterval time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL" envDefault:"1m"`
	// FileDir enables the JSON file exporter when set.
	FileDir      string        `yaml:"file_dir" env:"FILE_DIR"`
	RedisPrefix  string        `yaml:"redis_prefix" env:"REDIS_PREFIX" envDefault:"analytics:metrics"`
	RedisTTL     time.Duration `yaml:"redis_ttl" env:"REDIS_TTL" envDefault:"1h"`
	ObjectPrefix string        `yaml:"object_prefix" env:"OBJECT_PREFIX" envDefault:"snapshots"`
	// ListenAddr serves /metrics for Prometheus. Empty disables it.
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" envDefault:":9090"`
}

type HealthConfig struct {
	Interval         time.Duration `yaml:"interval" env:"INTERVAL" envDefault:"30s"`
	CheckTimeout     time.Duration `yaml:"check_timeout" env:"CHECK_TIMEOUT" envDefault:"10s"`
	HistorySize      int           `yaml:"history_size" env:"HISTORY_SIZE" envDefault:"100"`
	QueueDegradedAt  int           `yaml:"queue_degraded_at" env:"QUEUE_DEGRADED_AT" envDefault:"50"`
	QueueUnhealthyAt int           `yaml:"queue_unhealthy_at" env:"QUEUE_UNHEALTHY_AT" envDefault:"200"`
	MinSuccessRate   float64       `yaml:"min_success_rate" env:"MIN_SUCCESS_RATE" envDefault:"0.5"`
	MaxAvgDuration   time.Duration `yaml:"max_avg_duration" env:"MAX_AVG_DURATION" envDefault:"60s"`
	MinExecutions    int64         `yaml:"min_executions" env:"MIN_EXECUTIONS" envDefault:"5"`
	SlowPing         time.Duration `yaml:"slow_ping" env:"SLOW_PING" envDefault:"500ms"`
	DiskPath         string        `yaml:"disk_path" env:"DISK_PATH" envDefault:"/"`
	// ScratchDir is written and read back by the filesystem check. Empty
	// uses a directory under os.TempDir.
	ScratchDir string `yaml:"scratch_dir" env:"SCRATCH_DIR"`
	// ConnectivityTargets are host:port pairs dialed over TCP, one check each.
	ConnectivityTargets []string `yaml:"connectivity_targets" env:"CONNECTIVITY_TARGETS"`
	// Retention bounds stored health results; older rows are pruned.
	Retention time.Duration `yaml:"retention" env:"RETENTION" envDefault:"168h"`
	// GRPCAddr serves grpc.health.v1. Empty disables it.
	GRPCAddr string `yaml:"grpc_addr" env:"GRPC_ADDR" envDefault:":9091"`
}

type ErrorsConfig struct {
	FlushInterval     time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL" envDefault:"30s"`
	SpikeThreshold    int           `yaml:"spike_threshold" env:"SPIKE_THRESHOLD" envDefault:"10"`
	SpikeWindow       time.Duration `yaml:"spike_window" env:"SPIKE_WINDOW" envDefault:"5m"`
	MaxInstances      int           `yaml:"max_instances" env:"MAX_INSTANCES" envDefault:"100"`
	ResolvedRetention time.Duration `yaml:"resolved_retention" env:"RESOLVED_RETENTION" envDefault:"720h"`
}

type SecurityConfig struct {
	ContextTTL      time.Duration `yaml:"context_ttl" env:"CONTEXT_TTL" envDefault:"24h"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL" envDefault:"10m"`
	AuditSize       int           `yaml:"audit_size" env:"AUDIT_SIZE" envDefault:"1000"`
	// TokenKey enables session tokens when set.
	TokenKey    security.Secret `yaml:"-" env:"TOKEN_KEY"`
	TokenIssuer string          `yaml:"token_issuer" env:"TOKEN_ISSUER" envDefault:"analyticsd"`
	TokenTTL    time.Duration   `yaml:"token_ttl" env:"TOKEN_TTL" envDefault:"1h"`
}

type SandboxConfig struct {
	// Limits has no env name of its own: ANALYTICS_SANDBOX_MAX_FILE_OPS.
	Limits       security.Limits `yaml:"limits"`
	PollInterval time.Duration   `yaml:"poll_interval" env:"POLL_INTERVAL" envDefault:"100ms"`
	OSLimits     bool            `yaml:"os_limits" env:"OS_LIMITS"`
}

type RecoveryConfig struct {
	// ConfigFile lists component recovery configurations in YAML. When
	// empty a built-in set is used.
	ConfigFile string        `yaml:"config_file" env:"CONFIG_FILE"`
	Interval   time.Duration `yaml:"interval" env:"INTERVAL" envDefault:"1m"`
}

type LLMConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	Provider          string        `yaml:"provider" env:"PROVIDER" envDefault:"local"`
	RequestsPerMinute float64       `yaml:"requests_per_minute" env:"REQUESTS_PER_MINUTE" envDefault:"60"`
	Burst             int           `yaml:"burst" env:"BURST" envDefault:"5"`
	MaxRetries        int           `yaml:"max_retries" env:"MAX_RETRIES" envDefault:"3"`
	RetryDelay        time.Duration `yaml:"retry_delay" env:"RETRY_DELAY" envDefault:"1s"`
}

type NATSConfig struct {
	// URL enables alert publishing when set.
	URL     string `yaml:"url" env:"URL"`
	Subject string `yaml:"subject" env:"SUBJECT"`
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Sandbox:  SandboxConfig{Limits: security.DefaultLimits()},
		Postgres: *postgres.DefaultConfig(),
		Redis:    *redis.DefaultConfig(),
		MinIO:    *minio.DefaultConfig(),
		NATS:     NATSConfig{Subject: errortrack.DefaultAlertSubject},
	}
}

// loadConfig resolves the configuration through l, starting from the
// client defaults.
func loadConfig(l *config.Loader) (AppConfig, error) {
	cfg := defaultAppConfig()
	if err := l.Load(&cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate implements config.Validator. Client sections are validated by
// their constructors.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Executor.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("executor.max_concurrent must be >= 1, got %d", c.Executor.MaxConcurrent))
	}
	if c.Executor.ToolCacheSize < 1 {
		errs = append(errs, fmt.Errorf("executor.tool_cache_size must be >= 1, got %d", c.Executor.ToolCacheSize))
	}
	if c.Health.MinSuccessRate < 0 || c.Health.MinSuccessRate > 1 {
		errs = append(errs, fmt.Errorf("health.min_success_rate must be within [0, 1], got %g", c.Health.MinSuccessRate))
	}
	if c.Health.QueueDegradedAt > c.Health.QueueUnhealthyAt {
		errs = append(errs, errors.New("health.queue_degraded_at must not exceed queue_unhealthy_at"))
	}
	if c.Metrics.ExportInterval <= 0 {
		errs = append(errs, errors.New("metrics.export_interval must be positive"))
	}
	return errors.Join(errs...)
}
