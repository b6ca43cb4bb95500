package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-analytics/internal/testutil"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/errortrack"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/security"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(config.New().WithEnvPrefix("ADDEFAULT"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Demo)
	assert.Equal(t, 10, cfg.Executor.MaxConcurrent)
	assert.Equal(t, 5*time.Minute, cfg.Executor.JobTimeout)
	assert.Equal(t, 0.5, cfg.Health.MinSuccessRate)
	assert.Equal(t, int64(5), cfg.Health.MinExecutions)
	assert.Equal(t, security.DefaultLimits(), cfg.Sandbox.Limits)
	assert.Equal(t, postgres.DefaultPort, cfg.Postgres.Port)
	assert.Equal(t, errortrack.DefaultAlertSubject, cfg.NATS.Subject)
	assert.False(t, cfg.PostgresEnabled)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	testutil.SetEnv(t, "ADENV_DEMO", "true")
	testutil.SetEnv(t, "ADENV_EXECUTOR_MAX_CONCURRENT", "3")
	testutil.SetEnv(t, "ADENV_HEALTH_MIN_SUCCESS_RATE", "0.75")
	testutil.SetEnv(t, "ADENV_SANDBOX_MAX_FILE_OPS", "7")
	testutil.SetEnv(t, "ADENV_SANDBOX_MAX_EXECUTION_TIME", "2s")
	testutil.SetEnv(t, "ADENV_POSTGRES_ENABLED", "true")
	testutil.SetEnv(t, "ADENV_POSTGRES_HOST", "db.internal")
	testutil.SetEnv(t, "ADENV_SECURITY_TOKEN_KEY", "0123456789abcdef0123456789abcdef")
	testutil.SetEnv(t, "ADENV_NATS_URL", "nats://bus:4222")
	testutil.SetEnv(t, "ADENV_HEALTH_CONNECTIVITY_TARGETS", "api.internal:443, bus:4222")

	cfg, err := loadConfig(config.New().WithEnvPrefix("ADENV"))
	require.NoError(t, err)
	assert.True(t, cfg.Demo)
	assert.Equal(t, []string{"api.internal:443", "bus:4222"}, cfg.Health.ConnectivityTargets)
	assert.Equal(t, 3, cfg.Executor.MaxConcurrent)
	assert.Equal(t, 0.75, cfg.Health.MinSuccessRate)
	assert.Equal(t, 7, cfg.Sandbox.Limits.MaxFileOps)
	assert.Equal(t, 2*time.Second, cfg.Sandbox.Limits.MaxExecutionTime)
	assert.Equal(t, security.DefaultLimits().MaxProcesses, cfg.Sandbox.Limits.MaxProcesses)
	assert.True(t, cfg.PostgresEnabled)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "analytics", cfg.Postgres.Database)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Security.TokenKey.Value())
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	path := testutil.TempFile(t, "analyticsd.yaml", `
log_level: debug
executor:
  max_concurrent: 4
metrics:
  listen_addr: ""
recovery:
  interval: 30s
`)
	cfg, err := loadConfig(config.New().WithEnvPrefix("ADYAML").WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Executor.MaxConcurrent)
	assert.Empty(t, cfg.Metrics.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Recovery.Interval)
}

func TestLoadConfig_Invalid(t *testing.T) {
	testutil.SetEnv(t, "ADBAD_HEALTH_MIN_SUCCESS_RATE", "1.5")
	testutil.SetEnv(t, "ADBAD_HEALTH_QUEUE_DEGRADED_AT", "500")

	_, err := loadConfig(config.New().WithEnvPrefix("ADBAD"))
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
	assert.ErrorContains(t, err, "min_success_rate")
	assert.ErrorContains(t, err, "queue_degraded_at")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warn").String())
	assert.Equal(t, "INFO", parseLevel("loud").String())
}
