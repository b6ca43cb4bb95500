package minio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-analytics/internal/testutil"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/config"
)

func TestSecret_Redacted(t *testing.T) {
	t.Parallel()
	s := Secret("minio-secret")
	assert.Equal(t, "[REDACTED]", s.GoString())
	assert.Equal(t, "minio-secret", s.Value())
	testutil.AssertJSONNotContains(t, Config{Endpoint: "e", AccessKey: "a", SecretKey: s}, "minio-secret")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	cfg := Config{Endpoint: "s3.internal:9000", AccessKey: "ak"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Equal(t, DefaultBucket, cfg.Bucket)
	assert.Equal(t, DefaultHealthBucket, cfg.HealthBucket)

	assert.ErrorContains(t, (&Config{AccessKey: "ak"}).Validate(), "endpoint")
	assert.ErrorContains(t, (&Config{Endpoint: "e"}).Validate(), "access_key")
}

func TestConfig_LoadsFromEnvironment(t *testing.T) {
	testutil.SetEnv(t, "MNTEST_MINIO_ENDPOINT", "s3.internal:9000")
	testutil.SetEnv(t, "MNTEST_MINIO_ACCESS_KEY", "ak")
	testutil.SetEnv(t, "MNTEST_MINIO_SECRET_KEY", "sk")
	testutil.SetEnv(t, "MNTEST_MINIO_USE_SSL", "true")

	var cfg struct {
		MinIO Config `env:"MINIO"`
	}
	require.NoError(t, config.New().WithEnvPrefix("MNTEST").Load(&cfg))
	assert.Equal(t, "s3.internal:9000", cfg.MinIO.Endpoint)
	assert.Equal(t, "sk", cfg.MinIO.SecretKey.Value())
	assert.True(t, cfg.MinIO.UseSSL)
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	got := truncateStatement("PutObject " + strings.Repeat("é", 200))
	assert.Len(t, []rune(got), maxStatementTruncateLen+3)
}
