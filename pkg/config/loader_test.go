package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

type metricsSection struct {
	Retention time.Duration `env:"RETENTION" envDefault:"24h" yaml:"retention" json:"retention"`
	Dir       string        `env:"DIR" envDefault:"./metrics" yaml:"dir" json:"dir"`
}

type appConfig struct {
	Name        string         `env:"NAME" envDefault:"analyticsd" yaml:"name" json:"name"`
	Workers     int            `env:"WORKERS" envDefault:"4" yaml:"workers" json:"workers"`
	Debug       bool           `env:"DEBUG" yaml:"debug" json:"debug"`
	SuccessRate float64        `env:"SUCCESS_RATE" envDefault:"0.8" yaml:"success_rate" json:"success_rate"`
	MaxBytes    uint64         `env:"MAX_BYTES" envDefault:"1024" yaml:"max_bytes" json:"max_bytes"`
	Roles       []string       `env:"ROLES" envDefault:"viewer, analyst" yaml:"roles" json:"roles"`
	Metrics     metricsSection `env:"METRICS" yaml:"metrics" json:"metrics"`
}

type requiredConfig struct {
	Store struct {
		URI string `env:"URI" required:"true"`
	} `env:"STORE"`
}

type rangeConfig struct {
	Workers int `env:"WORKERS"`
}

func (c *rangeConfig) Validate() error {
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	return nil
}

// envMap builds a lookup function so tests never touch the process
// environment and can run in parallel.
func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ===== Argument checks =====

func TestLoad_RejectsNonStructPointers(t *testing.T) {
	t.Parallel()
	var n int
	for _, arg := range []any{nil, appConfig{}, &n} {
		err := New().Load(arg)
		require.Error(t, err)
		assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration))
	}
}

// ===== Layering =====

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()
	l := New()
	l.lookup = envMap(nil)

	var cfg appConfig
	require.NoError(t, l.Load(&cfg))
	assert.Equal(t, "analyticsd", cfg.Name)
	assert.Equal(t, 4, cfg.Workers)
	assert.InDelta(t, 0.8, cfg.SuccessRate, 1e-9)
	assert.Equal(t, uint64(1024), cfg.MaxBytes)
	assert.Equal(t, []string{"viewer", "analyst"}, cfg.Roles)
	assert.Equal(t, 24*time.Hour, cfg.Metrics.Retention)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "cfg.yaml", "workers: 16\nmetrics:\n  retention: 1h\n")
	l := New().WithFile(path)
	l.lookup = envMap(nil)

	var cfg appConfig
	require.NoError(t, l.Load(&cfg))
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, time.Hour, cfg.Metrics.Retention)
	assert.Equal(t, "./metrics", cfg.Metrics.Dir)
}

func TestLoad_JSONFile(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "cfg.json", `{"name":"json-svc","debug":true}`)
	l := New().WithFile(path)
	l.lookup = envMap(nil)

	var cfg appConfig
	require.NoError(t, l.Load(&cfg))
	assert.Equal(t, "json-svc", cfg.Name)
	assert.True(t, cfg.Debug)
}

func TestLoad_EnvWinsOverFileWithPrefixAndNesting(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "cfg.yml", "workers: 16\n")
	l := New().WithEnvPrefix("analytics").WithFile(path)
	l.lookup = envMap(map[string]string{
		"ANALYTICS_WORKERS":           "32",
		"ANALYTICS_METRICS_RETENTION": "90m",
		"ANALYTICS_SUCCESS_RATE":      "0.95",
	})

	var cfg appConfig
	require.NoError(t, l.Load(&cfg))
	assert.Equal(t, 32, cfg.Workers)
	assert.Equal(t, 90*time.Minute, cfg.Metrics.Retention)
	assert.InDelta(t, 0.95, cfg.SuccessRate, 1e-9)
}

func TestLoad_DotEnvFillsGapsOnly(t *testing.T) {
	t.Parallel()
	dotenv := writeFile(t, ".env", "APP_NAME=from-dotenv\nAPP_WORKERS=8\n")
	l := New().WithEnvPrefix("APP").WithDotEnv(dotenv)
	l.lookup = envMap(map[string]string{"APP_WORKERS": "2"})

	var cfg appConfig
	require.NoError(t, l.Load(&cfg))
	assert.Equal(t, "from-dotenv", cfg.Name)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoad_MissingFilesAreIgnored(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	l := New().WithFile(filepath.Join(dir, "absent.yaml")).WithDotEnv(filepath.Join(dir, ".env"))
	l.lookup = envMap(nil)

	var cfg appConfig
	assert.NoError(t, l.Load(&cfg))
}

// ===== Failures =====

func TestLoad_FileErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"traversal": "../etc/cfg.yaml",
		"extension": writeFile(t, "cfg.toml", "x = 1"),
		"bad yaml":  writeFile(t, "bad.yaml", "workers: [unterminated"),
		"bad json":  writeFile(t, "bad.json", "{"),
	}
	for name, path := range tests {
		l := New().WithFile(path)
		l.lookup = envMap(nil)
		var cfg appConfig
		err := l.Load(&cfg)
		require.Error(t, err, name)
		assert.True(t, sserr.HasCode(err, sserr.CodeInternalConfiguration), name)
	}
}

func TestLoad_InvalidEnvValues(t *testing.T) {
	t.Parallel()
	for key, value := range map[string]string{
		"WORKERS":           "many",
		"DEBUG":             "perhaps",
		"SUCCESS_RATE":      "high",
		"MAX_BYTES":         "-1",
		"METRICS_RETENTION": "forever",
	} {
		l := New()
		l.lookup = envMap(map[string]string{key: value})
		var cfg appConfig
		assert.Error(t, l.Load(&cfg), key)
	}
}

func TestLoad_RequiredNestedField(t *testing.T) {
	t.Parallel()
	l := New()
	l.lookup = envMap(nil)

	var cfg requiredConfig
	err := l.Load(&cfg)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidationRequired))
	assert.Contains(t, err.Error(), "Store.URI")

	l.lookup = envMap(map[string]string{"STORE_URI": "postgres://localhost/analytics"})
	assert.NoError(t, l.Load(&cfg))
}

func TestLoad_ValidatorWrapsPlainErrors(t *testing.T) {
	t.Parallel()
	l := New()
	l.lookup = envMap(map[string]string{"WORKERS": "-3"})

	var cfg rangeConfig
	err := l.Load(&cfg)
	require.Error(t, err)
	assert.True(t, sserr.HasCode(err, sserr.CodeValidation))
}

func TestMustLoad(t *testing.T) {
	t.Parallel()
	l := New()
	l.lookup = envMap(nil)
	assert.Equal(t, 4, MustLoad[appConfig](l).Workers)

	assert.Panics(t, func() { _ = MustLoad[requiredConfig](l) })
}
