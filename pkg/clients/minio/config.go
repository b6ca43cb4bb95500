package minio

import (
	"errors"
	"time"
)

const maxStatementTruncateLen = 100

const (
	DefaultEndpoint     = "localhost:9000"
	DefaultRegion       = "us-east-1"
	DefaultBucket       = "analytics-metrics"
	DefaultHealthBucket = "health-check"

	// DefaultHealthTimeout bounds Health when the caller sets no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a string that never prints its value.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string               { return redacted }
func (s Secret) GoString() string             { return redacted }
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Value returns the secret itself.
func (s Secret) Value() string { return string(s) }

// Config configures a [Client]. Env tags are relative to the service
// prefix, e.g. ANALYTICS_MINIO_ENDPOINT.
type Config struct {
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey Secret `json:"-" yaml:"-" env:"SECRET_KEY"`
	Region    string `json:"region,omitempty" yaml:"region" env:"REGION"`
	UseSSL    bool   `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`

	// Bucket receives metric snapshots. It is created on first use.
	Bucket string `json:"bucket,omitempty" yaml:"bucket" env:"BUCKET"`

	// HealthBucket is checked by Health. It need not exist.
	HealthBucket string `json:"health_bucket,omitempty" yaml:"health_bucket" env:"HEALTH_BUCKET"`
}

// DefaultConfig returns a local development configuration without
// credentials.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:     DefaultEndpoint,
		Region:       DefaultRegion,
		Bucket:       DefaultBucket,
		HealthBucket: DefaultHealthBucket,
	}
}

// Validate fills defaults and requires an endpoint and access key.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.HealthBucket == "" {
		c.HealthBucket = DefaultHealthBucket
	}
	return nil
}

func truncateStatement(s string) string {
	r := []rune(s)
	if len(r) <= maxStatementTruncateLen {
		return s
	}
	return string(r[:maxStatementTruncateLen]) + "..."
}
