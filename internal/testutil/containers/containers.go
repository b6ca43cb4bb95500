//go:build integration

// Package containers starts the backing services used by integration
// tests. It carries the "integration" build tag so Docker dependencies stay
// out of unit test builds; callers need the same tag:
//
//	//go:build integration
//
// Every Start* function returns a handle the caller must terminate:
//
//	pg, err := containers.StartPostgres(ctx)
//	if err != nil { ... }
//	defer pg.Container.Terminate(ctx)
package containers

import (
	"context"
	"fmt"

	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/StricklySoft/stricklysoft-analytics/internal/testutil/fixtures"
)

// Images used by the helpers.
const (
	PostgresImage = "docker.io/postgres:16-alpine"
	RedisImage    = "docker.io/redis:7-alpine"
	MinIOImage    = "docker.io/minio/minio:latest"
)

// MinIO root credentials. Only valid inside the throwaway container.
const (
	MinIOAccessKey = "minioadmin"
	MinIOSecretKey = "minioadmin"
)

// PostgresResult is a running PostgreSQL container. ConnString disables
// TLS and can be used as postgres.Config.URI.
type PostgresResult struct {
	Container  *tcpostgres.PostgresContainer
	ConnString string
}

// StartPostgres starts PostgreSQL 16 with the fixtures database and user.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		PostgresImage,
		tcpostgres.WithDatabase(fixtures.DBName),
		tcpostgres.WithUsername(fixtures.DBUser),
		tcpostgres.WithPassword(fixtures.DBPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get postgres connection string: %w", err)
	}
	return &PostgresResult{Container: container, ConnString: connStr}, nil
}

// RedisResult is a running Redis container. ConnString has the form
// redis://host:port.
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// StartRedis starts Redis 7 without authentication.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, RedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}
	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}
	return &RedisResult{Container: container, ConnString: connStr}, nil
}

// MinIOResult is a running MinIO container. Endpoint is host:port.
type MinIOResult struct {
	Container *tcminio.MinioContainer
	Endpoint  string
}

// StartMinIO starts MinIO with the root credentials above.
func StartMinIO(ctx context.Context) (*MinIOResult, error) {
	container, err := tcminio.Run(ctx,
		MinIOImage,
		tcminio.WithUsername(MinIOAccessKey),
		tcminio.WithPassword(MinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start minio container: %w", err)
	}
	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get minio endpoint: %w", err)
	}
	return &MinIOResult{Container: container, Endpoint: endpoint}, nil
}
