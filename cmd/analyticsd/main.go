// Command analyticsd runs the agent analytics platform: the agent
// executor with its permission manager and sandbox, the metrics
// collector and exporters, health checks with automatic recovery, and
// error tracking.
//
// Configuration comes from ANALYTICS_* environment variables, optionally
// layered over the YAML or JSON file named by ANALYTICS_CONFIG_FILE and a
// .env file in the working directory:
//
//	ANALYTICS_DEMO=true go run ./cmd/analyticsd
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := loadConfig(config.New().
		WithEnvPrefix(envPrefix).
		WithFile(os.Getenv(envPrefix + "_CONFIG_FILE")).
		WithDotEnv(".env"))
	if err != nil {
		slog.Error("analyticsd: invalid configuration", "error", err)
		return 2
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("analyticsd: failed to initialise", "error", err)
		return 1
	}
	if err := a.start(ctx); err != nil {
		logger.Error("analyticsd: failed to start", "error", err)
		a.shutdown(context.Background())
		return 1
	}

	if cfg.Demo {
		if err := a.runDemo(ctx); err != nil {
			logger.Error("analyticsd: demo failed", "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("analyticsd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Executor.DrainTimeout)
	defer cancel()
	a.shutdown(shutdownCtx)
	logger.Info("analyticsd: stopped")
	return 0
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
