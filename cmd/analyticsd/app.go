package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/agent"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/analytics"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/errortrack"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/executor"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/health"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/metrics"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/recovery"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/security"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/store"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

const (
	healthPruneInterval = time.Hour
	persistTimeout      = 5 * time.Second
)

// app owns one instance of every service. Fields for disabled backends
// stay nil.
type app struct {
	cfg    AppConfig
	logger *slog.Logger

	pg    *postgres.Client
	store *store.Postgres
	redis *redis.Client
	minio *minio.Client
	nats  *errortrack.NATSNotifier

	source    analytics.DataSource
	cache     *tool.ResultCache
	llm       llm.Client
	collector *metrics.Collector
	tracker   *errortrack.Tracker
	security  *security.Manager
	sandbox   *security.Sandbox
	executor  *executor.Executor
	checker   *health.Checker
	recovery  *recovery.Manager

	// sampler backs the system_resources check; nil samples the host.
	sampler health.SystemSampler

	grpcHealth *grpchealth.Server
	grpcServer *grpc.Server
	httpServer *http.Server
	// Bound listener addresses, set by start.
	httpAddr, grpcAddr string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// newApp connects the enabled backends and constructs every service. On
// failure whatever was opened is closed again.
// appOption adjusts an app before it is built.
type appOption func(*app)

// withSystemSampler replaces the host sampler of the system_resources check.
func withSystemSampler(s health.SystemSampler) appOption {
	return func(a *app) { a.sampler = s }
}

func newApp(ctx context.Context, cfg AppConfig, logger *slog.Logger, opts ...appOption) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.build(ctx); err != nil {
		a.closeBackends()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	if err := a.connect(ctx); err != nil {
		return err
	}
	cache, err := tool.NewResultCache(a.cfg.Executor.ToolCacheSize)
	if err != nil {
		return err
	}
	a.cache = cache
	if err := a.buildServices(); err != nil {
		return err
	}
	a.registerChecks()
	return a.configureRecovery()
}

func (a *app) connect(ctx context.Context) error {
	cfg := a.cfg
	if cfg.PostgresEnabled {
		pg, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		a.pg = pg
		a.store = store.NewPostgres(pg, store.WithLogger(a.logger))
		if err := a.store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.source = analytics.NewPostgresSource(pg)
	} else {
		a.logger.Warn("analyticsd: postgres disabled, using in-memory demo data")
		a.source = demoSource(time.Now())
	}
	if cfg.RedisEnabled {
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.redis = rc
	}
	if cfg.MinIOEnabled {
		mc, err := minio.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return err
		}
		if err := mc.EnsureBucket(ctx, mc.Bucket()); err != nil {
			return err
		}
		a.minio = mc
	}
	if cfg.NATS.URL != "" {
		n, err := errortrack.DialNATS(cfg.NATS.URL)
		if err != nil {
			return err
		}
		n.Subject = cfg.NATS.Subject
		a.nats = n
	}
	return nil
}

func (a *app) buildServices() error {
	cfg := a.cfg

	var exporters []metrics.Exporter
	if cfg.Metrics.FileDir != "" {
		exporters = append(exporters, metrics.NewFileExporter(cfg.Metrics.FileDir))
	}
	if a.redis != nil {
		exporters = append(exporters, &metrics.RedisExporter{Client: a.redis, Prefix: cfg.Metrics.RedisPrefix, TTL: cfg.Metrics.RedisTTL})
	}
	if a.minio != nil {
		exporters = append(exporters, &metrics.ObjectExporter{Client: a.minio, Bucket: a.minio.Bucket(), Prefix: cfg.Metrics.ObjectPrefix})
	}
	a.collector = metrics.NewCollector(
		metrics.WithRetention(cfg.Metrics.Retention),
		metrics.WithMaxPoints(cfg.Metrics.MaxPoints),
		metrics.WithExporters(cfg.Metrics.ExportInterval, exporters...),
		metrics.WithMeterProvider(otel.GetMeterProvider()),
		metrics.WithLogger(a.logger),
	)

	notifiers := []errortrack.Notifier{errortrack.LogNotifier{Logger: a.logger}}
	if a.nats != nil {
		notifiers = append(notifiers, a.nats)
	}
	trackerOpts := []errortrack.Option{
		errortrack.WithNotifiers(notifiers...),
		errortrack.WithSpike(cfg.Errors.SpikeThreshold, cfg.Errors.SpikeWindow),
		errortrack.WithMaxInstances(cfg.Errors.MaxInstances),
		errortrack.WithResolvedRetention(cfg.Errors.ResolvedRetention),
		errortrack.WithLogger(a.logger),
	}
	if a.store != nil {
		trackerOpts = append(trackerOpts, errortrack.WithStore(a.store))
	}
	a.tracker = errortrack.NewTracker(trackerOpts...)

	secOpts := []security.ManagerOption{
		security.WithContextTTL(cfg.Security.ContextTTL),
		security.WithAuditSize(cfg.Security.AuditSize),
		security.WithLogger(a.logger),
	}
	if cfg.Security.TokenKey != "" {
		ti, err := security.NewTokenIssuer(cfg.Security.TokenKey, cfg.Security.TokenIssuer, cfg.Security.TokenTTL)
		if err != nil {
			return err
		}
		secOpts = append(secOpts, security.WithTokenIssuer(ti))
	}
	a.security = security.NewManager(secOpts...)
	a.sandbox = security.NewSandbox(cfg.Sandbox.Limits,
		security.WithPollInterval(cfg.Sandbox.PollInterval),
		security.WithOSLimits(cfg.Sandbox.OSLimits),
		security.WithSandboxLogger(a.logger),
	)

	if cfg.LLM.Enabled {
		a.llm = llm.RateLimited(llm.NewScripted(cfg.LLM.Provider), llm.RateLimitConfig{
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
			Burst:             cfg.LLM.Burst,
			MaxRetries:        cfg.LLM.MaxRetries,
			RetryDelay:        cfg.LLM.RetryDelay,
		})
	}

	execOpts := []executor.Option{
		executor.WithMaxConcurrent(cfg.Executor.MaxConcurrent),
		executor.WithResultCache(a.cache),
		executor.WithSecurity(a.security),
		executor.WithSandbox(a.sandbox),
		executor.WithObserver(a.collector),
		executor.WithErrorTracker(a.tracker),
		executor.WithLogger(a.logger),
	}
	if a.store != nil {
		execOpts = append(execOpts, executor.WithExecutionSink(a.store))
	}
	if a.llm != nil {
		execOpts = append(execOpts, executor.WithLLM(a.llm))
	}
	a.executor = executor.New(execOpts...)
	registerFactories(a.executor, a.source)

	a.checker = health.NewChecker(
		health.WithInterval(cfg.Health.Interval),
		health.WithCheckTimeout(cfg.Health.CheckTimeout),
		health.WithHistorySize(cfg.Health.HistorySize),
		health.WithLogger(a.logger),
	)
	a.recovery = recovery.NewManager(a.recoveryOptions()...)
	a.grpcHealth = grpchealth.NewServer()
	return nil
}

func (a *app) recoveryOptions() []recovery.Option {
	opts := []recovery.Option{recovery.WithTracker(a.tracker), recovery.WithLogger(a.logger)}
	if a.store != nil {
		opts = append(opts, recovery.WithAttemptSink(a.store))
	}
	return opts
}

// registerFactories makes the three analytics agent types available.
func registerFactories(e *executor.Executor, src analytics.DataSource) {
	e.RegisterFactory(analytics.TypeInventory, func(agent.Config) (agent.Strategy, error) {
		return analytics.NewInventoryStrategy(src), nil
	})
	e.RegisterFactory(analytics.TypeSupplier, func(agent.Config) (agent.Strategy, error) {
		return analytics.NewSupplierStrategy(src), nil
	})
	e.RegisterFactory(analytics.TypeDemand, func(agent.Config) (agent.Strategy, error) {
		return analytics.NewDemandStrategy(src), nil
	})
}

func (a *app) registerChecks() {
	hc := a.cfg.Health
	if a.pg != nil {
		a.checker.Register(health.Database("postgres", a.pg, hc.SlowPing))
	}
	if a.redis != nil {
		a.checker.Register(health.Database("redis", a.redis, hc.SlowPing))
	}
	if a.minio != nil {
		a.checker.Register(health.Database("minio", a.minio, hc.SlowPing))
	}
	if a.llm != nil {
		a.checker.Register(health.LLMProvider(a.llm))
	}
	sys := health.NewSystemResources()
	sys.DiskPath = hc.DiskPath
	if a.sampler != nil {
		sys.Sampler = a.sampler
	}
	a.checker.Register(sys)
	scratch := hc.ScratchDir
	if scratch == "" {
		scratch = filepath.Join(os.TempDir(), "analyticsd-health")
	}
	a.checker.Register(health.Filesystem(scratch))
	for _, addr := range hc.ConnectivityTargets {
		a.checker.Register(health.Connectivity("connectivity_"+addr, addr, hc.CheckTimeout))
	}
	a.checker.Register(health.QueueDepth("executor_queue", a.executor.QueueDepth, hc.QueueDegradedAt, hc.QueueUnhealthyAt))
	a.checker.Register(health.AgentPerformance(a.collector, hc.MinSuccessRate, hc.MaxAvgDuration, hc.MinExecutions))

	a.checker.OnSweep(a.recovery.OnSweep)
	a.checker.OnSweep(health.NewGRPCBridge(a.grpcHealth).Publish)
	if a.store != nil {
		a.checker.OnSweep(a.persistReport)
	}
}

func (a *app) persistReport(r health.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.store.SaveHealthReport(ctx, r); err != nil {
		a.logger.Warn("analyticsd: failed to save health report", "error", err)
	}
}

// defaultRecovery is used when no recovery file is configured. Component
// names match the registered health checks.
func defaultRecovery() []recovery.ComponentConfig {
	return []recovery.ComponentConfig{
		{
			Component:        "agent_performance",
			Actions:          []recovery.Action{recovery.ActionClearCache, recovery.ActionAlertOnly},
			FailureThreshold: 3,
			MaxAttempts:      3,
			Cooldown:         15 * time.Minute,
		},
		{Component: "executor_queue", Actions: []recovery.Action{recovery.ActionAlertOnly}, FailureThreshold: 2},
		{Component: "postgres", Actions: []recovery.Action{recovery.ActionAlertOnly}, FailureThreshold: 3},
	}
}

func (a *app) configureRecovery() error {
	configs := defaultRecovery()
	if path := a.cfg.Recovery.ConfigFile; path != "" {
		loaded, err := recovery.LoadConfigFile(path)
		if err != nil {
			return err
		}
		configs = loaded
	}
	for _, c := range configs {
		if err := a.recovery.Configure(c); err != nil {
			return err
		}
	}
	// Stale cached tool results are the usual cause of agents failing
	// together, so clearing them is the first remedy.
	a.recovery.RegisterCache("agent_performance", a.cache)
	return nil
}

// start launches the background loops and listeners.
func (a *app) start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	cfg := a.cfg

	if err := a.serve(); err != nil {
		a.cancel()
		return err
	}
	a.collector.Start(ctx)
	a.tracker.Start(ctx, cfg.Errors.FlushInterval)
	a.security.Start(ctx, cfg.Security.CleanupInterval)
	a.recovery.Start(ctx, cfg.Recovery.Interval)
	a.checker.Start(ctx)
	if a.store != nil && cfg.Health.Retention > 0 {
		a.wg.Add(1)
		go a.pruneLoop(ctx)
	}
	a.logger.Info("analyticsd: started",
		"agent_types", a.executor.Types(),
		"postgres", a.pg != nil,
		"redis", a.redis != nil,
		"minio", a.minio != nil,
		"nats", a.nats != nil,
		"http_addr", a.httpAddr,
		"grpc_addr", a.grpcAddr,
	)
	return nil
}

func (a *app) serve() error {
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		reg := prometheus.NewRegistry()
		if err := reg.Register(metrics.NewPrometheusCollector(a.collector)); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", a.handleHealth)
		a.httpServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		a.httpAddr = lis.Addr().String()
		go func() {
			if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("analyticsd: http server failed", "error", err)
			}
		}()
	}
	if addr := a.cfg.Health.GRPCAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		a.grpcAddr = lis.Addr().String()
		a.grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(a.grpcServer, a.grpcHealth)
		go func() {
			if err := a.grpcServer.Serve(lis); err != nil {
				a.logger.Error("analyticsd: grpc server failed", "error", err)
			}
		}()
	}
	return nil
}

// handleHealth reports the latest sweep; 503 when the platform is
// unhealthy.
func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := a.checker.Summary()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == health.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

func (a *app) pruneLoop(ctx context.Context) {
	defer a.wg.Done()
	t := time.NewTicker(healthPruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.store.PruneHealthResults(ctx, time.Now().Add(-a.cfg.Health.Retention))
			if err != nil {
				a.logger.Warn("analyticsd: health prune failed", "error", err)
				continue
			}
			a.logger.Debug("analyticsd: pruned health results", "rows", n)
		}
	}
}

// shutdown stops intake first, drains executions, then flushes exporters
// and the error tracker before closing backends.
func (a *app) shutdown(ctx context.Context) {
	if a.httpServer != nil {
		_ = a.httpServer.Shutdown(ctx)
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	a.checker.Stop()
	a.recovery.Stop()
	if err := a.executor.Close(ctx); err != nil {
		a.logger.Warn("analyticsd: executions still running at shutdown", "error", err)
	}
	a.collector.Stop()
	a.tracker.Stop()
	a.security.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.closeBackends()
}

func (a *app) closeBackends() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Warn("analyticsd: nats drain failed", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
