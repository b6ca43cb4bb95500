package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/metrics"
)

// ===== Test Doubles =====

type fakeSystem struct {
	usage SystemUsage
	err   error
}

func (f fakeSystem) SampleSystem(context.Context, string) (SystemUsage, error) { return f.usage, f.err }

type fakePinger struct{ err error }

func (f fakePinger) Health(context.Context) error { return f.err }

type fakeSummaries []metrics.Aggregate

func (f fakeSummaries) Summaries() []metrics.Aggregate { return f }

func static(name string, status Status) Check {
	return NewCheck(name, func(context.Context) Result { return Result{Status: status, Message: string(status)} })
}

// ===== Status =====

func TestWorst(t *testing.T) {
	t.Parallel()
	assert.Equal(t, StatusDegraded, Worst(StatusHealthy, StatusDegraded))
	assert.Equal(t, StatusUnhealthy, Worst(StatusUnhealthy, StatusUnknown))
	assert.Equal(t, StatusUnknown, Worst(StatusDegraded, StatusUnknown))
	assert.Equal(t, StatusHealthy, Worst(StatusHealthy, StatusHealthy))
}

// ===== Checks =====

func TestSystemResources_Classifies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		usage SystemUsage
		want  Status
	}{
		{"idle", SystemUsage{10, 20, 30}, StatusHealthy},
		{"busy cpu", SystemUsage{85, 20, 30}, StatusDegraded},
		{"memory exhausted", SystemUsage{10, 97, 30}, StatusUnhealthy},
		{"disk full beats busy cpu", SystemUsage{85, 20, 99}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewSystemResources()
			c.Sampler = fakeSystem{usage: tt.usage}
			r := c.Check(context.Background())
			assert.Equal(t, tt.want, r.Status)
			assert.Equal(t, tt.usage.DiskPercent, r.Details["disk_percent"])
		})
	}
}

func TestSystemResources_SamplerError(t *testing.T) {
	t.Parallel()
	c := NewSystemResources()
	c.Sampler = fakeSystem{err: errors.New("no procfs")}
	r := c.Check(context.Background())
	assert.Equal(t, StatusUnknown, r.Status)
	assert.Contains(t, r.Message, "no procfs")
}

func TestDatabase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, StatusHealthy, Database("postgres", fakePinger{}, time.Second).Check(context.Background()).Status)
	r := Database("postgres", fakePinger{err: errors.New("connection refused")}, time.Second).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "connection refused", r.Message)
}

func TestLLMProvider(t *testing.T) {
	t.Parallel()
	client := llm.NewScripted("scripted")
	check := LLMProvider(client)
	assert.Equal(t, "llm_scripted", check.Name())
	assert.Equal(t, StatusHealthy, check.Check(context.Background()).Status)

	client.SetPingError(errors.New("401"))
	assert.Equal(t, StatusUnhealthy, check.Check(context.Background()).Status)
}

func TestQueueDepth(t *testing.T) {
	t.Parallel()
	var depth atomic.Int64
	check := QueueDepth("queue", func() int { return int(depth.Load()) }, 10, 50)

	assert.Equal(t, StatusHealthy, check.Check(context.Background()).Status)
	depth.Store(10)
	assert.Equal(t, StatusDegraded, check.Check(context.Background()).Status)
	depth.Store(75)
	r := check.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, 75, r.Details["depth"])
}

func TestFilesystem(t *testing.T) {
	t.Parallel()
	r := Filesystem(t.TempDir()).Check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status, r.Message)
}

func TestConnectivity(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	assert.Equal(t, StatusHealthy, Connectivity("upstream", addr, time.Second).Check(context.Background()).Status)
	require.NoError(t, ln.Close())
	assert.Equal(t, StatusUnhealthy, Connectivity("upstream", addr, time.Second).Check(context.Background()).Status)
}

func TestAgentPerformance(t *testing.T) {
	t.Parallel()
	src := fakeSummaries{
		{AgentID: "good", Successes: 9, Failures: 1, AvgDurationSec: 1},
		{AgentID: "slow", Successes: 10, AvgDurationSec: 120},
		{AgentID: "new", Failures: 2},
	}
	r := AgentPerformance(src, 0.5, time.Minute, 5).Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, []string{"slow"}, r.Details["slow"])
	assert.NotContains(t, r.Details, "failing")

	src = append(src, metrics.Aggregate{AgentID: "broken", Successes: 1, Failures: 9})
	r = AgentPerformance(src, 0.5, time.Minute, 5).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, []string{"broken"}, r.Details["failing"])
}

// ===== Checker =====

func TestChecker_EmptyIsUnknown(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	assert.Equal(t, StatusUnknown, c.Summary().Status)
	assert.Equal(t, StatusUnknown, c.RunOnce(context.Background()).Status)
}

func TestChecker_OverallIsWorstComponent(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	c.Register(static("a", StatusHealthy))
	c.Register(static("b", StatusDegraded))

	report := c.RunOnce(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	require.Len(t, report.Components, 2)
	assert.Equal(t, "a", report.Components[0].Component)

	c.Register(static("b", StatusUnhealthy))
	report = c.RunOnce(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Len(t, report.Components, 2, "re-registering replaces")
	assert.Equal(t, report.Status, c.Summary().Status)
}

func TestChecker_PanicIsUnhealthy(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	c.Register(NewCheck("boom", func(context.Context) Result { panic("kaboom") }))

	r, ok := c.RunOnce(context.Background()).Component("boom")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Contains(t, r.Message, "kaboom")
}

func TestChecker_TimeoutIsUnhealthy(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := NewChecker(WithCheckTimeout(20 * time.Millisecond))
	c.Register(NewCheck("stuck", func(context.Context) Result {
		<-release
		return Healthy("late")
	}))
	c.Register(static("fine", StatusHealthy))

	report := c.RunOnce(context.Background())
	r, _ := report.Component("stuck")
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Contains(t, r.Message, "timed out")
	fine, _ := report.Component("fine")
	assert.Equal(t, StatusHealthy, fine.Status)
}

func TestChecker_MissingStatusIsUnknown(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	c.Register(NewCheck("blank", func(context.Context) Result { return Result{} }))
	r, _ := c.RunOnce(context.Background()).Component("blank")
	assert.Equal(t, StatusUnknown, r.Status)
}

func TestChecker_HistoryIsBounded(t *testing.T) {
	t.Parallel()
	c := NewChecker(WithHistorySize(3))
	c.Register(static("a", StatusHealthy))
	for range 5 {
		c.RunOnce(context.Background())
	}
	assert.Len(t, c.History("a", 0), 3)
	assert.Len(t, c.History("a", 2), 2)

	c.Unregister("a")
	assert.Empty(t, c.History("a", 0))
	assert.Empty(t, c.RunOnce(context.Background()).Components)
}

func TestChecker_NonPositiveHistorySizeKeepsDefault(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, -1} {
		c := NewChecker(WithHistorySize(n))
		c.Register(static("a", StatusHealthy))
		require.NotPanics(t, func() { c.RunOnce(context.Background()) })
		assert.Len(t, c.History("a", 0), 1)
	}
}

func TestChecker_CallbacksIsolated(t *testing.T) {
	t.Parallel()
	c := NewChecker()
	c.Register(static("a", StatusHealthy))
	var got atomic.Int32
	c.OnSweep(func(Report) { panic("bad subscriber") })
	c.OnSweep(func(r Report) {
		if r.Status == StatusHealthy {
			got.Add(1)
		}
	})

	c.RunOnce(context.Background())
	assert.Equal(t, int32(1), got.Load())
}

func TestChecker_StartStop(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	c := NewChecker(WithInterval(10 * time.Millisecond))
	c.Register(NewCheck("count", func(context.Context) Result {
		runs.Add(1)
		return Healthy("ok")
	}))

	c.Start(context.Background())
	c.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()
	n := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
	c.Stop()
}

// ===== gRPC Bridge =====

func TestGRPCBridge_Publish(t *testing.T) {
	t.Parallel()
	server := health.NewServer()
	bridge := NewGRPCBridge(server)

	c := NewChecker()
	c.Register(static("postgres", StatusHealthy))
	c.Register(static("llm_openai", StatusDegraded))
	c.Register(static("redis", StatusUnhealthy))
	c.OnSweep(bridge.Publish)
	c.RunOnce(context.Background())

	status := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status("postgres"))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status("llm_openai"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status("redis"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(""))

	bridge.ServeDegraded = false
	bridge.Publish(c.Summary())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status("llm_openai"))
}
