package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/metrics"
)

// Thresholds are percentages at which a resource is degraded or
// unhealthy.
type Thresholds struct {
	Degraded  float64 `yaml:"degraded"`
	Unhealthy float64 `yaml:"unhealthy"`
}

func (t Thresholds) classify(v float64) Status {
	switch {
	case t.Unhealthy > 0 && v >= t.Unhealthy:
		return StatusUnhealthy
	case t.Degraded > 0 && v >= t.Degraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// SystemUsage is a sample of host resource usage in percent.
type SystemUsage struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// SystemSampler samples host resource usage.
type SystemSampler interface {
	SampleSystem(ctx context.Context, diskPath string) (SystemUsage, error)
}

// HostSampler samples the host with gopsutil.
type HostSampler struct{}

// SampleSystem implements SystemSampler.
func (HostSampler) SampleSystem(ctx context.Context, diskPath string) (SystemUsage, error) {
	var u SystemUsage
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return u, fmt.Errorf("cpu: %w", err)
	}
	if len(pcts) > 0 {
		u.CPUPercent = pcts[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return u, fmt.Errorf("memory: %w", err)
	}
	u.MemoryPercent = vm.UsedPercent
	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return u, fmt.Errorf("disk: %w", err)
	}
	u.DiskPercent = du.UsedPercent
	return u, nil
}

// SystemResources checks CPU, memory and disk usage.
type SystemResources struct {
	CPU      Thresholds
	Memory   Thresholds
	Disk     Thresholds
	DiskPath string
	Sampler  SystemSampler
}

// NewSystemResources returns the check with the default thresholds:
// degraded at 80%, unhealthy at 95%.
func NewSystemResources() *SystemResources {
	def := Thresholds{Degraded: 80, Unhealthy: 95}
	return &SystemResources{CPU: def, Memory: def, Disk: def, DiskPath: "/", Sampler: HostSampler{}}
}

func (s *SystemResources) Name() string { return "system_resources" }

// Check implements Check.
func (s *SystemResources) Check(ctx context.Context) Result {
	u, err := s.Sampler.SampleSystem(ctx, s.DiskPath)
	if err != nil {
		return Result{Status: StatusUnknown, Message: "sampling failed: " + err.Error()}
	}
	status := Worst(Worst(s.CPU.classify(u.CPUPercent), s.Memory.classify(u.MemoryPercent)), s.Disk.classify(u.DiskPercent))
	r := Result{
		Status:  status,
		Message: fmt.Sprintf("cpu %.1f%%, memory %.1f%%, disk %.1f%%", u.CPUPercent, u.MemoryPercent, u.DiskPercent),
	}
	return r.WithDetail("cpu_percent", u.CPUPercent).
		WithDetail("memory_percent", u.MemoryPercent).
		WithDetail("disk_percent", u.DiskPercent)
}

// Pinger is implemented by the storage clients.
type Pinger interface {
	Health(ctx context.Context) error
}

// Database checks that a database answers. Responses slower than Slow
// are degraded.
func Database(name string, db Pinger, slow time.Duration) Check {
	return NewCheck(name, func(ctx context.Context) Result {
		start := time.Now()
		if err := db.Health(ctx); err != nil {
			return Unhealthy(err.Error())
		}
		elapsed := time.Since(start)
		if slow > 0 && elapsed > slow {
			return Degraded(fmt.Sprintf("ping took %s", elapsed)).WithDetail("latency_ms", elapsed.Milliseconds())
		}
		return Healthy("reachable").WithDetail("latency_ms", elapsed.Milliseconds())
	})
}

// LLMProvider checks a language model provider. Clients that cannot be
// checked report unknown.
func LLMProvider(client llm.Client) Check {
	return NewCheck("llm_"+client.Provider(), func(ctx context.Context) Result {
		p, ok := client.(llm.Pinger)
		if !ok {
			return Result{Status: StatusUnknown, Message: "provider does not support probing"}
		}
		if err := p.Ping(ctx); err != nil {
			return Unhealthy(err.Error())
		}
		return Healthy("reachable")
	})
}

// QueueDepth checks a work queue length against absolute thresholds.
func QueueDepth(name string, depth func() int, degradedAt, unhealthyAt int) Check {
	return NewCheck(name, func(context.Context) Result {
		n := depth()
		t := Thresholds{Degraded: float64(degradedAt), Unhealthy: float64(unhealthyAt)}
		return Result{Status: t.classify(float64(n)), Message: fmt.Sprintf("%d queued", n)}.WithDetail("depth", n)
	})
}

// Filesystem checks that dir accepts a write and returns the same bytes.
func Filesystem(dir string) Check {
	return NewCheck("filesystem", func(context.Context) Result {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Unhealthy(err.Error())
		}
		f, err := os.CreateTemp(dir, ".healthcheck-*")
		if err != nil {
			return Unhealthy(err.Error())
		}
		name := f.Name()
		defer os.Remove(name)

		want := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		_, werr := f.Write(want)
		cerr := f.Close()
		if werr != nil || cerr != nil {
			return Unhealthy(fmt.Sprintf("write failed: %v", firstErr(werr, cerr)))
		}
		got, err := os.ReadFile(name)
		if err != nil {
			return Unhealthy("read failed: " + err.Error())
		}
		if string(got) != string(want) {
			return Unhealthy("read back different bytes")
		}
		return Healthy("writable").WithDetail("path", filepath.Clean(dir))
	})
}

// Connectivity checks that a TCP connection to addr can be opened.
func Connectivity(name, addr string, timeout time.Duration) Check {
	return NewCheck(name, func(ctx context.Context) Result {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return Unhealthy(err.Error()).WithDetail("addr", addr)
		}
		_ = conn.Close()
		return Healthy("connected").WithDetail("addr", addr)
	})
}

// SummarySource provides per-agent metric aggregates.
type SummarySource interface {
	Summaries() []metrics.Aggregate
}

// AgentPerformance flags agents whose success rate or mean duration is
// out of bounds. Agents with fewer than minExecutions are ignored.
func AgentPerformance(src SummarySource, minSuccessRate float64, maxAvgDuration time.Duration, minExecutions int64) Check {
	return NewCheck("agent_performance", func(context.Context) Result {
		status := StatusHealthy
		var slow, failing []string
		for _, a := range src.Summaries() {
			if a.Successes+a.Failures < minExecutions {
				continue
			}
			if a.SuccessRate() < minSuccessRate {
				failing = append(failing, a.AgentID)
				status = Worst(status, StatusUnhealthy)
			}
			if maxAvgDuration > 0 && a.AvgDurationSec > maxAvgDuration.Seconds() {
				slow = append(slow, a.AgentID)
				status = Worst(status, StatusDegraded)
			}
		}
		r := Result{Status: status, Message: fmt.Sprintf("%d failing, %d slow", len(failing), len(slow))}
		if len(failing) > 0 {
			r = r.WithDetail("failing", failing)
		}
		if len(slow) > 0 {
			r = r.WithDetail("slow", slow)
		}
		return r
	})
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
