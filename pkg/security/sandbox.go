package security

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Dimension names a sandbox limit.
type Dimension string

const (
	DimExecutionTime      Dimension = "execution_time"
	DimMemory             Dimension = "memory"
	DimCPUTime            Dimension = "cpu_time"
	DimFileOps            Dimension = "file_operations"
	DimFileSize           Dimension = "file_size"
	DimProcesses          Dimension = "processes"
	DimNetworkConnections Dimension = "network_connections"
)

// Limits are the ceilings of a sandboxed unit of work. A zero field is
// unlimited. CPU time, processes and network connections are measured
// as growth over the values sampled when the work started.
type Limits struct {
	MaxExecutionTime      time.Duration `yaml:"max_execution_time" env:"MAX_EXECUTION_TIME"`
	MaxMemoryBytes        uint64        `yaml:"max_memory_bytes" env:"MAX_MEMORY_BYTES"`
	MaxCPUTime            time.Duration `yaml:"max_cpu_time" env:"MAX_CPU_TIME"`
	MaxFileOps            int           `yaml:"max_file_ops" env:"MAX_FILE_OPS"`
	MaxFileSize           int64         `yaml:"max_file_size" env:"MAX_FILE_SIZE"`
	MaxProcesses          int           `yaml:"max_processes" env:"MAX_PROCESSES"`
	MaxNetworkConnections int           `yaml:"max_network_connections" env:"MAX_NETWORK_CONNECTIONS"`
}

// DefaultLimits returns the limits applied to tool calls.
func DefaultLimits() Limits {
	return Limits{
		MaxExecutionTime:      30 * time.Second,
		MaxMemoryBytes:        1 << 30,
		MaxCPUTime:            20 * time.Second,
		MaxFileOps:            100,
		MaxFileSize:           10 << 20,
		MaxProcesses:          4,
		MaxNetworkConnections: 20,
	}
}

// ViolationError reports the first limit a unit of work exceeded.
type ViolationError struct {
	Dimension Dimension
	Current   float64
	Limit     float64
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("sandbox: %s limit exceeded (current %g, limit %g)", e.Dimension, e.Current, e.Limit)
}

// violation wraps a ViolationError in a SBX_001 platform error.
func violation(dim Dimension, current, limit float64) error {
	v := &ViolationError{Dimension: dim, Current: current, Limit: limit}
	return sserr.Wrap(v, sserr.CodeSandboxViolation, "sandbox violation").
		WithDetails(map[string]any{"dimension": string(dim), "current": current, "limit": limit})
}

// Usage is a sample of process resource usage.
type Usage struct {
	MemoryBytes        uint64
	CPUTime            time.Duration
	Processes          int
	NetworkConnections int
}

// UsageSampler samples resource usage of the current process.
type UsageSampler interface {
	Sample(ctx context.Context) (Usage, error)
}

// Sandbox runs units of work under Limits. The zero value is not usable;
// construct one with NewSandbox.
type Sandbox struct {
	limits       Limits
	sampler      UsageSampler
	pollInterval time.Duration
	osLimits     bool
	now          func() time.Time
	logger       *slog.Logger
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithSampler replaces the gopsutil process sampler.
func WithSampler(s UsageSampler) SandboxOption {
	return func(sb *Sandbox) { sb.sampler = s }
}

// WithPollInterval sets how often usage is sampled while work runs.
// Zero disables polling; limits are still checked when the work returns.
func WithPollInterval(d time.Duration) SandboxOption {
	return func(sb *Sandbox) { sb.pollInterval = d }
}

// WithOSLimits applies soft OS resource limits for the duration of each
// unit of work. OS limits are process-wide, so sandboxed work holding
// them is serialized.
func WithOSLimits(enabled bool) SandboxOption {
	return func(sb *Sandbox) { sb.osLimits = enabled }
}

// WithSandboxClock replaces time.Now.
func WithSandboxClock(now func() time.Time) SandboxOption {
	return func(sb *Sandbox) { sb.now = now }
}

// WithSandboxLogger sets the logger.
func WithSandboxLogger(l *slog.Logger) SandboxOption {
	return func(sb *Sandbox) { sb.logger = l }
}

// NewSandbox returns a sandbox enforcing limits.
func NewSandbox(limits Limits, opts ...SandboxOption) *Sandbox {
	sb := &Sandbox{
		limits:       limits,
		pollInterval: 100 * time.Millisecond,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(sb)
	}
	if sb.sampler == nil {
		sb.sampler = NewProcessSampler()
	}
	return sb
}

// Limits returns the configured limits.
func (sb *Sandbox) Limits() Limits { return sb.limits }

// WithLimits returns a copy of sb enforcing limits instead.
func (sb *Sandbox) WithLimits(limits Limits) *Sandbox {
	cp := *sb
	cp.limits = limits
	return &cp
}

// Execute runs fn under the sandbox limits.
//
// Usage is polled while fn runs; on the first violation the context
// passed to fn is canceled. Limits are checked once more after fn
// returns, so overruns of work that ignores its context are still
// reported. A violation takes precedence over the error of fn. Tracked
// temporary files are removed and OS limits restored on every path.
func (sb *Sandbox) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	m := sb.newMonitor(ctx)
	defer m.cleanup()

	if sb.osLimits {
		restore, lerr := applyOSLimits(sb.limits)
		if lerr != nil {
			sb.logger.Warn("security: could not apply OS limits", "error", lerr)
		} else {
			defer restore()
		}
	}

	ctx, cancel := context.WithCancelCause(withMonitor(ctx, m))
	defer cancel(nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if sb.pollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.poll(ctx, sb.pollInterval, stop, cancel)
		}()
	}

	runErr := fn(ctx)
	close(stop)
	wg.Wait()

	if verr := m.CheckLimits(ctx); verr != nil {
		return verr
	}
	return runErr
}

// Monitor tracks one sandboxed unit of work. Tools reach it through
// MonitorFromContext to account file operations and temporary files.
type Monitor struct {
	sb       *Sandbox
	started  time.Time
	baseline Usage

	mu        sync.Mutex
	fileOps   int
	tempFiles []string
	violation error
}

func (sb *Sandbox) newMonitor(ctx context.Context) *Monitor {
	base, err := sb.sampler.Sample(ctx)
	if err != nil {
		sb.logger.Debug("security: baseline sample failed", "error", err)
		base = Usage{}
	}
	return &Monitor{sb: sb, started: sb.now(), baseline: base}
}

// Elapsed returns the time since the work started.
func (m *Monitor) Elapsed() time.Duration { return m.sb.now().Sub(m.started) }

// FileOps returns the number of recorded file operations.
func (m *Monitor) FileOps() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileOps
}

// Violation returns the first violation observed, if any.
func (m *Monitor) Violation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.violation
}

// CheckLimits samples usage and returns the first exceeded limit. Once a
// violation is observed it is returned by every later call.
func (m *Monitor) CheckLimits(ctx context.Context) error {
	if v := m.Violation(); v != nil {
		return v
	}
	return m.fail(m.check(ctx))
}

func (m *Monitor) check(ctx context.Context) error {
	l := m.sb.limits
	if l.MaxExecutionTime > 0 {
		if elapsed := m.Elapsed(); elapsed > l.MaxExecutionTime {
			return violation(DimExecutionTime, elapsed.Seconds(), l.MaxExecutionTime.Seconds())
		}
	}
	if l.MaxFileOps > 0 {
		if n := m.FileOps(); n > l.MaxFileOps {
			return violation(DimFileOps, float64(n), float64(l.MaxFileOps))
		}
	}
	if l.MaxMemoryBytes == 0 && l.MaxCPUTime == 0 && l.MaxProcesses == 0 && l.MaxNetworkConnections == 0 {
		return nil
	}

	u, err := m.sb.sampler.Sample(ctx)
	if err != nil {
		m.sb.logger.Debug("security: usage sample failed", "error", err)
		return nil
	}
	if l.MaxMemoryBytes > 0 && u.MemoryBytes > l.MaxMemoryBytes {
		return violation(DimMemory, float64(u.MemoryBytes), float64(l.MaxMemoryBytes))
	}
	if cpu := u.CPUTime - m.baseline.CPUTime; l.MaxCPUTime > 0 && cpu > l.MaxCPUTime {
		return violation(DimCPUTime, cpu.Seconds(), l.MaxCPUTime.Seconds())
	}
	if procs := u.Processes - m.baseline.Processes; l.MaxProcesses > 0 && procs > l.MaxProcesses {
		return violation(DimProcesses, float64(procs), float64(l.MaxProcesses))
	}
	if conns := u.NetworkConnections - m.baseline.NetworkConnections; l.MaxNetworkConnections > 0 && conns > l.MaxNetworkConnections {
		return violation(DimNetworkConnections, float64(conns), float64(l.MaxNetworkConnections))
	}
	return nil
}

// fail records err as the violation unless one is already recorded.
func (m *Monitor) fail(err error) error {
	if err == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.violation == nil {
		m.violation = err
	}
	return m.violation
}

// RecordFileOp accounts one file operation of size bytes and fails when
// the operation count or file size limit is exceeded.
func (m *Monitor) RecordFileOp(size int64) error {
	m.mu.Lock()
	m.fileOps++
	n := m.fileOps
	m.mu.Unlock()

	l := m.sb.limits
	if l.MaxFileSize > 0 && size > l.MaxFileSize {
		return m.fail(violation(DimFileSize, float64(size), float64(l.MaxFileSize)))
	}
	if l.MaxFileOps > 0 && n > l.MaxFileOps {
		return m.fail(violation(DimFileOps, float64(n), float64(l.MaxFileOps)))
	}
	return nil
}

// TrackTempFile registers path for removal when the work finishes.
func (m *Monitor) TrackTempFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempFiles = append(m.tempFiles, path)
}

// CreateTemp creates a tracked temporary file and counts it as a file
// operation.
func (m *Monitor) CreateTemp(dir, pattern string) (*os.File, error) {
	if err := m.RecordFileOp(0); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	m.TrackTempFile(f.Name())
	return f, nil
}

func (m *Monitor) cleanup() {
	m.mu.Lock()
	files := m.tempFiles
	m.tempFiles = nil
	m.mu.Unlock()
	for _, f := range files {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			m.sb.logger.Warn("security: could not remove temp file", "path", f, "error", err)
		}
	}
}

func (m *Monitor) poll(ctx context.Context, interval time.Duration, stop <-chan struct{}, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.CheckLimits(ctx); err != nil {
				m.sb.logger.Warn("security: sandbox limit exceeded", "error", err)
				cancel(err)
				return
			}
		}
	}
}

type monitorKey struct{}

func withMonitor(ctx context.Context, m *Monitor) context.Context {
	return context.WithValue(ctx, monitorKey{}, m)
}

// MonitorFromContext returns the monitor of the sandboxed work running
// under ctx.
func MonitorFromContext(ctx context.Context) (*Monitor, bool) {
	m, ok := ctx.Value(monitorKey{}).(*Monitor)
	return m, ok
}
