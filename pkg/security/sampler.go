package security

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSampler samples the current process with gopsutil.
type ProcessSampler struct {
	pid int32
}

// NewProcessSampler returns a sampler for the current process.
func NewProcessSampler() *ProcessSampler {
	return &ProcessSampler{pid: int32(os.Getpid())}
}

// Sample implements UsageSampler. Dimensions the platform cannot report
// are left at zero.
func (s *ProcessSampler) Sample(ctx context.Context) (Usage, error) {
	p, err := process.NewProcessWithContext(ctx, s.pid)
	if err != nil {
		return Usage{}, err
	}

	var u Usage
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
		u.MemoryBytes = mem.RSS
	}
	if times, err := p.TimesWithContext(ctx); err == nil {
		u.CPUTime = time.Duration((times.User + times.System) * float64(time.Second))
	}
	children, err := p.ChildrenWithContext(ctx)
	switch {
	case err == nil:
		u.Processes = len(children)
	case !errors.Is(err, process.ErrorNoChildren):
		return u, err
	}
	if conns, err := p.ConnectionsWithContext(ctx); err == nil {
		u.NetworkConnections = len(conns)
	}
	return u, nil
}
