//go:build linux || darwin

package security

import (
	"sync"

	"golang.org/x/sys/unix"
)

// osLimitMu serializes sandboxed work holding OS limits. Resource limits
// belong to the process, not the goroutine.
var osLimitMu sync.Mutex

// applyOSLimits lowers the soft RLIMIT_FSIZE to the file size limit for
// the duration of the work. Other dimensions are enforced by sampling.
// The returned func restores the previous limit and must be called.
func applyOSLimits(l Limits) (func(), error) {
	osLimitMu.Lock()
	if l.MaxFileSize <= 0 {
		return osLimitMu.Unlock, nil
	}

	var prev unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_FSIZE, &prev); err != nil {
		osLimitMu.Unlock()
		return nil, err
	}
	next := prev
	next.Cur = uint64(l.MaxFileSize)
	if prev.Max != unix.RLIM_INFINITY && next.Cur > prev.Max {
		next.Cur = prev.Max
	}
	if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &next); err != nil {
		osLimitMu.Unlock()
		return nil, err
	}
	return func() {
		defer osLimitMu.Unlock()
		_ = unix.Setrlimit(unix.RLIMIT_FSIZE, &prev)
	}, nil
}
