package recovery

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/errortrack"
)

// ActionHandler performs one recovery action for a component. A nil
// error means the action succeeded.
type ActionHandler func(ctx context.Context, cfg ComponentConfig, reason string) error

// Hook restarts something. Hooks are registered per component for the
// restart_service and restart_process actions.
type Hook func(ctx context.Context) error

// Clearer is implemented by caches that can drop every entry.
type Clearer interface {
	Clear()
}

// Tracker receives alert_only reports.
type Tracker interface {
	Track(ctx context.Context, r errortrack.Report) (errortrack.Group, error)
}

func (m *Manager) runHook(action Action) ActionHandler {
	return func(ctx context.Context, cfg ComponentConfig, _ string) error {
		m.mu.Lock()
		hook := m.hooks[hookKey{cfg.Component, action}]
		m.mu.Unlock()
		if hook == nil {
			return sserr.Newf(sserr.CodeNotFoundComponent, "no %s hook registered for %s", action, cfg.Component)
		}
		return hook(ctx)
	}
}

func (m *Manager) clearCaches(_ context.Context, cfg ComponentConfig, _ string) error {
	m.mu.Lock()
	caches := m.caches[cfg.Component]
	m.mu.Unlock()
	if len(caches) == 0 {
		return sserr.Newf(sserr.CodeNotFoundComponent, "no cache registered for %s", cfg.Component)
	}
	for _, c := range caches {
		c.Clear()
	}
	return nil
}

func (m *Manager) alert(ctx context.Context, cfg ComponentConfig, reason string) error {
	m.logger.Error("recovery: component needs attention", "component", cfg.Component, "reason", reason)
	if m.tracker == nil {
		return nil
	}
	_, err := m.tracker.Track(ctx, errortrack.Report{
		Message:   fmt.Sprintf("component %s unhealthy: %s", cfg.Component, reason),
		ErrorType: "RecoveryAlert",
		Component: cfg.Component,
		Severity:  errortrack.SeverityCritical,
		Category:  errortrack.CategoryResource,
	})
	return err
}

const maxScriptOutput = 512

func runScript(ctx context.Context, cfg ComponentConfig, reason string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cfg.Script)
	cmd.Env = append(cmd.Environ(), "RECOVERY_COMPONENT="+cfg.Component, "RECOVERY_REASON="+reason)
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := strings.TrimSpace(string(out))
		if len(tail) > maxScriptOutput {
			tail = tail[len(tail)-maxScriptOutput:]
		}
		return fmt.Errorf("script failed: %w: %s", err, tail)
	}
	return nil
}
