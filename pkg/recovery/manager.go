package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/health"
)

// Attempt records one action run.
type Attempt struct {
	ID        string        `json:"id"`
	Component string        `json:"component"`
	Action    Action        `json:"action"`
	Reason    string        `json:"reason"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// AttemptSink persists attempts.
type AttemptSink interface {
	SaveRecoveryAttempt(ctx context.Context, a Attempt) error
}

// State is the recovery bookkeeping for one component.
type State struct {
	Component           string    `json:"component"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FailedRuns          int       `json:"failed_runs"`
	LastRun             time.Time `json:"last_run,omitzero"`
	SuppressedUntil     time.Time `json:"suppressed_until,omitzero"`
}

// Suppressed reports whether recovery is on hold at now.
func (s State) Suppressed(now time.Time) bool {
	return now.Before(s.SuppressedUntil)
}

type hookKey struct {
	component string
	action    Action
}

type component struct {
	cfg      ComponentConfig
	state    State
	attempts []Attempt
	running  bool
}

const maxAttemptHistory = 200

// Option configures a Manager.
type Option func(*Manager)

// WithHandler replaces the handler for action.
func WithHandler(action Action, h ActionHandler) Option {
	return func(m *Manager) { m.handlers[action] = h }
}

// WithAttemptSink persists every attempt.
func WithAttemptSink(s AttemptSink) Option { return func(m *Manager) { m.sink = s } }

// WithTracker routes alert_only actions into an error tracker.
func WithTracker(t Tracker) Option { return func(m *Manager) { m.tracker = t } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// Manager runs recovery for configured components. It is safe for
// concurrent use; at most one recovery run per component is in flight.
type Manager struct {
	handlers map[Action]ActionHandler
	sink     AttemptSink
	tracker  Tracker
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	components map[string]*component
	hooks      map[hookKey]Hook
	caches     map[string][]Clearer

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager returns a manager with the built-in action handlers.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		now:        time.Now,
		logger:     slog.Default(),
		components: make(map[string]*component),
		hooks:      make(map[hookKey]Hook),
		caches:     make(map[string][]Clearer),
	}
	m.handlers = map[Action]ActionHandler{
		ActionRestartService: m.runHook(ActionRestartService),
		ActionRestartProcess: m.runHook(ActionRestartProcess),
		ActionClearCache:     m.clearCaches,
		ActionCustomScript:   runScript,
		ActionAlertOnly:      m.alert,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configure adds or replaces a component's configuration. Existing
// bookkeeping is kept.
func (m *Manager) Configure(cfg ComponentConfig) error {
	if err := cfg.Normalize(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.components[cfg.Component]; ok {
		c.cfg = cfg
		return nil
	}
	m.components[cfg.Component] = &component{cfg: cfg, state: State{Component: cfg.Component}}
	return nil
}

// RegisterHook sets the restart hook for component. action must be
// restart_service or restart_process.
func (m *Manager) RegisterHook(componentName string, action Action, hook Hook) error {
	if action != ActionRestartService && action != ActionRestartProcess {
		return sserr.Validationf("recovery: %s does not take a hook", action)
	}
	m.mu.Lock()
	m.hooks[hookKey{componentName, action}] = hook
	m.mu.Unlock()
	return nil
}

// RegisterCache adds a cache cleared by component's clear_cache action.
func (m *Manager) RegisterCache(componentName string, c Clearer) {
	m.mu.Lock()
	m.caches[componentName] = append(m.caches[componentName], c)
	m.mu.Unlock()
}

// Observe feeds one health result to the manager. A healthy or degraded
// result resets the failure counters; an unhealthy result counts towards
// the threshold and, once reached, triggers a recovery run. It returns
// the attempts made, if any.
func (m *Manager) Observe(ctx context.Context, r health.Result) []Attempt {
	m.mu.Lock()
	c, ok := m.components[r.Component]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if r.Status == health.StatusHealthy || r.Status == health.StatusDegraded {
		c.state.ConsecutiveFailures = 0
		c.state.FailedRuns = 0
		m.mu.Unlock()
		return nil
	}
	if r.Status != health.StatusUnhealthy {
		m.mu.Unlock()
		return nil
	}
	c.state.ConsecutiveFailures++
	if c.state.ConsecutiveFailures < c.cfg.FailureThreshold {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	attempts, _ := m.Trigger(ctx, r.Component, r.Message)
	return attempts
}

// OnSweep observes every component in report. Register it with
// health.Checker.OnSweep.
func (m *Manager) OnSweep(report health.Report) {
	ctx := context.Background()
	for _, r := range report.Components {
		m.Observe(ctx, r)
	}
}

// Trigger runs component's actions in order until one succeeds. It is
// refused while the component is suppressed or already recovering.
func (m *Manager) Trigger(ctx context.Context, componentName, reason string) ([]Attempt, error) {
	m.mu.Lock()
	c, ok := m.components[componentName]
	if !ok {
		m.mu.Unlock()
		return nil, sserr.Newf(sserr.CodeNotFoundComponent, "recovery: component %q is not configured", componentName)
	}
	now := m.now()
	if c.state.Suppressed(now) {
		until := c.state.SuppressedUntil
		m.mu.Unlock()
		m.logger.Warn("recovery: suppressed", "component", componentName, "until", until)
		return nil, sserr.Newf(sserr.CodeUnavailableOverloaded, "recovery: %s suppressed until %s", componentName, until.Format(time.RFC3339))
	}
	if c.running {
		m.mu.Unlock()
		return nil, sserr.Newf(sserr.CodeConflictState, "recovery: %s is already recovering", componentName)
	}
	if !c.state.SuppressedUntil.IsZero() {
		c.state.SuppressedUntil = time.Time{}
		c.state.FailedRuns = 0
	}
	c.running = true
	cfg := c.cfg
	cfg.Actions = slices.Clone(c.cfg.Actions)
	m.mu.Unlock()

	attempts := m.walk(ctx, cfg, reason)
	recovered := len(attempts) > 0 && attempts[len(attempts)-1].Success

	m.mu.Lock()
	c.running = false
	c.state.LastRun = m.now()
	c.attempts = append(c.attempts, attempts...)
	if over := len(c.attempts) - maxAttemptHistory; over > 0 {
		c.attempts = slices.Clone(c.attempts[over:])
	}
	if recovered {
		c.state.FailedRuns = 0
		c.state.ConsecutiveFailures = 0
	} else {
		c.state.FailedRuns++
		if c.state.FailedRuns >= cfg.MaxAttempts {
			c.state.SuppressedUntil = c.state.LastRun.Add(cfg.Cooldown)
		}
	}
	state := c.state
	m.mu.Unlock()

	if !recovered {
		if state.Suppressed(state.LastRun) {
			m.logger.Error("recovery: giving up until cooldown ends",
				"component", cfg.Component, "failed_runs", state.FailedRuns, "until", state.SuppressedUntil)
		}
		return attempts, sserr.Newf(sserr.CodeUnavailableDependency, "recovery: every action failed for %s", cfg.Component)
	}
	return attempts, nil
}

func (m *Manager) walk(ctx context.Context, cfg ComponentConfig, reason string) []Attempt {
	var attempts []Attempt
	for _, action := range cfg.Actions {
		if ctx.Err() != nil {
			break
		}
		a := m.attempt(ctx, cfg, action, reason)
		attempts = append(attempts, a)
		if m.sink != nil {
			if err := m.sink.SaveRecoveryAttempt(ctx, a); err != nil {
				m.logger.Error("recovery: persist attempt failed", "component", cfg.Component, "error", err)
			}
		}
		if a.Success {
			m.logger.Info("recovery: action succeeded", "component", cfg.Component, "action", action)
			break
		}
		m.logger.Warn("recovery: action failed", "component", cfg.Component, "action", action, "error", a.Error)
	}
	return attempts
}

func (m *Manager) attempt(ctx context.Context, cfg ComponentConfig, action Action, reason string) (a Attempt) {
	a = Attempt{
		ID:        uuid.NewString(),
		Component: cfg.Component,
		Action:    action,
		Reason:    reason,
		StartedAt: m.now(),
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.Success = false
			a.Error = fmt.Sprintf("action panicked: %v", r)
		}
		a.Duration = time.Since(start)
	}()

	h := m.handlers[action]
	if h == nil {
		a.Error = fmt.Sprintf("no handler for %s", action)
		return a
	}
	actx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := h(actx, cfg, reason); err != nil {
		a.Error = err.Error()
		return a
	}
	a.Success = true
	return a
}

// Reset clears component's counters and any suppression.
func (m *Manager) Reset(componentName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[componentName]
	if !ok {
		return sserr.Newf(sserr.CodeNotFoundComponent, "recovery: component %q is not configured", componentName)
	}
	c.state = State{Component: componentName, LastRun: c.state.LastRun}
	return nil
}

// State returns component's bookkeeping.
func (m *Manager) State(componentName string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[componentName]
	if !ok {
		return State{}, false
	}
	return c.state, true
}

// Components returns the configured component names, sorted.
func (m *Manager) Components() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.components))
	for name := range m.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Attempts returns up to limit of component's most recent attempts,
// newest first.
func (m *Manager) Attempts(componentName string, limit int) []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[componentName]
	if !ok {
		return nil
	}
	out := slices.Clone(c.attempts)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Sweep lifts suppressions whose cooldown has ended and returns the
// components released.
func (m *Manager) Sweep() []string {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var released []string
	for name, c := range m.components {
		if !c.state.SuppressedUntil.IsZero() && !c.state.Suppressed(now) {
			c.state.SuppressedUntil = time.Time{}
			c.state.FailedRuns = 0
			released = append(released, name)
		}
	}
	sort.Strings(released)
	return released
}

// Start sweeps every interval until Stop or ctx is done.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.cancel != nil || interval <= 0 {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, interval, m.done)
}

// Stop halts the sweep loop.
func (m *Manager) Stop() {
	m.loopMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range m.Sweep() {
				m.logger.Info("recovery: cooldown ended", "component", name)
			}
		}
	}
}
