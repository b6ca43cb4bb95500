package health

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCheckTimeout bounds a single check.
	DefaultCheckTimeout = 10 * time.Second
	// DefaultInterval is the sweep interval used by Start.
	DefaultInterval = 30 * time.Second
	// DefaultHistorySize is the number of results kept per component.
	DefaultHistorySize = 100
)

// Option configures a Checker.
type Option func(*Checker)

// WithCheckTimeout sets the per-check timeout.
func WithCheckTimeout(d time.Duration) Option { return func(c *Checker) { c.timeout = d } }

// WithInterval sets the sweep interval used by Start.
func WithInterval(d time.Duration) Option { return func(c *Checker) { c.interval = d } }

// WithHistorySize sets how many results are kept per component. Values
// below one keep the default.
func WithHistorySize(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Checker) { c.logger = l } }

// WithClock overrides time.Now for result timestamps.
func WithClock(now func() time.Time) Option { return func(c *Checker) { c.now = now } }

// Checker runs registered checks concurrently and remembers their
// results. It is safe for concurrent use.
type Checker struct {
	timeout     time.Duration
	interval    time.Duration
	historySize int
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.RWMutex
	checks    []Check
	history   map[string][]Result
	last      Report
	callbacks []func(Report)

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewChecker returns an empty checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		timeout:     DefaultCheckTimeout,
		interval:    DefaultInterval,
		historySize: DefaultHistorySize,
		logger:      slog.Default(),
		now:         time.Now,
		history:     make(map[string][]Result),
		last:        Report{Status: StatusUnknown},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds check, replacing any check with the same name.
func (c *Checker) Register(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.checks {
		if existing.Name() == check.Name() {
			c.checks[i] = check
			return
		}
	}
	c.checks = append(c.checks, check)
}

// Unregister removes the named check and its history.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.checks {
		if existing.Name() == name {
			c.checks = append(c.checks[:i], c.checks[i+1:]...)
			break
		}
	}
	delete(c.history, name)
}

// OnSweep registers fn to receive every completed report. Callbacks run
// synchronously after the sweep; a panicking callback is logged and
// skipped.
func (c *Checker) OnSweep(fn func(Report)) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

// RunOnce runs every check concurrently and returns the report. A check
// that exceeds the timeout or panics is unhealthy.
func (c *Checker) RunOnce(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]Check(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]Result, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = c.run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusHealthy, Components: results, CheckedAt: c.now()}
	for _, r := range results {
		report.Status = Worst(report.Status, r.Status)
	}
	if len(results) == 0 {
		report.Status = StatusUnknown
	}

	c.mu.Lock()
	for _, r := range results {
		h := append(c.history[r.Component], r)
		if over := len(h) - c.historySize; over > 0 {
			h = append([]Result(nil), h[over:]...)
		}
		c.history[r.Component] = h
	}
	c.last = report
	callbacks := slices.Clone(c.callbacks)
	c.mu.Unlock()

	for _, fn := range callbacks {
		c.notify(fn, report)
	}
	if report.Status != StatusHealthy {
		c.logger.Warn("health: sweep finished", "status", report.Status, "components", len(results))
	}
	return report
}

func (c *Checker) run(ctx context.Context, check Check) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Unhealthy(fmt.Sprintf("check panicked: %v", r))
			}
		}()
		ch <- check.Check(ctx)
	}()

	var res Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = Unhealthy("check timed out: " + ctx.Err().Error())
	}
	if res.Status == "" {
		res.Status = StatusUnknown
	}
	res.Component = check.Name()
	res.Duration = time.Since(start)
	res.CheckedAt = c.now()
	return res
}

func (c *Checker) notify(fn func(Report), report Report) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("health: callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn(report)
}

// Summary returns the most recent report. Before the first sweep its
// status is unknown.
func (c *Checker) Summary() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.last
	r.Components = append([]Result(nil), r.Components...)
	return r
}

// History returns up to limit of the most recent results for component,
// oldest first. A limit of zero or less returns all of them.
func (c *Checker) History(component string, limit int) []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.history[component]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]Result(nil), h...)
}

// Start sweeps every interval until Stop or ctx is done. Calling Start
// on a running checker is a no-op.
func (c *Checker) Start(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.cancel != nil || c.interval <= 0 {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

// Stop halts the sweep loop and waits for an in-flight sweep.
func (c *Checker) Stop() {
	c.loopMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Checker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	c.RunOnce(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}
