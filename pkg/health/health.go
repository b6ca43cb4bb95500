// Package health runs a battery of named component checks, keeps a
// bounded history of their results and reports the overall platform
// status as the worst component status.
package health

import (
	"context"
	"time"
)

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// severity orders statuses from best to worst. Unknown ranks between
// degraded and unhealthy: a component that cannot be assessed is not
// healthy, but it is not known to be down either.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnknown:
		return 2
	case StatusUnhealthy:
		return 3
	default:
		return 2
	}
}

// Worst returns the worse of a and b.
func Worst(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Result is the outcome of one check run.
type Result struct {
	Component string         `json:"component"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	CheckedAt time.Time      `json:"checked_at"`
}

// Healthy returns a healthy result with message.
func Healthy(message string) Result { return Result{Status: StatusHealthy, Message: message} }

// Degraded returns a degraded result with message.
func Degraded(message string) Result { return Result{Status: StatusDegraded, Message: message} }

// Unhealthy returns an unhealthy result with message.
func Unhealthy(message string) Result { return Result{Status: StatusUnhealthy, Message: message} }

// WithDetail returns r with key set in Details.
func (r Result) WithDetail(key string, value any) Result {
	d := make(map[string]any, len(r.Details)+1)
	for k, v := range r.Details {
		d[k] = v
	}
	d[key] = value
	r.Details = d
	return r
}

// Check evaluates one component.
type Check interface {
	Name() string
	Check(ctx context.Context) Result
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) Result
}

func (c checkFunc) Name() string                     { return c.name }
func (c checkFunc) Check(ctx context.Context) Result { return c.fn(ctx) }

// NewCheck adapts fn to a Check.
func NewCheck(name string, fn func(ctx context.Context) Result) Check {
	return checkFunc{name: name, fn: fn}
}

// Report is the outcome of one sweep over every registered check.
type Report struct {
	Status     Status    `json:"status"`
	Components []Result  `json:"components"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Component returns the result for name.
func (r Report) Component(name string) (Result, bool) {
	for _, c := range r.Components {
		if c.Component == name {
			return c, true
		}
	}
	return Result{}, false
}
