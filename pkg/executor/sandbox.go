package executor

import (
	"context"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/security"
)

type limitsKey struct{}

func withLimits(ctx context.Context, l security.Limits) context.Context {
	return context.WithValue(ctx, limitsKey{}, l)
}

// sessionSandbox applies the limits of the calling session, carried in
// the context, on top of the shared sandbox.
type sessionSandbox struct {
	base *security.Sandbox
}

func (s sessionSandbox) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	sb := s.base
	if l, ok := ctx.Value(limitsKey{}).(security.Limits); ok {
		sb = sb.WithLimits(l)
	}
	return sb.Execute(ctx, fn)
}
