package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// RateLimitConfig configures [RateLimited].
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained request budget. Zero disables the
	// token bucket.
	RequestsPerMinute float64

	// Burst is the bucket size; defaults to 1.
	Burst int

	// MaxRetries bounds retries after a provider reports rate limiting.
	MaxRetries int

	// RetryDelay is the base delay. Retry n waits n*RetryDelay.
	RetryDelay time.Duration
}

type limitedClient struct {
	next    Client
	limiter *rate.Limiter
	cfg     RateLimitConfig
}

// RateLimited wraps next with a client-side token bucket and a linear
// retry schedule for [sserr.CodeRateLimited] failures. Waiting blocks the
// calling goroutine and ends early when ctx is done.
func RateLimited(next Client, cfg RateLimitConfig) Client {
	lc := &limitedClient{next: next, cfg: cfg}
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		lc.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), burst)
	}
	return lc
}

func (c *limitedClient) Provider() string { return c.next.Provider() }

func (c *limitedClient) Complete(ctx context.Context, messages []Message) (*Response, error) {
	return c.do(ctx, func() (*Response, error) { return c.next.Complete(ctx, messages) })
}

func (c *limitedClient) CompleteWithTools(ctx context.Context, messages []Message, tools []tool.Spec) (*Response, error) {
	return c.do(ctx, func() (*Response, error) { return c.next.CompleteWithTools(ctx, messages, tools) })
}

// Ping forwards to the wrapped client when it supports probing.
func (c *limitedClient) Ping(ctx context.Context) error {
	if p, ok := c.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *limitedClient) do(ctx context.Context, call func() (*Response, error)) (*Response, error) {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, sserr.Wrap(err, sserr.CodeRateLimited, "llm: waiting for rate limiter")
			}
		}
		resp, err := call()
		if err == nil || !sserr.IsRateLimited(err) || attempt >= c.cfg.MaxRetries {
			return resp, err
		}
		delay := time.Duration(attempt+1) * c.cfg.RetryDelay
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, sserr.FromError(ctx.Err())
		case <-timer.C:
		}
	}
}
