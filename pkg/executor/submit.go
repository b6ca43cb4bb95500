package executor

import (
	"context"
	"time"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/agent"
	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Job is an execution started by [Executor.Submit].
type Job struct {
	AgentID string
	done    chan struct{}
	res     *agent.Result
	err     error
}

// Done is closed when the execution has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the execution finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (*agent.Result, error) {
	select {
	case <-j.done:
		return j.res, j.err
	case <-ctx.Done():
		return nil, sserr.FromError(ctx.Err())
	}
}

// Submit starts an execution in the background and returns at once. The
// execution waits for a slot like any other. It is detached from the
// cancellation of ctx, but keeps its values, and is bounded by timeout
// when positive.
func (e *Executor) Submit(ctx context.Context, id string, req agent.Request, timeout time.Duration) (*Job, error) {
	if _, err := e.lookup(id); err != nil {
		return nil, err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, sserr.New(sserr.CodeUnavailable, "executor: shutting down")
	}
	e.jobs.Add(1)
	e.mu.Unlock()

	j := &Job{AgentID: id, done: make(chan struct{})}
	go func() {
		defer e.jobs.Done()
		defer close(j.done)
		runCtx := context.WithoutCancel(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, timeout)
			defer cancel()
		}
		j.res, j.err = e.Execute(runCtx, id, req)
	}()
	return j, nil
}

// Close stops accepting submissions and waits for submitted executions
// to finish, or for ctx to end.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return sserr.FromError(ctx.Err())
	}
}
