package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

const tracerName = "github.com/StricklySoft/stricklysoft-analytics/pkg/agent"

// Totals are the running counters of a Runtime.
type Totals struct {
	Executions      int64         `json:"executions"`
	Succeeded       int64         `json:"succeeded"`
	Failed          int64         `json:"failed"`
	Active          int           `json:"active"`
	TotalDuration   time.Duration `json:"total_duration"`
	LastStatus      Status        `json:"last_status"`
	LastErrorType   string        `json:"last_error_type,omitempty"`
	LastExecutionAt time.Time     `json:"last_execution_at"`
}

// SuccessRate is Succeeded/Executions, or 1 before the first execution.
func (t Totals) SuccessRate() float64 {
	if t.Executions == 0 {
		return 1
	}
	return float64(t.Succeeded) / float64(t.Executions)
}

// AverageDuration is the mean duration of finished executions.
func (t Totals) AverageDuration() time.Duration {
	if t.Executions == 0 {
		return 0
	}
	return t.TotalDuration / time.Duration(t.Executions)
}

// Runtime executes one agent instance. Build it with [RuntimeBuilder].
// A Runtime is safe for concurrent use.
type Runtime struct {
	id         string
	strategy   Strategy
	tools      *tool.Registry
	llm        llm.Client
	cache      *tool.ResultCache
	sandbox    Sandbox
	authorizer ToolAuthorizer
	observers  []Observer
	handlers   []TransitionHandler
	config     Config
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	totals Totals
}

// ID returns the agent instance id.
func (r *Runtime) ID() string { return r.id }

// Type returns the agent type of the strategy.
func (r *Runtime) Type() string { return r.strategy.Type() }

// Tools returns the tool registry. Tools registered after Build are
// visible to subsequent tool calls.
func (r *Runtime) Tools() *tool.Registry { return r.tools }

// RegisterTool adds or replaces a tool.
func (r *Runtime) RegisterTool(t tool.Tool) error { return r.tools.Register(t) }

// Totals returns a snapshot of the running counters.
func (r *Runtime) Totals() Totals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals
}

// Execute runs the strategy once and returns its Result. It never panics
// and never returns nil; every failure is reported as a Result with
// Success false and ErrorType set.
func (r *Runtime) Execute(ctx context.Context, req Request) (result *Result) {
	ec := NewExecutionContext(uuid.NewString(), r.id, r.strategy.Type(), r.now)
	ec.OrgID, ec.UserID, ec.SessionID = req.OrgID, req.UserID, req.SessionID
	x := &run{rt: r, ec: ec, status: StatusIdle}

	ctx, span := r.tracer.Start(ctx, "agent.Execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agent.id", r.id),
			attribute.String("agent.type", r.strategy.Type()),
			attribute.String("execution.id", ec.ExecutionID),
		),
	)
	defer span.End()

	r.mu.Lock()
	r.totals.Active++
	r.mu.Unlock()
	r.notify(func(o Observer) { o.ExecutionStarted(r.id, r.strategy.Type(), ec.ExecutionID) })

	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "agent: execution panicked",
				"agent_id", r.id,
				"execution_id", ec.ExecutionID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			result = x.fail(sserr.TypePanic, fmt.Sprintf("panic: %v", p), nil)
		}
		r.finish(ctx, x, result)
		if result.Success {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetAttributes(attribute.String("error.type", result.ErrorType))
			span.SetStatus(codes.Error, result.Message)
		}
	}()

	res, err := x.execute(ctx, req)
	if err != nil {
		span.RecordError(err)
		return x.fail(sserr.TypeName(err), err.Error(), err)
	}
	return res
}

func (r *Runtime) finish(ctx context.Context, x *run, res *Result) {
	d := res.Metadata.Duration

	r.mu.Lock()
	r.totals.Active--
	r.totals.Executions++
	if res.Success {
		r.totals.Succeeded++
	} else {
		r.totals.Failed++
	}
	r.totals.TotalDuration += d
	r.totals.LastStatus = x.current()
	r.totals.LastErrorType = res.ErrorType
	r.totals.LastExecutionAt = r.now().UTC()
	r.mu.Unlock()

	r.notify(func(o Observer) {
		o.ExecutionFinished(r.id, r.strategy.Type(), x.ec.ExecutionID, d, res.Success, res.Metadata.TokensUsed)
	})

	r.logger.InfoContext(ctx, "agent: execution finished",
		"agent_id", r.id,
		"agent_type", r.strategy.Type(),
		"execution_id", x.ec.ExecutionID,
		"success", res.Success,
		"error_type", res.ErrorType,
		"duration", d,
		"tools_called", len(res.Metadata.ToolsCalled),
	)
}

// notify calls fn for each observer, isolating observer panics.
func (r *Runtime) notify(fn func(Observer)) {
	for _, o := range r.observers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("agent: observer panicked", "agent_id", r.id, "panic", p)
				}
			}()
			fn(o)
		}()
	}
}

func (r *Runtime) notifyTransition(executionID string, from, to Status) {
	for _, h := range r.handlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("agent: transition handler panicked",
						"agent_id", r.id, "from", string(from), "to", string(to), "panic", p)
				}
			}()
			h(executionID, from, to)
		}()
	}
}

// run is the per-call state of one execution.
type run struct {
	rt *Runtime
	ec *ExecutionContext

	mu          sync.Mutex
	status      Status
	toolsCalled []string
	recorded    []error
}

func (x *run) current() Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

func (x *run) transition(to Status, metadata map[string]any) error {
	x.mu.Lock()
	from := x.status
	if !ValidTransition(from, to) {
		x.mu.Unlock()
		return sserr.Newf(sserr.CodeConflictState,
			"agent: invalid status transition from %q to %q", from, to)
	}
	x.status = to
	x.mu.Unlock()

	x.ec.recordTransition(from, to, metadata)
	x.rt.notifyTransition(x.ec.ExecutionID, from, to)
	return nil
}

// record appends err to the context error log once.
func (x *run) record(err error, details map[string]any) {
	x.mu.Lock()
	for _, seen := range x.recorded {
		if errors.Is(err, seen) {
			x.mu.Unlock()
			return
		}
	}
	x.recorded = append(x.recorded, err)
	x.mu.Unlock()
	x.ec.AddError(sserr.TypeName(err), err.Error(), details)
}

func (x *run) execute(ctx context.Context, req Request) (*Result, error) {
	r := x.rt
	if err := x.transition(StatusInitializing, nil); err != nil {
		return nil, err
	}

	input, err := normalizeInput(req.Input)
	if err == nil {
		if v, ok := r.strategy.(InputValidator); ok {
			if verr := v.ValidateInput(input); verr != nil {
				err = asValidation(verr)
			}
		}
	}
	if err != nil {
		x.record(err, nil)
		return nil, err
	}
	x.ec.setInput(input)

	if err := ctx.Err(); err != nil {
		return nil, sserr.FromError(err)
	}

	if p, ok := r.strategy.(PreExecutor); ok {
		if err := p.PreExecute(ctx, x.ec); err != nil {
			return nil, err
		}
	} else {
		x.ec.AddReasoningStep(fmt.Sprintf("Starting %s execution %s", r.strategy.Type(), x.ec.ExecutionID))
	}

	if err := x.transition(StatusRunning, nil); err != nil {
		return nil, err
	}

	res, err := r.strategy.Run(ctx, &RunContext{run: x})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, sserr.Internal("agent: strategy returned no result")
	}
	if err := ctx.Err(); err != nil {
		return nil, sserr.FromError(err)
	}

	if p, ok := r.strategy.(PostExecutor); ok {
		if err := p.PostExecute(ctx, x.ec, res); err != nil {
			return nil, err
		}
	}

	res.Confidence = clamp01(res.Confidence)
	x.stamp(res)

	final := StatusCompleted
	if !res.Success {
		final = StatusFailed
	}
	if err := x.transition(final, nil); err != nil {
		return nil, err
	}
	for k, v := range res.Data {
		x.ec.SetOutput(k, v)
	}
	x.ec.complete()
	return res, nil
}

// fail converts a failure into a Result and moves the execution to a
// terminal status.
func (x *run) fail(errType, message string, err error) *Result {
	if err != nil {
		x.record(err, nil)
	} else {
		x.ec.AddError(errType, message, nil)
	}

	res := Failure(errType, message)
	x.stamp(res)

	target := StatusFailed
	if errType == sserr.TypeCancelled && ValidTransition(x.current(), StatusCancelled) {
		target = StatusCancelled
	}
	if terr := x.transition(target, map[string]any{"error_type": errType}); terr != nil {
		x.rt.logger.Warn("agent: could not record terminal status",
			"agent_id", x.rt.id,
			"execution_id", x.ec.ExecutionID,
			"error", terr,
		)
	}
	x.ec.complete()
	return res
}

// stamp copies run metadata, evidence and reasoning onto res.
func (x *run) stamp(res *Result) {
	tokens, cost := x.ec.Usage()
	x.mu.Lock()
	called := append([]string(nil), x.toolsCalled...)
	x.mu.Unlock()

	res.Metadata = ExecutionMetadata{
		ExecutionID: x.ec.ExecutionID,
		AgentID:     x.ec.AgentID,
		AgentType:   x.ec.AgentType,
		StartedAt:   x.ec.StartedAt,
		Duration:    x.ec.Duration(),
		TokensUsed:  tokens,
		CostUSD:     cost,
		ToolsCalled: called,
	}
	res.Evidence = x.ec.Evidence()
	res.Reasoning = x.ec.Reasoning()
}

// normalizeInput accepts a JSON object given as a map or as raw JSON.
func normalizeInput(input any) (map[string]any, error) {
	switch v := input.(type) {
	case map[string]any:
		return v, nil
	case Config:
		return map[string]any(v), nil
	case json.RawMessage:
		return decodeObject(v)
	case []byte:
		return decodeObject(v)
	case nil:
		return nil, sserr.New(sserr.CodeValidationRequired, "agent: input is required")
	default:
		return nil, sserr.Newf(sserr.CodeValidationFormat,
			"agent: input must be a JSON object, got %T", input)
	}
}

func decodeObject(raw []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil, sserr.New(sserr.CodeValidationFormat, "agent: input must be a JSON object")
	}
	return m, nil
}

func asValidation(err error) error {
	if sserr.IsValidation(err) {
		return err
	}
	return sserr.Wrap(err, sserr.CodeValidation, "agent: invalid input")
}
