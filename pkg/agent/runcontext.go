package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// RunContext is handed to [Strategy.Run]. It exposes the execution context
// and brokers tool and language model calls for a single execution.
type RunContext struct {
	run *run
}

// Execution returns the execution context.
func (rc *RunContext) Execution() *ExecutionContext { return rc.run.ec }

// Input returns a copy of the validated input.
func (rc *RunContext) Input() map[string]any { return rc.run.ec.Input() }

// Config returns a copy of the agent configuration.
func (rc *RunContext) Config() Config { return maps.Clone(rc.run.rt.config) }

// Status returns the current status of the execution.
func (rc *RunContext) Status() Status { return rc.run.current() }

// Logger returns the runtime logger annotated with the execution id.
func (rc *RunContext) Logger() *slog.Logger {
	return rc.run.rt.logger.With("agent_id", rc.run.rt.id, "execution_id", rc.run.ec.ExecutionID)
}

// HasLLM reports whether a language model client is configured.
func (rc *RunContext) HasLLM() bool { return rc.run.rt.llm != nil }

// Pause suspends the execution until Resume.
func (rc *RunContext) Pause(reason string) error {
	return rc.run.transition(StatusPaused, map[string]any{"reason": reason})
}

// Resume returns a paused execution to running.
func (rc *RunContext) Resume() error {
	return rc.run.transition(StatusRunning, nil)
}

func (rc *RunContext) invocation() tool.Invocation {
	ec := rc.run.ec
	return tool.Invocation{
		ExecutionID: ec.ExecutionID,
		AgentID:     ec.AgentID,
		AgentType:   ec.AgentType,
		OrgID:       ec.OrgID,
		UserID:      ec.UserID,
		SessionID:   ec.SessionID,
	}
}

// CallTool invokes a registered tool.
//
// The call fails with a TOOL_002 error when name is unknown and with an
// authorization error when the session may not use the tool. Otherwise the
// execution is in executing_tool for the duration of the call and returns
// to running afterwards, whatever the outcome. Every call is recorded in
// the tool usage log and reported to observers; failures are also appended
// to the error log and returned as "ToolError:<name>" errors, except for
// sandbox violations which are returned unchanged.
func (rc *RunContext) CallTool(ctx context.Context, name string, params map[string]any) (*tool.Result, error) {
	x, r := rc.run, rc.run.rt
	details := map[string]any{"tool": name}

	t, ok := r.tools.Get(name)
	if !ok {
		err := sserr.UnknownTool(name)
		x.record(err, details)
		return nil, err
	}

	inv := rc.invocation()
	if err := r.authorizer.AuthorizeTool(ctx, inv.SessionID, name); err != nil {
		if !sserr.IsAuthorization(err) {
			err = sserr.Wrapf(err, sserr.CodeAuthorizationDenied, "agent: tool %q denied", name)
		}
		x.record(err, details)
		return nil, err
	}

	if err := x.transition(StatusExecutingTool, details); err != nil {
		return nil, err
	}
	defer func() {
		if err := x.transition(StatusRunning, details); err != nil {
			r.logger.Warn("agent: could not leave executing_tool", "agent_id", r.id, "error", err)
		}
	}()

	x.mu.Lock()
	x.toolsCalled = append(x.toolsCalled, name)
	x.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "agent.CallTool",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("agent.id", r.id),
			attribute.String("tool.name", name),
		),
	)
	defer span.End()

	start := r.now()
	res, err := rc.invoke(ctx, t, inv, params)
	elapsed := r.now().Sub(start)

	success := err == nil && res != nil && res.Success
	usage := ToolUsage{Tool: name, Input: params, Duration: elapsed, Success: success}
	if res != nil {
		usage.Output = res.Data
	}
	x.ec.TrackToolUsage(usage)
	r.notify(func(o Observer) { o.ToolCalled(r.id, r.strategy.Type(), name, elapsed, success) })

	if success {
		span.SetStatus(codes.Ok, "")
		return res, nil
	}

	if err == nil {
		msg := "tool reported failure"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		err = errors.New(msg)
	}
	if !sserr.IsSandboxViolation(err) {
		err = sserr.ToolFailure(name, err)
	}
	x.record(err, details)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return res, err
}

func (rc *RunContext) invoke(ctx context.Context, t tool.Tool, inv tool.Invocation, params map[string]any) (*tool.Result, error) {
	r := rc.run.rt
	validated, err := r.tools.Validate(t.Name(), params)
	if err != nil {
		return nil, err
	}

	var cacheKey string
	ttl := cacheTTL(t)
	if r.cache != nil && ttl > 0 {
		if key, ok := tool.Key(inv.OrgID, t.Name(), validated); ok {
			cacheKey = key
			if hit, ok := r.cache.Get(key); ok {
				return hit, nil
			}
		}
	}

	var res *tool.Result
	work := func(ctx context.Context) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = sserr.Internalf("tool %q panicked: %v", t.Name(), p)
			}
		}()
		res, err = t.Execute(ctx, inv, validated)
		return err
	}
	if r.sandbox != nil {
		err = r.sandbox.Execute(ctx, work)
	} else {
		err = work(ctx)
	}
	if err != nil {
		return res, err
	}
	if cacheKey != "" && res != nil && res.Success {
		r.cache.Set(cacheKey, res, ttl)
	}
	return res, nil
}

func cacheTTL(t tool.Tool) time.Duration {
	if c, ok := t.(tool.Cacheable); ok {
		return c.CacheTTL()
	}
	return 0
}

// Complete sends messages to the language model with the strategy's
// system prompt prepended, and accounts the usage to this execution.
func (rc *RunContext) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return rc.complete(ctx, messages, false)
}

// CompleteWithTools is Complete with the agent's tools advertised.
func (rc *RunContext) CompleteWithTools(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return rc.complete(ctx, messages, true)
}

func (rc *RunContext) complete(ctx context.Context, messages []llm.Message, withTools bool) (*llm.Response, error) {
	x, r := rc.run, rc.run.rt
	if r.llm == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "agent: no language model configured")
	}

	msgs := messages
	if prompt := r.strategy.SystemPrompt(); prompt != "" && (len(messages) == 0 || messages[0].Role != llm.RoleSystem) {
		msgs = append([]llm.Message{{Role: llm.RoleSystem, Content: prompt}}, messages...)
	}

	var resp *llm.Response
	var err error
	if withTools {
		resp, err = r.llm.CompleteWithTools(ctx, msgs, r.tools.Specs())
	} else {
		resp, err = r.llm.Complete(ctx, msgs)
	}
	if err != nil {
		x.record(err, map[string]any{"provider": r.llm.Provider()})
		return nil, err
	}
	if resp == nil {
		return nil, sserr.Internal(fmt.Sprintf("agent: provider %q returned no response", r.llm.Provider()))
	}

	x.ec.addUsage(resp.Usage.TotalTokens, resp.Usage.CostUSD)
	r.notify(func(o Observer) { o.LLMCalled(r.id, r.strategy.Type(), resp) })
	return resp, nil
}
