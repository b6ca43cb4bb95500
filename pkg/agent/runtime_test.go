package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// ===== Test doubles =====

type stubStrategy struct {
	tools  []tool.Tool
	prompt string
	run    func(ctx context.Context, rc *RunContext) (*Result, error)
}

func (s *stubStrategy) Type() string                 { return "stub" }
func (s *stubStrategy) InitializeTools() []tool.Tool { return s.tools }
func (s *stubStrategy) SystemPrompt() string         { return s.prompt }
func (s *stubStrategy) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	return s.run(ctx, rc)
}

type validatingStrategy struct {
	stubStrategy
}

func (v *validatingStrategy) ValidateInput(input map[string]any) error {
	if _, ok := input["action"]; !ok {
		return errors.New("action is required")
	}
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	started  []string
	finished []bool
	tools    []string
	tokens   int
}

func (o *recordingObserver) ExecutionStarted(_, _, executionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, executionID)
}

func (o *recordingObserver) ExecutionFinished(_, _, _ string, _ time.Duration, success bool, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, success)
}

func (o *recordingObserver) ToolCalled(_, _, toolName string, _ time.Duration, _ bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, toolName)
}

func (o *recordingObserver) LLMCalled(_, _ string, resp *llm.Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens += resp.Usage.TotalTokens
}

type panickingObserver struct{ recordingObserver }

func (p *panickingObserver) ExecutionStarted(string, string, string) { panic("observer bug") }

type denyAuthorizer struct{ denied string }

func (d denyAuthorizer) AuthorizeTool(_ context.Context, _, toolName string) error {
	if toolName == d.denied {
		return sserr.Forbiddenf("tool %q not permitted", toolName)
	}
	return nil
}

type violatingSandbox struct{}

func (violatingSandbox) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return sserr.New(sserr.CodeSandboxViolation, "execution_time exceeded")
}

type cachedTool struct {
	tool.Func
	calls int
	mu    sync.Mutex
}

func (c *cachedTool) CacheTTL() time.Duration { return time.Minute }

func echoTool(name string) *tool.Func {
	return &tool.Func{
		ToolName:        name,
		ToolDescription: "echoes parameters",
		Params:          []tool.Parameter{{Name: "sku", Type: tool.TypeString}},
		Fn: func(_ context.Context, _ tool.Invocation, p map[string]any) (*tool.Result, error) {
			return tool.OK(p), nil
		},
	}
}

func failingTool(name string, err error) *tool.Func {
	return &tool.Func{
		ToolName: name,
		Fn: func(context.Context, tool.Invocation, map[string]any) (*tool.Result, error) {
			return nil, err
		},
	}
}

func okRun(context.Context, *RunContext) (*Result, error) {
	return NewResult(true, "done").SetConfidence(0.8), nil
}

func mustBuildRuntime(t *testing.T, s Strategy, opts ...func(*RuntimeBuilder)) *Runtime {
	t.Helper()
	b := NewRuntimeBuilder("agent-001", s)
	for _, opt := range opts {
		opt(b)
	}
	rt, err := b.Build()
	require.NoError(t, err)
	return rt
}

func statuses(history []Transition) []Status {
	out := make([]Status, 0, len(history)+1)
	for i, h := range history {
		if i == 0 {
			out = append(out, h.From)
		}
		out = append(out, h.To)
	}
	return out
}

// captureContext runs the strategy body and keeps the execution context.
func captureContext(run func(ctx context.Context, rc *RunContext) (*Result, error)) (*stubStrategy, **ExecutionContext) {
	var ec *ExecutionContext
	s := &stubStrategy{run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		ec = rc.Execution()
		return run(ctx, rc)
	}}
	return s, &ec
}

// ===== Builder =====

func TestRuntimeBuilder_Validation(t *testing.T) {
	t.Parallel()
	_, err := NewRuntimeBuilder("", &stubStrategy{run: okRun}).Build()
	assert.True(t, sserr.IsValidation(err))

	_, err = NewRuntimeBuilder("a", nil).Build()
	assert.True(t, sserr.IsValidation(err))

	_, err = NewRuntimeBuilder("a", &stubStrategy{run: okRun, tools: []tool.Tool{echoTool("")}}).Build()
	assert.True(t, sserr.IsValidation(err))
}

// ===== Execute: success path =====

func TestExecute_SuccessfulRunWalksStateMachine(t *testing.T) {
	t.Parallel()
	s, ec := captureContext(func(ctx context.Context, rc *RunContext) (*Result, error) {
		_, err := rc.CallTool(ctx, "echo", map[string]any{"sku": "A-1"})
		require.NoError(t, err)
		rc.Execution().AddEvidence("echo", "A-1", 0.9)
		return NewResult(true, "done").SetData("sku", "A-1"), nil
	})
	s.tools = []tool.Tool{echoTool("echo")}
	rt := mustBuildRuntime(t, s)

	res := rt.Execute(context.Background(), Request{Input: map[string]any{"action": "monitor"}, OrgID: "org_1", UserID: "u1"})

	require.True(t, res.Success, res.Message)
	assert.Empty(t, res.ErrorType)
	assert.Equal(t, []Status{StatusIdle, StatusInitializing, StatusRunning, StatusExecutingTool, StatusRunning, StatusCompleted},
		statuses((*ec).StateHistory()))
	assert.Equal(t, "agent-001", res.Metadata.AgentID)
	assert.NotEmpty(t, res.Metadata.ExecutionID)
	assert.Equal(t, []string{"echo"}, res.Metadata.ToolsCalled)
	require.Len(t, res.Evidence, 1)
	require.NotEmpty(t, res.Reasoning)
	assert.Contains(t, res.Reasoning[0], "Starting stub execution")
	assert.Equal(t, "A-1", (*ec).Output()["sku"])
	assert.Equal(t, "org_1", (*ec).OrgID)
	_, done := (*ec).CompletedAt()
	assert.True(t, done)

	totals := rt.Totals()
	assert.Equal(t, int64(1), totals.Executions)
	assert.Equal(t, int64(1), totals.Succeeded)
	assert.Equal(t, 0, totals.Active)
	assert.Equal(t, StatusCompleted, totals.LastStatus)
}

func TestExecute_AcceptsRawJSONInput(t *testing.T) {
	t.Parallel()
	var seen map[string]any
	rt := mustBuildRuntime(t, &stubStrategy{run: func(_ context.Context, rc *RunContext) (*Result, error) {
		seen = rc.Input()
		return NewResult(true, "ok"), nil
	}})

	res := rt.Execute(context.Background(), Request{Input: json.RawMessage(`{"action":"analyze"}`)})
	require.True(t, res.Success)
	assert.Equal(t, "analyze", seen["action"])
}

func TestExecute_UnsuccessfulResultEndsFailed(t *testing.T) {
	t.Parallel()
	s, ec := captureContext(func(context.Context, *RunContext) (*Result, error) {
		return NewResult(false, "no data available"), nil
	})
	rt := mustBuildRuntime(t, s)

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	assert.False(t, res.Success)
	history := (*ec).StateHistory()
	assert.Equal(t, StatusFailed, history[len(history)-1].To)
	assert.Equal(t, int64(1), rt.Totals().Failed)
}

// ===== Execute: totality =====

func TestExecute_NeverPanicsAndAlwaysReturnsResult(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    any
		run      func(ctx context.Context, rc *RunContext) (*Result, error)
		wantType string
	}{
		{"nil input", nil, okRun, "ValidationError"},
		{"string input", "monitor", okRun, "ValidationError"},
		{"slice input", []any{1, 2}, okRun, "ValidationError"},
		{"json array", []byte(`[1,2]`), okRun, "ValidationError"},
		{"core logic error", map[string]any{}, func(context.Context, *RunContext) (*Result, error) {
			return nil, errors.New("warehouse unreachable")
		}, "*errors.errorString"},
		{"core logic panic", map[string]any{}, func(context.Context, *RunContext) (*Result, error) {
			var m map[string]int
			m["boom"]++
			return nil, nil
		}, "PanicError"},
		{"nil result", map[string]any{}, func(context.Context, *RunContext) (*Result, error) {
			return nil, nil
		}, "InternalError"},
		{"unknown tool", map[string]any{}, func(ctx context.Context, rc *RunContext) (*Result, error) {
			_, err := rc.CallTool(ctx, "ghost", nil)
			return nil, err
		}, "ToolError:ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, ec := captureContext(tt.run)
			rt := mustBuildRuntime(t, s)

			var res *Result
			require.NotPanics(t, func() {
				res = rt.Execute(context.Background(), Request{Input: tt.input})
			})
			require.NotNil(t, res)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantType, res.ErrorType)
			assert.NotEmpty(t, res.Message)
			assert.NotEmpty(t, res.Metadata.ExecutionID)
			assert.Equal(t, int64(1), rt.Totals().Failed)
			if *ec != nil {
				errs := (*ec).Errors()
				require.Len(t, errs, 1, "error recorded exactly once")
				assert.Equal(t, tt.wantType, errs[0].Type)
			}
		})
	}
}

func TestExecute_ValidationFailureRecordedOnContext(t *testing.T) {
	t.Parallel()
	var transitions []Status
	var mu sync.Mutex
	rt := mustBuildRuntime(t, &validatingStrategy{stubStrategy{run: okRun}}, func(b *RuntimeBuilder) {
		b.OnTransition(func(_ string, _, to Status) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		})
	})

	res := rt.Execute(context.Background(), Request{Input: map[string]any{"other": 1}})
	assert.False(t, res.Success)
	assert.Equal(t, "ValidationError", res.ErrorType)
	assert.Equal(t, []Status{StatusInitializing, StatusFailed}, transitions)
}

func TestExecute_CanceledContextEndsCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt := mustBuildRuntime(t, &stubStrategy{run: okRun})

	res := rt.Execute(ctx, Request{Input: map[string]any{}})
	assert.False(t, res.Success)
	assert.Equal(t, "Cancelled", res.ErrorType)
	assert.Equal(t, StatusCancelled, rt.Totals().LastStatus)
}

func TestExecute_PausedRunMustResume(t *testing.T) {
	t.Parallel()
	rt := mustBuildRuntime(t, &stubStrategy{run: func(_ context.Context, rc *RunContext) (*Result, error) {
		require.NoError(t, rc.Pause("waiting for supplier feed"))
		assert.Equal(t, StatusPaused, rc.Status())
		require.NoError(t, rc.Resume())
		return NewResult(true, "ok"), nil
	}})
	assert.True(t, rt.Execute(context.Background(), Request{Input: map[string]any{}}).Success)

	rt = mustBuildRuntime(t, &stubStrategy{run: func(_ context.Context, rc *RunContext) (*Result, error) {
		require.NoError(t, rc.Pause("forgot to resume"))
		return NewResult(true, "ok"), nil
	}})
	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	assert.False(t, res.Success)
	assert.Equal(t, "ConflictError", res.ErrorType)
}

// ===== CallTool =====

func TestCallTool_FailureIsWrappedRecordedAndReverted(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection refused")
	var callErr error
	var statusAfter Status
	s, ec := captureContext(func(ctx context.Context, rc *RunContext) (*Result, error) {
		_, callErr = rc.CallTool(ctx, "inventory_levels", nil)
		statusAfter = rc.Status()
		return NewResult(true, "handled tool failure"), nil
	})
	s.tools = []tool.Tool{failingTool("inventory_levels", cause)}
	obs := &recordingObserver{}
	rt := mustBuildRuntime(t, s, func(b *RuntimeBuilder) { b.WithObserver(obs) })

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})

	require.True(t, res.Success)
	require.Error(t, callErr)
	assert.Equal(t, "ToolError:inventory_levels", sserr.TypeName(callErr))
	assert.ErrorIs(t, callErr, cause)
	assert.Equal(t, StatusRunning, statusAfter)

	usage := (*ec).ToolUsage()
	require.Len(t, usage, 1)
	assert.False(t, usage[0].Success)
	errs := (*ec).Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "inventory_levels", errs[0].Details["tool"])
	assert.Equal(t, []string{"inventory_levels"}, obs.tools)
}

func TestCallTool_UnsuccessfulResultCountsAsFailure(t *testing.T) {
	t.Parallel()
	negative := &tool.Func{ToolName: "neg", Fn: func(context.Context, tool.Invocation, map[string]any) (*tool.Result, error) {
		return tool.Failed("supplier %s unknown", "S-9"), nil
	}}
	var callErr error
	rt := mustBuildRuntime(t, &stubStrategy{tools: []tool.Tool{negative}, run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		_, callErr = rc.CallTool(ctx, "neg", nil)
		return nil, callErr
	}})

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	assert.Equal(t, "ToolError:neg", res.ErrorType)
	assert.ErrorContains(t, callErr, "supplier S-9 unknown")
}

func TestCallTool_InvalidParametersAreToolErrors(t *testing.T) {
	t.Parallel()
	rt := mustBuildRuntime(t, &stubStrategy{tools: []tool.Tool{echoTool("echo")}, run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		_, err := rc.CallTool(ctx, "echo", map[string]any{"sku": 42})
		return nil, err
	}})

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	assert.Equal(t, "ToolError:echo", res.ErrorType)
}

func TestCallTool_PermissionDenied(t *testing.T) {
	t.Parallel()
	s, ec := captureContext(func(ctx context.Context, rc *RunContext) (*Result, error) {
		_, err := rc.CallTool(ctx, "echo", nil)
		return nil, err
	})
	s.tools = []tool.Tool{echoTool("echo")}
	rt := mustBuildRuntime(t, s, func(b *RuntimeBuilder) { b.WithAuthorizer(denyAuthorizer{denied: "echo"}) })

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	assert.Equal(t, "PermissionError", res.ErrorType)
	assert.Empty(t, (*ec).ToolUsage(), "denied calls never reach the tool")
	for _, h := range (*ec).StateHistory() {
		assert.NotEqual(t, StatusExecutingTool, h.To)
	}
}

func TestCallTool_SandboxViolationPropagatesUnwrapped(t *testing.T) {
	t.Parallel()
	rt := mustBuildRuntime(t, &stubStrategy{tools: []tool.Tool{echoTool("echo")}, run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		_, err := rc.CallTool(ctx, "echo", nil)
		return nil, err
	}}, func(b *RuntimeBuilder) { b.WithSandbox(violatingSandbox{}) })

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	assert.Equal(t, "SandboxViolation", res.ErrorType)
}

func TestCallTool_ToolPanicBecomesToolError(t *testing.T) {
	t.Parallel()
	bad := &tool.Func{ToolName: "bad", Fn: func(context.Context, tool.Invocation, map[string]any) (*tool.Result, error) {
		panic("nil dereference")
	}}
	rt := mustBuildRuntime(t, &stubStrategy{tools: []tool.Tool{bad}, run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		_, err := rc.CallTool(ctx, "bad", nil)
		return nil, err
	}})

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	assert.Equal(t, "ToolError:bad", res.ErrorType)
	assert.Contains(t, res.Message, "panicked")
}

func TestCallTool_CachesCacheableResults(t *testing.T) {
	t.Parallel()
	ct := &cachedTool{}
	ct.Func = tool.Func{ToolName: "levels", Params: []tool.Parameter{{Name: "sku", Type: tool.TypeString}},
		Fn: func(context.Context, tool.Invocation, map[string]any) (*tool.Result, error) {
			ct.mu.Lock()
			ct.calls++
			ct.mu.Unlock()
			return tool.OK(10), nil
		}}
	cache, err := tool.NewResultCache(32)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	rt := mustBuildRuntime(t, &stubStrategy{tools: []tool.Tool{ct}, run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		if _, err := rc.CallTool(ctx, "levels", map[string]any{"sku": "A"}); err != nil {
			return nil, err
		}
		cache.Wait()
		if _, err := rc.CallTool(ctx, "levels", map[string]any{"sku": "A"}); err != nil {
			return nil, err
		}
		return NewResult(true, "ok"), nil
	}}, func(b *RuntimeBuilder) { b.WithResultCache(cache) })

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	require.True(t, res.Success)
	assert.Equal(t, 1, ct.calls)
	assert.Len(t, res.Metadata.ToolsCalled, 2)
}

func TestRuntime_RegisterToolLastWriteWins(t *testing.T) {
	t.Parallel()
	first := &tool.Func{ToolName: "levels", ToolDescription: "v1", Fn: func(context.Context, tool.Invocation, map[string]any) (*tool.Result, error) {
		return tool.OK("v1"), nil
	}}
	second := &tool.Func{ToolName: "levels", ToolDescription: "v2", Fn: func(context.Context, tool.Invocation, map[string]any) (*tool.Result, error) {
		return tool.OK("v2"), nil
	}}
	var got any
	rt := mustBuildRuntime(t, &stubStrategy{tools: []tool.Tool{first, echoTool("echo")}, run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		res, err := rc.CallTool(ctx, "levels", nil)
		if err != nil {
			return nil, err
		}
		got = res.Data
		return NewResult(true, "ok"), nil
	}})
	require.NoError(t, rt.RegisterTool(second))

	require.True(t, rt.Execute(context.Background(), Request{Input: map[string]any{}}).Success)
	assert.Equal(t, "v2", got)
	assert.Equal(t, []string{"levels: v2", "echo: echoes parameters"}, rt.Tools().Descriptions())
}

// ===== LLM =====

func TestComplete_AccountsUsageAndPrependsSystemPrompt(t *testing.T) {
	t.Parallel()
	client := llm.NewScripted("offline").
		Enqueue(&llm.Response{Content: "stock is healthy", Usage: llm.Usage{TotalTokens: 120, CostUSD: 0.002}}).
		Enqueue(&llm.Response{Content: "call levels", Usage: llm.Usage{TotalTokens: 30}})
	obs := &recordingObserver{}
	rt := mustBuildRuntime(t, &stubStrategy{prompt: "You analyze inventory.", tools: []tool.Tool{echoTool("echo")},
		run: func(ctx context.Context, rc *RunContext) (*Result, error) {
			require.True(t, rc.HasLLM())
			if _, err := rc.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: "summarize"}}); err != nil {
				return nil, err
			}
			if _, err := rc.CompleteWithTools(ctx, []llm.Message{{Role: llm.RoleUser, Content: "plan"}}); err != nil {
				return nil, err
			}
			return NewResult(true, "ok"), nil
		}}, func(b *RuntimeBuilder) { b.WithLLM(client).WithObserver(obs) })

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	require.True(t, res.Success)
	assert.Equal(t, 150, res.Metadata.TokensUsed)
	assert.InDelta(t, 0.002, res.Metadata.CostUSD, 1e-9)
	assert.Equal(t, 150, obs.tokens)

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, llm.RoleSystem, calls[0][0].Role)
	assert.Equal(t, "You analyze inventory.", calls[0][0].Content)
}

func TestComplete_WithoutClientFails(t *testing.T) {
	t.Parallel()
	rt := mustBuildRuntime(t, &stubStrategy{run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		_, err := rc.Complete(ctx, nil)
		return nil, err
	}})
	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	assert.Equal(t, "InternalError", res.ErrorType)
}

// ===== Observers and tracing =====

func TestExecute_ObserversNotifiedAndPanicsIsolated(t *testing.T) {
	t.Parallel()
	good := &recordingObserver{}
	bad := &panickingObserver{}
	rt := mustBuildRuntime(t, &stubStrategy{run: okRun}, func(b *RuntimeBuilder) {
		b.WithObserver(bad).WithObserver(good)
	})

	res := rt.Execute(context.Background(), Request{Input: map[string]any{}})
	require.True(t, res.Success)
	assert.Equal(t, []string{res.Metadata.ExecutionID}, good.started)
	assert.Equal(t, []bool{true}, good.finished)
	assert.Equal(t, []bool{true}, bad.finished)
}

func TestExecute_RecordsSpans(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rt := mustBuildRuntime(t, &stubStrategy{tools: []tool.Tool{echoTool("echo")}, run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		if _, err := rc.CallTool(ctx, "echo", nil); err != nil {
			return nil, err
		}
		return NewResult(true, "ok"), nil
	}}, func(b *RuntimeBuilder) { b.WithTracerProvider(tp) })

	require.True(t, rt.Execute(context.Background(), Request{Input: map[string]any{}}).Success)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"agent.Execute", "agent.CallTool"}, names)
}

// ===== Concurrency =====

func TestExecute_ConcurrentCallsKeepSeparateContexts(t *testing.T) {
	t.Parallel()
	rt := mustBuildRuntime(t, &stubStrategy{tools: []tool.Tool{echoTool("echo")}, run: func(ctx context.Context, rc *RunContext) (*Result, error) {
		sku, _ := rc.Input()["sku"].(string)
		for range 3 {
			if _, err := rc.CallTool(ctx, "echo", map[string]any{"sku": sku}); err != nil {
				return nil, err
			}
			rc.Execution().AddReasoningStep(sku)
		}
		return NewResult(true, sku), nil
	}})

	const n = 20
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = rt.Execute(context.Background(), Request{Input: map[string]any{"sku": string(rune('A' + i))}})
		}()
	}
	wg.Wait()

	for i, res := range results {
		require.True(t, res.Success)
		assert.Len(t, res.Metadata.ToolsCalled, 3)
		assert.Equal(t, string(rune('A'+i)), res.Message)
		assert.Len(t, res.Reasoning, 4)
	}
	totals := rt.Totals()
	assert.Equal(t, int64(n), totals.Succeeded)
	assert.Equal(t, 0, totals.Active)
}

// ===== Health =====

func TestHealth_ReflectsSuccessRateAndLLMReachability(t *testing.T) {
	t.Parallel()
	client := llm.NewScripted("offline")
	failing := &stubStrategy{run: func(context.Context, *RunContext) (*Result, error) {
		return nil, errors.New("boom")
	}}
	rt := mustBuildRuntime(t, failing, func(b *RuntimeBuilder) { b.WithLLM(client) })

	rep := rt.Health(context.Background())
	assert.True(t, rep.Healthy)
	assert.NoError(t, rep.Err())
	assert.Equal(t, "offline", rep.LLMProvider)

	for range minHealthSamples {
		rt.Execute(context.Background(), Request{Input: map[string]any{}})
	}
	rep = rt.Health(context.Background())
	assert.False(t, rep.Healthy)
	assert.InDelta(t, 0.0, rep.SuccessRate, 1e-9)
	assert.True(t, sserr.IsUnavailable(rep.Err()))

	healthy := mustBuildRuntime(t, &stubStrategy{run: okRun}, func(b *RuntimeBuilder) { b.WithLLM(client) })
	client.SetPingError(errors.New("dial tcp: connection refused"))
	rep = healthy.Health(context.Background())
	assert.False(t, rep.Healthy)
	assert.Contains(t, rep.LLMError, "connection refused")
}
