package agent

import (
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// RuntimeBuilder assembles a [Runtime].
//
//	rt, err := agent.NewRuntimeBuilder("inv-eu-1", analytics.NewInventoryStrategy(source)).
//	    WithLLM(client).
//	    WithObserver(collector).
//	    WithAuthorizer(permissions).
//	    WithConfig(agent.Config{"critical_threshold_days": 3}).
//	    Build()
type RuntimeBuilder struct {
	id             string
	strategy       Strategy
	llm            llm.Client
	cache          *tool.ResultCache
	sandbox        Sandbox
	authorizer     ToolAuthorizer
	observers      []Observer
	handlers       []TransitionHandler
	config         Config
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	now            func() time.Time
}

// NewRuntimeBuilder starts a builder for agent instance id.
func NewRuntimeBuilder(id string, strategy Strategy) *RuntimeBuilder {
	return &RuntimeBuilder{id: id, strategy: strategy}
}

// WithLLM sets the language model client.
func (b *RuntimeBuilder) WithLLM(c llm.Client) *RuntimeBuilder {
	b.llm = c
	return b
}

// WithResultCache enables result caching for cacheable tools.
func (b *RuntimeBuilder) WithResultCache(c *tool.ResultCache) *RuntimeBuilder {
	b.cache = c
	return b
}

// WithSandbox runs every tool call inside s.
func (b *RuntimeBuilder) WithSandbox(s Sandbox) *RuntimeBuilder {
	b.sandbox = s
	return b
}

// WithAuthorizer sets the tool authorizer. Without one every tool call
// is allowed.
func (b *RuntimeBuilder) WithAuthorizer(a ToolAuthorizer) *RuntimeBuilder {
	b.authorizer = a
	return b
}

// WithObserver adds an execution observer.
func (b *RuntimeBuilder) WithObserver(o Observer) *RuntimeBuilder {
	if o != nil {
		b.observers = append(b.observers, o)
	}
	return b
}

// OnTransition adds a status transition handler.
func (b *RuntimeBuilder) OnTransition(h TransitionHandler) *RuntimeBuilder {
	b.handlers = append(b.handlers, h)
	return b
}

// WithConfig sets the agent configuration. The map is copied.
func (b *RuntimeBuilder) WithConfig(cfg Config) *RuntimeBuilder {
	b.config = maps.Clone(cfg)
	return b
}

// WithLogger sets the logger. Defaults to slog.Default().
func (b *RuntimeBuilder) WithLogger(l *slog.Logger) *RuntimeBuilder {
	b.logger = l
	return b
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func (b *RuntimeBuilder) WithTracerProvider(tp trace.TracerProvider) *RuntimeBuilder {
	b.tracerProvider = tp
	return b
}

// WithClock replaces time.Now.
func (b *RuntimeBuilder) WithClock(now func() time.Time) *RuntimeBuilder {
	b.now = now
	return b
}

// Build validates the builder, registers the strategy's tools and returns
// the runtime.
func (b *RuntimeBuilder) Build() (*Runtime, error) {
	if b.id == "" {
		return nil, sserr.Validation("agent: id must not be empty")
	}
	if b.strategy == nil {
		return nil, sserr.Validation("agent: strategy must not be nil")
	}
	if b.strategy.Type() == "" {
		return nil, sserr.Validation("agent: strategy type must not be empty")
	}

	tools := tool.NewRegistry()
	for _, t := range b.strategy.InitializeTools() {
		if err := tools.Register(t); err != nil {
			return nil, err
		}
	}

	r := &Runtime{
		id:         b.id,
		strategy:   b.strategy,
		tools:      tools,
		llm:        b.llm,
		cache:      b.cache,
		sandbox:    b.sandbox,
		authorizer: b.authorizer,
		observers:  append([]Observer(nil), b.observers...),
		handlers:   append([]TransitionHandler(nil), b.handlers...),
		config:     b.config,
		logger:     b.logger,
		now:        b.now,
		totals:     Totals{LastStatus: StatusIdle},
	}
	if r.config == nil {
		r.config = Config{}
	}
	if r.authorizer == nil {
		r.authorizer = allowAll{}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	r.tracer = tp.Tracer(tracerName)
	return r, nil
}
