// Package executor owns the agent instances of the process. It creates
// agents from registered factories, scopes every execution to an
// organization and a security session, bounds concurrency, and reports
// outcomes to the error tracker and the execution store.
package executor

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/agent"
	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/errortrack"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/models"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/security"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// DefaultMaxConcurrent bounds simultaneous executions across all agents.
const DefaultMaxConcurrent = 10

// Agent configuration keys read by the executor itself.
const (
	// ConfigRole is the security role of sessions the executor creates.
	ConfigRole = "role"
	// ConfigUseLLM disables the language model for one agent when false.
	ConfigUseLLM = "use_llm"
)

// Factory builds the strategy of a new agent from its configuration.
type Factory func(cfg agent.Config) (agent.Strategy, error)

// ExecutionSink persists finished executions.
type ExecutionSink interface {
	SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error
}

// ErrorTracker receives failed executions. *errortrack.Tracker satisfies
// it.
type ErrorTracker interface {
	Track(ctx context.Context, r errortrack.Report) (errortrack.Group, error)
}

// agentRemover is implemented by observers holding per-agent state, such
// as *metrics.Collector.
type agentRemover interface {
	RemoveAgent(agentID string)
}

// AgentInfo describes a registered agent.
type AgentInfo struct {
	ID        string       `json:"id"`
	Type      string       `json:"type"`
	OrgID     string       `json:"org_id"`
	Config    agent.Config `json:"config,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

type instance struct {
	info AgentInfo
	rt   *agent.Runtime
	role string
}

// Stats is a point-in-time view of the executor.
type Stats struct {
	Agents     int            `json:"agents"`
	ByType     map[string]int `json:"by_type"`
	Active     int            `json:"active"`
	Queued     int            `json:"queued"`
	Executions int64          `json:"executions"`
	Succeeded  int64          `json:"succeeded"`
	Failed     int64          `json:"failed"`
	Rejected   int64          `json:"rejected"`
}

// Option configures an [Executor].
type Option func(*Executor)

// WithMaxConcurrent bounds simultaneous executions. Values below one are
// ignored.
func WithMaxConcurrent(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrent = n
		}
	}
}

// WithLLM gives every agent the language model client c.
func WithLLM(c llm.Client) Option { return func(e *Executor) { e.llm = c } }

// WithResultCache shares c between all agents.
func WithResultCache(c *tool.ResultCache) Option { return func(e *Executor) { e.cache = c } }

// WithSecurity scopes executions to sessions of m. Without it tool calls
// are not authorized per session.
func WithSecurity(m *security.Manager) Option { return func(e *Executor) { e.security = m } }

// WithSandbox runs tool calls inside sb, narrowed by the session's
// restrictions.
func WithSandbox(sb *security.Sandbox) Option { return func(e *Executor) { e.sandbox = sb } }

// WithObserver reports execution progress of every agent to o.
func WithObserver(o agent.Observer) Option { return func(e *Executor) { e.observer = o } }

// WithErrorTracker reports failed executions to t.
func WithErrorTracker(t ErrorTracker) Option { return func(e *Executor) { e.tracker = t } }

// WithExecutionSink persists every execution to s.
func WithExecutionSink(s ExecutionSink) Option { return func(e *Executor) { e.sink = s } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Executor) { e.logger = l } }

// Executor is safe for concurrent use.
type Executor struct {
	maxConcurrent int
	sem           *semaphore.Weighted
	llm           llm.Client
	cache         *tool.ResultCache
	security      *security.Manager
	sandbox       *security.Sandbox
	observer      agent.Observer
	tracker       ErrorTracker
	sink          ExecutionSink
	logger        *slog.Logger

	mu        sync.RWMutex
	factories map[string]Factory
	agents    map[string]*instance
	stats     Stats
	closed    bool
	jobs      sync.WaitGroup
}

// New returns an executor without factories.
func New(opts ...Option) *Executor {
	e := &Executor{
		maxConcurrent: DefaultMaxConcurrent,
		factories:     map[string]Factory{},
		agents:        map[string]*instance{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.sem = semaphore.NewWeighted(int64(e.maxConcurrent))
	return e
}

// RegisterFactory makes agentType available to CreateAgent. A second
// registration replaces the first.
func (e *Executor) RegisterFactory(agentType string, f Factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[agentType] = f
}

// Types lists the registered agent types, sorted.
func (e *Executor) Types() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.factories))
	for t := range e.factories {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// CreateAgent builds and registers an agent of agentType owned by orgID.
// An empty id is generated.
func (e *Executor) CreateAgent(ctx context.Context, id, agentType, orgID string, cfg agent.Config) (AgentInfo, error) {
	if orgID == "" {
		return AgentInfo{}, sserr.New(sserr.CodeValidationRequired, "executor: org id is required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	e.mu.RLock()
	factory, ok := e.factories[agentType]
	_, exists := e.agents[id]
	e.mu.RUnlock()
	if !ok {
		return AgentInfo{}, sserr.Validationf("executor: unknown agent type %q", agentType)
	}
	if exists {
		return AgentInfo{}, sserr.Newf(sserr.CodeConflictAlreadyExists, "executor: agent %q already exists", id)
	}

	strategy, err := factory(cfg)
	if err != nil {
		return AgentInfo{}, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "executor: build %s agent", agentType)
	}

	b := agent.NewRuntimeBuilder(id, strategy).
		WithConfig(cfg).
		WithResultCache(e.cache).
		WithLogger(e.logger).
		WithObserver(e.observer)
	if e.llm != nil && cfg.Bool(ConfigUseLLM, true) {
		b = b.WithLLM(e.llm)
	}
	if e.security != nil {
		b = b.WithAuthorizer(e.security)
	}
	if e.sandbox != nil {
		b = b.WithSandbox(sessionSandbox{base: e.sandbox})
	}
	rt, err := b.Build()
	if err != nil {
		return AgentInfo{}, err
	}

	inst := &instance{
		info: AgentInfo{ID: id, Type: agentType, OrgID: orgID, Config: cfg, CreatedAt: time.Now().UTC()},
		rt:   rt,
		role: cfg.String(ConfigRole, security.DefaultRole),
	}

	e.mu.Lock()
	if _, exists := e.agents[id]; exists {
		e.mu.Unlock()
		return AgentInfo{}, sserr.Newf(sserr.CodeConflictAlreadyExists, "executor: agent %q already exists", id)
	}
	e.agents[id] = inst
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "executor: agent created", "agent_id", id, "agent_type", agentType, "org_id", orgID)
	return inst.info, nil
}

func (e *Executor) lookup(id string) (*instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.agents[id]
	if !ok {
		return nil, sserr.Newf(sserr.CodeNotFoundAgent, "executor: agent %q not found", id)
	}
	return inst, nil
}

// GetAgent returns the description of agent id.
func (e *Executor) GetAgent(id string) (AgentInfo, error) {
	inst, err := e.lookup(id)
	if err != nil {
		return AgentInfo{}, err
	}
	return inst.info, nil
}

// ListAgents returns the agents of orgID, or of every organization when
// orgID is empty, ordered by id.
func (e *Executor) ListAgents(orgID string) []AgentInfo {
	e.mu.RLock()
	out := make([]AgentInfo, 0, len(e.agents))
	for _, inst := range e.agents {
		if orgID == "" || inst.info.OrgID == orgID {
			out = append(out, inst.info)
		}
	}
	e.mu.RUnlock()
	slices.SortFunc(out, func(a, b AgentInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// RemoveAgent unregisters agent id. Executions already running finish
// normally.
func (e *Executor) RemoveAgent(id string) error {
	e.mu.Lock()
	_, ok := e.agents[id]
	delete(e.agents, id)
	e.mu.Unlock()
	if !ok {
		return sserr.Newf(sserr.CodeNotFoundAgent, "executor: agent %q not found", id)
	}
	if r, ok := e.observer.(agentRemover); ok {
		r.RemoveAgent(id)
	}
	e.logger.Info("executor: agent removed", "agent_id", id)
	return nil
}

// GetAgentHealth reports the health of agent id.
func (e *Executor) GetAgentHealth(ctx context.Context, id string) (agent.HealthReport, error) {
	inst, err := e.lookup(id)
	if err != nil {
		return agent.HealthReport{}, err
	}
	return inst.rt.Health(ctx), nil
}

// QueueDepth is the number of executions waiting for a slot.
func (e *Executor) QueueDepth() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats.Queued
}

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.stats
	s.Agents = len(e.agents)
	s.ByType = map[string]int{}
	for _, inst := range e.agents {
		s.ByType[inst.info.Type]++
	}
	return s
}

func (e *Executor) count(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// ExecuteAgent runs agent id on input for userID of orgID in a session
// created for this call.
func (e *Executor) ExecuteAgent(ctx context.Context, id string, input any, orgID, userID string) (*agent.Result, error) {
	return e.Execute(ctx, id, agent.Request{Input: input, OrgID: orgID, UserID: userID})
}

// Execute runs agent id for req.
//
// The returned error reports why the execution could not start: unknown
// agent, organization mismatch, missing permission, or a context that
// ended while waiting for a slot. Once started, failures are reported in
// the Result and the error is nil.
//
// When req.SessionID is empty a session with the agent's role is created
// for the call and removed afterwards. A caller supplied session must
// exist and belong to req.OrgID. req.SessionToken, when set, is verified
// and names the session.
func (e *Executor) Execute(ctx context.Context, id string, req agent.Request) (*agent.Result, error) {
	inst, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if req.OrgID == "" {
		req.OrgID = inst.info.OrgID
	}
	if req.OrgID != inst.info.OrgID {
		e.count(func(s *Stats) { s.Rejected++ })
		return nil, sserr.Newf(sserr.CodeAuthorizationScope,
			"executor: agent %q does not belong to organization %q", id, req.OrgID).
			WithDetail("agent_id", id)
	}

	var limits *security.Limits
	if e.security != nil {
		sc, release, err := e.session(ctx, inst, &req)
		if err != nil {
			e.count(func(s *Stats) { s.Rejected++ })
			return nil, err
		}
		defer release()
		if e.sandbox != nil {
			l := sc.Restrictions.Apply(e.sandbox.Limits())
			limits = &l
		}
	}
	if limits != nil {
		ctx = withLimits(ctx, *limits)
	}

	e.count(func(s *Stats) { s.Queued++ })
	err = e.sem.Acquire(ctx, 1)
	e.count(func(s *Stats) {
		s.Queued--
		if err == nil {
			s.Active++
		}
	})
	if err != nil {
		e.count(func(s *Stats) { s.Rejected++ })
		return nil, sserr.FromError(err)
	}
	defer func() {
		e.sem.Release(1)
		e.count(func(s *Stats) { s.Active-- })
	}()

	res := inst.rt.Execute(ctx, req)
	e.count(func(s *Stats) {
		s.Executions++
		if res.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	})
	e.report(ctx, inst, req, res)
	return res, nil
}

// session resolves the security context of req, creating one when the
// caller supplied none. release removes a created session.
func (e *Executor) session(ctx context.Context, inst *instance, req *agent.Request) (*security.SecurityContext, func(), error) {
	release := func() {}
	if req.SessionToken != "" {
		sc, err := e.security.ContextFromToken(req.SessionToken)
		if err != nil {
			return nil, nil, err
		}
		req.SessionID = sc.SessionID
		req.SessionToken = ""
	}
	if req.SessionID != "" {
		sc, ok := e.security.GetSecurityContext(req.SessionID)
		if !ok {
			return nil, nil, sserr.Newf(sserr.CodeAuthentication, "executor: unknown or expired session %q", req.SessionID)
		}
		if sc.OrgID != req.OrgID {
			return nil, nil, sserr.Newf(sserr.CodeAuthorizationScope,
				"executor: session %q belongs to another organization", req.SessionID)
		}
		if req.UserID == "" {
			req.UserID = sc.UserID
		}
		return sc, release, e.security.RequirePermission(sc.SessionID, security.ResourceAgent, agentResource(inst.info), security.LevelExecute)
	}

	sc, err := e.security.CreateSecurityContext(security.ContextRequest{
		AgentID: inst.info.ID,
		UserID:  req.UserID,
		OrgID:   req.OrgID,
		Role:    inst.role,
	})
	if err != nil {
		return nil, nil, err
	}
	release = func() { e.security.RemoveSecurityContext(sc.SessionID) }
	if err := e.security.RequirePermission(sc.SessionID, security.ResourceAgent, agentResource(inst.info), security.LevelExecute); err != nil {
		release()
		return nil, nil, err
	}
	req.SessionID = sc.SessionID
	e.logger.DebugContext(ctx, "executor: session created", "agent_id", inst.info.ID, "session_id", sc.SessionID, "role", sc.Role)
	return sc, release, nil
}

// OpenSession creates a session with the role of agent id for userID and
// returns its id and a signed token naming it. The session outlives the
// call; CloseSession or the security reaper removes it. Token signing must
// be configured on the security manager.
func (e *Executor) OpenSession(id, userID string) (sessionID, token string, err error) {
	if e.security == nil {
		return "", "", sserr.New(sserr.CodeInternalConfiguration, "executor: security is not configured")
	}
	inst, err := e.lookup(id)
	if err != nil {
		return "", "", err
	}
	sc, err := e.security.CreateSecurityContext(security.ContextRequest{
		AgentID: inst.info.ID,
		UserID:  userID,
		OrgID:   inst.info.OrgID,
		Role:    inst.role,
	})
	if err != nil {
		return "", "", err
	}
	token, err = e.security.IssueToken(sc.SessionID)
	if err != nil {
		e.security.RemoveSecurityContext(sc.SessionID)
		return "", "", err
	}
	return sc.SessionID, token, nil
}

// CloseSession removes a session created by OpenSession.
func (e *Executor) CloseSession(sessionID string) {
	if e.security != nil {
		e.security.RemoveSecurityContext(sessionID)
	}
}

// agentResource is the resource id permissions name an agent by:
// "org_<org>/<agent>".
func agentResource(info AgentInfo) string {
	return "org_" + info.OrgID + "/" + info.ID
}

// report hands the outcome to the error tracker and the execution sink.
// Neither may fail the execution.
func (e *Executor) report(ctx context.Context, inst *instance, req agent.Request, res *agent.Result) {
	ctx = context.WithoutCancel(ctx)
	md := res.Metadata

	if !res.Success && e.tracker != nil {
		_, err := e.tracker.Track(ctx, errortrack.Report{
			Message:     res.Message,
			ErrorType:   res.ErrorType,
			Component:   "agent:" + inst.info.Type,
			UserID:      req.UserID,
			OrgID:       req.OrgID,
			ExecutionID: md.ExecutionID,
			Context:     map[string]any{"agent_id": inst.info.ID},
		})
		if err != nil {
			e.logger.Warn("executor: could not track failure", "agent_id", inst.info.ID, "error", err)
		}
	}

	if e.sink == nil {
		return
	}
	rec, err := models.NewExecutionRecord(md.ExecutionID, inst.info.ID, inst.info.Type, req.OrgID, req.UserID)
	if err != nil {
		e.logger.Warn("executor: could not build execution record", "agent_id", inst.info.ID, "error", err)
		return
	}
	if !md.StartedAt.IsZero() {
		rec.StartTime = md.StartedAt
	}
	_ = rec.Start()
	err = rec.Finish(models.Outcome{
		Status:       models.StatusForErrorType(res.Success, res.ErrorType),
		TokensUsed:   md.TokensUsed,
		CostUSD:      md.CostUSD,
		ToolCalls:    md.ToolsCalled,
		ErrorType:    res.ErrorType,
		ErrorMessage: errorMessage(res),
	})
	if err == nil {
		rec.Metadata["session_id"] = req.SessionID
		err = e.sink.SaveExecution(ctx, rec)
	}
	if err != nil {
		e.logger.Warn("executor: could not save execution", "execution_id", md.ExecutionID, "error", err)
	}
}

func errorMessage(res *agent.Result) string {
	if res.Success {
		return ""
	}
	return res.Message
}
