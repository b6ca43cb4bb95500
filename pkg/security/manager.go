package security

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

const (
	// DefaultContextTTL is how long a security context lives.
	DefaultContextTTL = 24 * time.Hour

	// DefaultRole is used when a context request names no role.
	DefaultRole = "analyst"

	defaultAuditSize      = 1000
	defaultReaperInterval = 10 * time.Minute
)

// ContextRequest describes the session to create.
type ContextRequest struct {
	// SessionID is generated when empty.
	SessionID string
	AgentID   string
	UserID    string
	OrgID     string
	// Role defaults to DefaultRole.
	Role string
	// Extra permissions are granted on top of the role template.
	Extra        []Permission
	Restrictions Restrictions
	// PermissionTTL, when positive, expires the role permissions before
	// the context itself.
	PermissionTTL time.Duration
}

// AuditEntry records a denied permission check.
type AuditEntry struct {
	Time         time.Time `json:"time"`
	SessionID    string    `json:"session_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Level        Level     `json:"level"`
	Reason       string    `json:"reason"`
}

// Manager stores security contexts keyed by session id. It is safe for
// concurrent use.
type Manager struct {
	roles     RoleTemplates
	ttl       time.Duration
	auditSize int
	tokens    *TokenIssuer
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.RWMutex
	contexts map[string]*SecurityContext
	audit    []AuditEntry

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRoleTemplates replaces the default role templates.
func WithRoleTemplates(t RoleTemplates) ManagerOption {
	return func(m *Manager) { m.roles = t }
}

// WithContextTTL sets the context lifetime.
func WithContextTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithAuditSize bounds the denial audit log.
func WithAuditSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.auditSize = n
		}
	}
}

// WithTokenIssuer enables IssueToken and ContextFromToken.
func WithTokenIssuer(ti *TokenIssuer) ManagerOption {
	return func(m *Manager) { m.tokens = ti }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		roles:     DefaultRoleTemplates(),
		ttl:       DefaultContextTTL,
		auditSize: defaultAuditSize,
		now:       time.Now,
		logger:    slog.Default(),
		contexts:  make(map[string]*SecurityContext),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSecurityContext instantiates the role template for req.OrgID and
// stores the new context. An existing context with the same session id is
// replaced.
func (m *Manager) CreateSecurityContext(req ContextRequest) (*SecurityContext, error) {
	if req.OrgID == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "security: org id is required")
	}
	if strings.ContainsAny(req.OrgID, "/*?[\\") {
		return nil, sserr.Validationf("security: org id %q contains reserved characters", req.OrgID)
	}
	role := req.Role
	if role == "" {
		role = DefaultRole
	}

	now := m.now()
	var permExpiry *time.Time
	if req.PermissionTTL > 0 {
		t := now.Add(req.PermissionTTL)
		permExpiry = &t
	}
	perms, ok := m.roles.instantiate(role, req.OrgID, permExpiry)
	if !ok {
		return nil, sserr.Validationf("security: unknown role %q", role)
	}
	perms = append(perms, req.Extra...)

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sc := &SecurityContext{
		SessionID:    sessionID,
		AgentID:      req.AgentID,
		UserID:       req.UserID,
		OrgID:        req.OrgID,
		Role:         role,
		Permissions:  perms,
		Restrictions: req.Restrictions,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
	}

	m.mu.Lock()
	m.contexts[sessionID] = sc
	m.mu.Unlock()

	m.logger.Debug("security: context created",
		"session_id", sessionID,
		"org_id", req.OrgID,
		"role", role,
		"permissions", len(perms),
	)
	return sc.clone(), nil
}

// GetSecurityContext returns a copy of the live context for sessionID.
// Expired contexts are reported as absent.
func (m *Manager) GetSecurityContext(sessionID string) (*SecurityContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.contexts[sessionID]
	if !ok || sc.Expired(m.now()) {
		return nil, false
	}
	return sc.clone(), true
}

// HasPermission reports whether the session holds level on the resource.
// Unknown and expired sessions hold nothing.
func (m *Manager) HasPermission(sessionID, resourceType, resourceID string, level Level) bool {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.contexts[sessionID]
	if !ok || sc.Expired(now) {
		return false
	}
	return sc.HasPermission(resourceType, resourceID, level, now)
}

// CheckPermission is HasPermission with denials written to the audit log.
// It never fails: a session that was never created is simply denied.
func (m *Manager) CheckPermission(sessionID, resourceType, resourceID string, level Level) bool {
	if m.HasPermission(sessionID, resourceType, resourceID, level) {
		return true
	}
	reason := "no matching permission"
	if _, ok := m.GetSecurityContext(sessionID); !ok {
		reason = "unknown session"
	}
	m.recordDenial(AuditEntry{
		SessionID:    sessionID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Level:        level,
		Reason:       reason,
	})
	return false
}

// RequirePermission is CheckPermission returning an error. Unknown
// sessions fail with an authentication error, missing grants with an
// authorization error.
func (m *Manager) RequirePermission(sessionID, resourceType, resourceID string, level Level) error {
	if m.CheckPermission(sessionID, resourceType, resourceID, level) {
		return nil
	}
	if _, ok := m.GetSecurityContext(sessionID); !ok {
		return sserr.Newf(sserr.CodeAuthentication, "security: unknown or expired session %q", sessionID)
	}
	return sserr.Forbiddenf("security: %s access to %s %q denied", level, resourceType, resourceID).
		WithDetail("session_id", sessionID)
}

// AuthorizeTool allows a tool call when the session may execute the tool.
func (m *Manager) AuthorizeTool(_ context.Context, sessionID, toolName string) error {
	return m.RequirePermission(sessionID, ResourceTool, toolName, LevelExecute)
}

// Grant adds a permission to a live session.
func (m *Manager) Grant(sessionID string, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.contexts[sessionID]
	if !ok {
		return sserr.NotFoundf("security: session %q not found", sessionID)
	}
	sc.Permissions = append(sc.Permissions, p)
	return nil
}

// Revoke removes every permission of the session matching resourceType
// and the exact resourceID pattern, returning how many were removed.
func (m *Manager) Revoke(sessionID, resourceType, resourceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.contexts[sessionID]
	if !ok {
		return 0
	}
	before := len(sc.Permissions)
	sc.Permissions = slices.DeleteFunc(sc.Permissions, func(p Permission) bool {
		return p.ResourceType == resourceType && p.ResourceID == resourceID
	})
	return before - len(sc.Permissions)
}

// RemoveSecurityContext deletes a session.
func (m *Manager) RemoveSecurityContext(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.contexts[sessionID]
	delete(m.contexts, sessionID)
	return ok
}

// CleanupExpiredContexts deletes contexts past their TTL or whose
// permissions have all expired, and prunes expired permissions from the
// contexts that remain.
func (m *Manager) CleanupExpiredContexts() (removed, pruned int) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sc := range m.contexts {
		if sc.Expired(now) {
			delete(m.contexts, id)
			removed++
			continue
		}
		before := len(sc.Permissions)
		sc.Permissions = slices.DeleteFunc(sc.Permissions, func(p Permission) bool { return p.Expired(now) })
		if n := before - len(sc.Permissions); n > 0 {
			pruned += n
			if len(sc.Permissions) == 0 {
				delete(m.contexts, id)
				removed++
			}
		}
	}
	return removed, pruned
}

// Len returns the number of stored contexts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.contexts)
}

// Sessions returns the ids of all stored contexts.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.contexts))
}

// AuditLog returns the recorded denials, oldest first.
func (m *Manager) AuditLog() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.audit)
}

func (m *Manager) recordDenial(e AuditEntry) {
	e.Time = m.now()
	m.mu.Lock()
	m.audit = append(m.audit, e)
	if over := len(m.audit) - m.auditSize; over > 0 {
		m.audit = slices.Delete(m.audit, 0, over)
	}
	m.mu.Unlock()

	m.logger.Warn("security: permission denied",
		"session_id", e.SessionID,
		"resource_type", e.ResourceType,
		"resource_id", e.ResourceID,
		"level", e.Level.String(),
		"reason", e.Reason,
	)
}

// Start runs CleanupExpiredContexts every interval until Stop or ctx is
// done. A non-positive interval uses ten minutes. Calling Start on a
// running manager is a no-op.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultReaperInterval
	}
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.reap(ctx, interval, m.done)
}

// Stop halts the reaper and waits for it to exit.
func (m *Manager) Stop() {
	m.loopMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.loopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) reap(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, pruned := m.CleanupExpiredContexts()
			if removed > 0 || pruned > 0 {
				m.logger.Info("security: expired contexts reaped", "removed", removed, "pruned_permissions", pruned)
			}
		}
	}
}
