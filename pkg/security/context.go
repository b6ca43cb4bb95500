package security

import (
	"slices"
	"strings"
	"time"
)

// Restrictions are per-session overrides of sandbox limits. Zero fields
// leave the sandbox default in place.
type Restrictions struct {
	MaxExecutionTime time.Duration  `json:"max_execution_time,omitempty" yaml:"max_execution_time"`
	MaxMemoryBytes   uint64         `json:"max_memory_bytes,omitempty" yaml:"max_memory_bytes"`
	MaxFileOps       int            `json:"max_file_ops,omitempty" yaml:"max_file_ops"`
	AllowedHosts     []string       `json:"allowed_hosts,omitempty" yaml:"allowed_hosts"`
	Extra            map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// Apply returns l with the non-zero restrictions substituted.
func (r Restrictions) Apply(l Limits) Limits {
	if r.MaxExecutionTime > 0 {
		l.MaxExecutionTime = r.MaxExecutionTime
	}
	if r.MaxMemoryBytes > 0 {
		l.MaxMemoryBytes = r.MaxMemoryBytes
	}
	if r.MaxFileOps > 0 {
		l.MaxFileOps = r.MaxFileOps
	}
	return l
}

// SecurityContext binds one session to its permissions.
type SecurityContext struct {
	SessionID    string       `json:"session_id"`
	AgentID      string       `json:"agent_id"`
	UserID       string       `json:"user_id"`
	OrgID        string       `json:"org_id"`
	Role         string       `json:"role"`
	Permissions  []Permission `json:"permissions"`
	Restrictions Restrictions `json:"restrictions"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// HasPermission reports whether some permission of c grants level on the
// resource at now. The first matching grant wins.
func (c *SecurityContext) HasPermission(resourceType, resourceID string, level Level, now time.Time) bool {
	for _, p := range c.Permissions {
		if p.Allows(resourceType, resourceID, level, now) {
			return true
		}
	}
	return false
}

// Expired reports whether the context itself has passed its TTL.
func (c *SecurityContext) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

func (c *SecurityContext) clone() *SecurityContext {
	cp := *c
	cp.Permissions = slices.Clone(c.Permissions)
	cp.Restrictions.AllowedHosts = slices.Clone(c.Restrictions.AllowedHosts)
	return &cp
}

// orgPlaceholder is replaced by the session's org id in role templates.
const orgPlaceholder = "{{org_id}}"

// RoleTemplates maps role names to permission templates.
type RoleTemplates map[string][]Permission

// DefaultRoleTemplates returns the built-in roles. Data and agent
// resources are scoped to the caller's organization.
//
//   - viewer: read the organization's data and agents.
//   - analyst: viewer plus executing agents and every analytics tool.
//   - operator: analyst plus writing data and temporary files.
//   - admin: everything within the organization, and system reads.
func DefaultRoleTemplates() RoleTemplates {
	data := "org_" + orgPlaceholder + "/*"
	agents := "org_" + orgPlaceholder + "/*"
	files := "/tmp/analytics/" + orgPlaceholder + "/*"
	return RoleTemplates{
		"viewer": {
			{ResourceType: ResourceData, ResourceID: data, Level: LevelRead},
			{ResourceType: ResourceAgent, ResourceID: agents, Level: LevelRead},
		},
		"analyst": {
			{ResourceType: ResourceData, ResourceID: data, Level: LevelRead},
			{ResourceType: ResourceAgent, ResourceID: agents, Level: LevelExecute},
			{ResourceType: ResourceTool, ResourceID: "*", Level: LevelExecute},
		},
		"operator": {
			{ResourceType: ResourceData, ResourceID: data, Level: LevelWrite},
			{ResourceType: ResourceAgent, ResourceID: agents, Level: LevelExecute},
			{ResourceType: ResourceTool, ResourceID: "*", Level: LevelExecute},
			{ResourceType: ResourceFile, ResourceID: files, Level: LevelWrite},
		},
		"admin": {
			{ResourceType: ResourceData, ResourceID: data, Level: LevelAdmin},
			{ResourceType: ResourceAgent, ResourceID: agents, Level: LevelAdmin},
			{ResourceType: ResourceTool, ResourceID: "*", Level: LevelAdmin},
			{ResourceType: ResourceFile, ResourceID: files, Level: LevelAdmin},
			{ResourceType: ResourceSystem, ResourceID: "*", Level: LevelRead},
		},
	}
}

// instantiate substitutes orgID into the templates of role.
func (t RoleTemplates) instantiate(role, orgID string, expiresAt *time.Time) ([]Permission, bool) {
	tmpl, ok := t[role]
	if !ok {
		return nil, false
	}
	out := make([]Permission, len(tmpl))
	for i, p := range tmpl {
		p.ResourceID = strings.ReplaceAll(p.ResourceID, orgPlaceholder, orgID)
		if p.ExpiresAt == nil && expiresAt != nil {
			exp := *expiresAt
			p.ExpiresAt = &exp
		}
		out[i] = p
	}
	return out, true
}
