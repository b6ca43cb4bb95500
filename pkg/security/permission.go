// Package security implements session-scoped permission grants and the
// resource-limited sandbox that wraps tool execution.
//
// A [Manager] issues a [SecurityContext] per agent invocation. Each
// context carries permissions instantiated from a role template and
// scoped to the caller's organization; checks pass when some unexpired
// permission of the requested resource type has a sufficient [Level] and
// a resource pattern that matches the requested id.
//
// A [Sandbox] runs a unit of work under declared [Limits] and fails it
// with a [ViolationError] when a ceiling is exceeded. Enforcement is
// cooperative: usage is sampled while the work runs and checked again
// when it returns, so a call that never returns cannot be interrupted.
package security

import (
	"fmt"
	"path"
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Level is a totally ordered access level.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
	LevelExecute
	LevelAdmin
)

var levelNames = [...]string{"none", "read", "write", "execute", "admin"}

// String returns the lowercase level name.
func (l Level) String() string {
	if l < LevelNone || l > LevelAdmin {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelNone, sserr.Newf(sserr.CodeValidationFormat, "security: unknown level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Resource types understood by the platform.
const (
	ResourceTool   = "tool"
	ResourceData   = "data"
	ResourceAgent  = "agent"
	ResourceFile   = "file"
	ResourceAPI    = "api"
	ResourceSystem = "system"
)

// Permission grants Level on resources of ResourceType whose id matches
// ResourceID. ResourceID is an exact id, a prefix pattern ending in "_*",
// or a glob understood by [path.Match].
type Permission struct {
	ResourceType string     `json:"resource_type" yaml:"resource_type"`
	ResourceID   string     `json:"resource_id" yaml:"resource_id"`
	Level        Level      `json:"level" yaml:"level"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// Expired reports whether the permission has an expiry at or before now.
func (p Permission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// Allows reports whether p grants level on the given resource at now.
func (p Permission) Allows(resourceType, resourceID string, level Level, now time.Time) bool {
	if p.Expired(now) || p.ResourceType != resourceType || level > p.Level {
		return false
	}
	return MatchResource(p.ResourceID, resourceID)
}

// String renders the permission as "type:id:level".
func (p Permission) String() string {
	return p.ResourceType + ":" + p.ResourceID + ":" + p.Level.String()
}

// MatchResource matches id against pattern. A pattern ending in "_*"
// matches every id that starts with the text before the "*"; any other
// pattern is compared exactly and then as a glob.
func MatchResource(pattern, id string) bool {
	if pattern == id || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "_*") {
		return strings.HasPrefix(id, strings.TrimSuffix(pattern, "*"))
	}
	ok, err := path.Match(pattern, id)
	return err == nil && ok
}
