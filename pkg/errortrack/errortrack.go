// Package errortrack groups errors by a normalized signature, infers
// their category and severity, tracks a triage status per group and
// raises alerts for new critical groups and occurrence spikes.
package errortrack

import (
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Severity ranks how urgently a group needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityFatal    Severity = "fatal"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
	SeverityFatal:    5,
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Category is the broad class of an error.
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryNotFound       Category = "not_found"
	CategoryConflict       Category = "conflict"
	CategoryTimeout        Category = "timeout"
	CategoryRateLimit      Category = "rate_limit"
	CategoryNetwork        Category = "network"
	CategoryDatabase       Category = "database"
	CategoryResource       Category = "resource"
	CategoryLLM            Category = "llm"
	CategoryTool           Category = "tool"
	CategorySandbox        Category = "sandbox"
	CategoryCancelled      Category = "cancelled"
	CategoryInternal       Category = "internal"
	CategoryUnknown        Category = "unknown"
)

// Status is the triage state of a group.
type Status string

const (
	StatusNew           Status = "new"
	StatusAcknowledged  Status = "acknowledged"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusIgnored       Status = "ignored"
	StatusReopened      Status = "reopened"
)

var transitions = map[Status][]Status{
	StatusNew:           {StatusAcknowledged, StatusInvestigating, StatusResolved, StatusIgnored},
	StatusAcknowledged:  {StatusInvestigating, StatusResolved, StatusIgnored},
	StatusInvestigating: {StatusResolved, StatusIgnored},
	StatusReopened:      {StatusAcknowledged, StatusInvestigating, StatusResolved, StatusIgnored},
	StatusResolved:      {StatusReopened},
	StatusIgnored:       {StatusAcknowledged, StatusReopened},
}

// CanTransitionTo reports whether a group in status s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Open reports whether the group still needs attention.
func (s Status) Open() bool {
	return s != StatusResolved && s != StatusIgnored
}

// Report describes one error occurrence. Either Err or Message must be
// set; when both are, Err wins.
type Report struct {
	Err         error
	Message     string
	ErrorType   string
	Stack       string
	Component   string
	UserID      string
	OrgID       string
	ExecutionID string
	// Severity and Category override inference when set.
	Severity Severity
	Category Category
	Context  map[string]any
}

func (r Report) message() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return strings.TrimSpace(r.Message)
}

func (r Report) errorType() string {
	switch {
	case r.ErrorType != "":
		return r.ErrorType
	case r.Err != nil:
		return sserr.TypeName(r.Err)
	default:
		return "Error"
	}
}

// Group aggregates every occurrence sharing a fingerprint.
type Group struct {
	ID                string     `json:"id"`
	ErrorType         string     `json:"error_type"`
	Message           string     `json:"message"`
	NormalizedMessage string     `json:"normalized_message"`
	NormalizedStack   string     `json:"normalized_stack,omitempty"`
	Category          Category   `json:"category"`
	Severity          Severity   `json:"severity"`
	Status            Status     `json:"status"`
	Retryable         bool       `json:"retryable"`
	Hint              string     `json:"hint,omitempty"`
	Count             int64      `json:"count"`
	FirstSeen         time.Time  `json:"first_seen"`
	LastSeen          time.Time  `json:"last_seen"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	Components        []string   `json:"components"`
	Users             []string   `json:"users"`
	Orgs              []string   `json:"orgs"`
}

// Instance is one recorded occurrence.
type Instance struct {
	ID          string         `json:"id"`
	GroupID     string         `json:"group_id"`
	Message     string         `json:"message"`
	Stack       string         `json:"stack,omitempty"`
	Component   string         `json:"component,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	OrgID       string         `json:"org_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
