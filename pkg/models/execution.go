// Package models defines the records shared between the executor and the
// persistence layer.
//
// Execution Record:
//
// An [ExecutionRecord] is written for every agent invocation. It links
// the agent, the organization and user it ran for, and the outcome:
// status, token usage, cost and the machine-readable error type.
//
// A record flows through a fixed lifecycle:
//
//	pending → running → completed
//	                  → failed
//	                  → canceled
//	                  → timeout
//
// Terminal records (completed, failed, canceled, timeout) cannot be
// finished a second time; [ExecutionRecord.Finish] rejects that.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// ExecutionSchemaVersion identifies the current layout of
// [ExecutionRecord]. Increment it when making breaking changes to the
// fields or their serialization.
const ExecutionSchemaVersion = 1

// ExecutionStatus is the lifecycle state of a record.
type ExecutionStatus string

const (
	// ExecutionStatusPending is set by [NewExecutionRecord].
	ExecutionStatusPending ExecutionStatus = "pending"

	// ExecutionStatusRunning marks an invocation that has been handed to
	// its agent.
	ExecutionStatusRunning ExecutionStatus = "running"

	// ExecutionStatusCompleted marks a successful result. Terminal.
	ExecutionStatusCompleted ExecutionStatus = "completed"

	// ExecutionStatusFailed marks an unsuccessful result. Terminal. The
	// cause is in [ExecutionRecord.ErrorType] and ErrorMessage.
	ExecutionStatusFailed ExecutionStatus = "failed"

	// ExecutionStatusCanceled marks an invocation abandoned by its caller.
	// Terminal.
	ExecutionStatusCanceled ExecutionStatus = "canceled"

	// ExecutionStatusTimeout marks an invocation that ran out of time.
	// Terminal.
	ExecutionStatusTimeout ExecutionStatus = "timeout"
)

// String returns the status as a plain string.
func (s ExecutionStatus) String() string {
	return string(s)
}

// Valid reports whether s is a recognized status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning,
		ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusCanceled, ExecutionStatusTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a final state.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed,
		ExecutionStatusCanceled, ExecutionStatusTimeout:
		return true
	default:
		return false
	}
}

// StatusForErrorType maps an agent result to a record status: success is
// completed, "Cancelled" is canceled, "TimeoutError" is timeout and
// anything else is failed.
func StatusForErrorType(success bool, errorType string) ExecutionStatus {
	switch {
	case success:
		return ExecutionStatusCompleted
	case errorType == sserr.TypeCancelled:
		return ExecutionStatusCanceled
	case errorType == sserr.TypeTimeout:
		return ExecutionStatusTimeout
	default:
		return ExecutionStatusFailed
	}
}

// ExecutionRecord is the persisted outcome of one agent invocation.
//
// Records are created via [NewExecutionRecord] and only the outcome
// fields (Status, EndTime, TokensUsed, CostUSD, ToolCalls, ErrorType,
// ErrorMessage, Metadata, UpdatedAt) change afterwards.
type ExecutionRecord struct {
	// ID is the execution id shared with the agent result metadata.
	ID string `json:"id" db:"id"`

	AgentID   string `json:"agent_id" db:"agent_id"`
	AgentType string `json:"agent_type" db:"agent_type"`

	// OrgID scopes the record; queries never cross organizations.
	OrgID  string `json:"org_id" db:"org_id"`
	UserID string `json:"user_id,omitempty" db:"user_id"`

	Status ExecutionStatus `json:"status" db:"status"`

	// StartTime is the UTC time the record was created.
	StartTime time.Time `json:"start_time" db:"start_time"`

	// EndTime is nil until the record is finished.
	EndTime *time.Time `json:"end_time,omitempty" db:"end_time"`

	TokensUsed int      `json:"tokens_used,omitempty" db:"tokens_used"`
	CostUSD    float64  `json:"cost_usd,omitempty" db:"cost_usd"`
	ToolCalls  []string `json:"tool_calls,omitempty" db:"tool_calls"`

	// ErrorType is the machine-readable error type of a failed result,
	// e.g. "ValidationError" or "ToolError:inventory_levels".
	ErrorType    string `json:"error_type,omitempty" db:"error_type"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// Metadata holds agent-specific extras. [NewExecutionRecord] sets it
	// to an empty map so it always serializes as an object.
	Metadata map[string]any `json:"metadata" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewExecutionRecord returns a pending record. An empty id is replaced by
// a fresh UUID. agentID, agentType and orgID are required.
func NewExecutionRecord(id, agentID, agentType, orgID, userID string) (*ExecutionRecord, error) {
	if agentID == "" {
		return nil, errors.New("models: execution agentID must not be empty")
	}
	if agentType == "" {
		return nil, errors.New("models: execution agentType must not be empty")
	}
	if orgID == "" {
		return nil, errors.New("models: execution orgID must not be empty")
	}
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	return &ExecutionRecord{
		ID:        id,
		AgentID:   agentID,
		AgentType: agentType,
		OrgID:     orgID,
		UserID:    userID,
		Status:    ExecutionStatusPending,
		StartTime: now,
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate returns the first problem found, or nil.
func (e *ExecutionRecord) Validate() error {
	if e.ID == "" {
		return errors.New("models: execution ID is required")
	}
	if e.AgentID == "" {
		return errors.New("models: execution agent ID is required")
	}
	if e.AgentType == "" {
		return errors.New("models: execution agent type is required")
	}
	if e.OrgID == "" {
		return errors.New("models: execution org ID is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("models: invalid execution status %q", e.Status)
	}
	if e.StartTime.IsZero() {
		return errors.New("models: execution start time is required")
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		return errors.New("models: execution timestamps are required")
	}
	if e.TokensUsed < 0 {
		return fmt.Errorf("models: execution tokens_used must not be negative, got %d", e.TokensUsed)
	}
	if e.CostUSD < 0 {
		return fmt.Errorf("models: execution cost_usd must not be negative, got %g", e.CostUSD)
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return errors.New("models: execution ends before it starts")
	}
	return nil
}

// IsTerminal reports whether the record has been finished.
func (e *ExecutionRecord) IsTerminal() bool {
	return e.Status.IsTerminal()
}

// Start moves a pending record to running.
func (e *ExecutionRecord) Start() error {
	if e.Status != ExecutionStatusPending {
		return sserr.Newf(sserr.CodeConflictState, "models: cannot start execution in status %s", e.Status)
	}
	e.Status = ExecutionStatusRunning
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Outcome is what [ExecutionRecord.Finish] records.
type Outcome struct {
	Status       ExecutionStatus
	TokensUsed   int
	CostUSD      float64
	ToolCalls    []string
	ErrorType    string
	ErrorMessage string
}

// Finish records the outcome and end time. The status must be terminal
// and the record must not already be finished.
func (e *ExecutionRecord) Finish(o Outcome) error {
	if !o.Status.IsTerminal() {
		return sserr.Newf(sserr.CodeValidationFormat, "models: %s is not a terminal status", o.Status)
	}
	if e.IsTerminal() {
		return sserr.Newf(sserr.CodeConflictState, "models: execution %s already %s", e.ID, e.Status)
	}
	now := time.Now().UTC()
	e.Status = o.Status
	e.EndTime = &now
	e.TokensUsed = o.TokensUsed
	e.CostUSD = o.CostUSD
	e.ToolCalls = append([]string(nil), o.ToolCalls...)
	e.ErrorType = o.ErrorType
	e.ErrorMessage = o.ErrorMessage
	e.UpdatedAt = now
	return nil
}

// Duration returns EndTime minus StartTime, or the time elapsed so far
// for an unfinished record. A zero StartTime gives zero.
func (e *ExecutionRecord) Duration() time.Duration {
	if e.StartTime.IsZero() {
		return 0
	}
	if e.EndTime != nil {
		return e.EndTime.Sub(e.StartTime)
	}
	return time.Since(e.StartTime)
}
