// Package agent runs analytics agents: it drives one execution of an
// agent through its status state machine, accumulates evidence and
// reasoning on an [ExecutionContext], brokers tool and language model
// calls, and always hands back a [Result].
//
// # Composition
//
// Domain behavior is supplied by a [Strategy]. A [Runtime] is generic over
// the strategy: it owns the tool registry, the optional language model
// client and the observability hooks, and applies the same execution
// contract to every agent type.
//
// # Execution contract
//
// [Runtime.Execute] never panics and never returns an error. Invalid input,
// tool failures, permission denials, sandbox violations and panics inside
// strategy code all become a failed Result whose ErrorType names the
// failure ("ValidationError", "ToolError:<tool>", "PermissionError",
// "SandboxViolation", "PanicError", ...).
//
// # Concurrency
//
// All per-execution state (the ExecutionContext and the current status)
// lives in a value created by Execute and threaded through the call, so a
// single Runtime may serve concurrent executions. Runtime-level totals are
// guarded by a mutex.
package agent

// Status is the position of one execution in the agent state machine.
type Status string

const (
	// StatusIdle is the status of an execution that has not started.
	StatusIdle Status = "idle"

	// StatusInitializing covers input validation and the pre-execution hook.
	StatusInitializing Status = "initializing"

	// StatusRunning is set while strategy logic runs between tool calls.
	StatusRunning Status = "running"

	// StatusExecutingTool is held for the duration of one tool call.
	StatusExecutingTool Status = "executing_tool"

	// StatusPaused marks an execution a strategy has suspended itself.
	StatusPaused Status = "paused"

	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"

	// StatusCancelled is entered when the caller's context ends before
	// the run finishes. Cancellation is observed between steps only.
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions is the execution state machine:
//
//	idle           → initializing, failed, cancelled
//	initializing   → running, failed, cancelled
//	running        → executing_tool, paused, completed, failed, cancelled
//	executing_tool → running, failed
//	paused         → running, failed, cancelled
//	completed, failed, cancelled: terminal
var validTransitions = map[Status][]Status{
	StatusIdle:          {StatusInitializing, StatusFailed, StatusCancelled},
	StatusInitializing:  {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:       {StatusExecutingTool, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusExecutingTool: {StatusRunning, StatusFailed},
	StatusPaused:        {StatusRunning, StatusFailed, StatusCancelled},
	StatusCompleted:     nil,
	StatusFailed:        nil,
	StatusCancelled:     nil,
}

// ValidTransition reports whether from may move to to. Self transitions
// are rejected.
func ValidTransition(from, to Status) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
