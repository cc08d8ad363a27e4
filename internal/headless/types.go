package headless

import (
	"time"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is streaming JSONL events.
	OutputJSONL OutputFormat = "jsonl"
)

// Valid reports whether f is a known format.
func (f OutputFormat) Valid() bool {
	return f == OutputText || f == OutputJSON || f == OutputJSONL
}

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	ExitSuccess ExitCode = 0
	// ExitError covers process errors, malformed output and commit failures.
	ExitError ExitCode = 1
	ExitTimeout ExitCode = 2
	// ExitPolicyViolation indicates a tool was refused by the policy.
	ExitPolicyViolation ExitCode = 3
	// ExitBackendUnavailable indicates no backend could be reached.
	ExitBackendUnavailable ExitCode = 4
	// ExitInvalidInput indicates bad prompt or missing required flags.
	ExitInvalidInput ExitCode = 5
	// ExitSessionBusy indicates the session already had an execution.
	ExitSessionBusy ExitCode = 6
	ExitCancelled   ExitCode = 130
)

// ExitCodeFor maps a failure reason onto the process exit code.
func ExitCodeFor(reason types.FailureReason) ExitCode {
	switch reason {
	case "":
		return ExitSuccess
	case types.ReasonTimeout:
		return ExitTimeout
	case types.ReasonPolicyViolation:
		return ExitPolicyViolation
	case types.ReasonBackendUnavailable:
		return ExitBackendUnavailable
	case types.ReasonSessionBusy:
		return ExitSessionBusy
	case types.ReasonCancelled:
		return ExitCancelled
	default:
		return ExitError
	}
}

// Config holds configuration for headless mode execution.
type Config struct {
	// Prompt is the instruction to execute.
	Prompt string
	// WorkDir is the working directory.
	WorkDir string
	// UserID owns the session. Defaults to the OS user.
	UserID string
	// OutputFormat specifies the output format (text, json, jsonl).
	OutputFormat OutputFormat
	// Timeout bounds each backend attempt. Zero uses the engine default.
	Timeout time.Duration
	// ReadStdin indicates whether to read prompt from stdin.
	ReadStdin bool
	// SessionID is an existing session ID to continue.
	SessionID string
	// Model overrides the backend's model.
	Model string
	// Allow and Deny replace the configured tool policy when either is set.
	Allow []string
	Deny  []string
	// Quiet suppresses progress output, only shows result.
	Quiet bool
	// Verbose also prints audit events.
	Verbose bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: OutputText,
	}
}

// ToolCall is one tool decision in the result.
type ToolCall struct {
	Tool    string `json:"tool"`
	Input   any    `json:"input,omitempty"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Result holds the final result of a headless execution.
type Result struct {
	SessionID    string              `json:"session_id"`
	Status       string              `json:"status"` // "running", "completed", "failed"
	Backend      types.BackendKind   `json:"backend,omitempty"`
	FellBack     bool                `json:"fell_back,omitempty"`
	DurationMS   int64               `json:"duration_ms"`
	Cost         float64             `json:"cost"`
	ToolCalls    []ToolCall          `json:"tool_calls,omitempty"`
	Denied       []string            `json:"denied,omitempty"`
	FinalMessage string              `json:"final_message,omitempty"`
	Reason       types.FailureReason `json:"reason,omitempty"`
	Error        string              `json:"error,omitempty"`
	ExitCode     ExitCode            `json:"exit_code"`
}

// Event represents a JSONL event for streaming output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType string, data any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
