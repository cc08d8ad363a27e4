package event

import "github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"

// SessionData is the data for session.created and session.ended events.
type SessionData struct {
	SessionID string `json:"sessionID"`
	UserID    string `json:"userID"`
}

// SessionExpiredData is the data for session.expired events.
type SessionExpiredData struct {
	SessionID string               `json:"sessionID"`
	UserID    string               `json:"userID"`
	Summary   types.SessionSummary `json:"summary"`
}

// ExecutionData is the data for execution.* events.
type ExecutionData struct {
	ExecutionID string              `json:"executionID"`
	SessionID   string              `json:"sessionID"`
	Backend     types.BackendKind   `json:"backend"`
	Status      types.ResultStatus  `json:"status,omitempty"`
	Reason      types.FailureReason `json:"reason,omitempty"`
	Cost        float64             `json:"cost,omitempty"`
}

// FallbackData is the data for execution.fallback events.
type FallbackData struct {
	ExecutionID string              `json:"executionID"`
	SessionID   string              `json:"sessionID"`
	From        types.BackendKind   `json:"from"`
	To          types.BackendKind   `json:"to"`
	Reason      types.FailureReason `json:"reason"`
}

// ToolDecidedData is the data for tool.decided events.
type ToolDecidedData struct {
	ExecutionID string `json:"executionID"`
	SessionID   string `json:"sessionID"`
	ToolName    string `json:"toolName"`
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason,omitempty"`
}

// ToolLoopData is the data for tool.loop_detected events.
type ToolLoopData struct {
	ExecutionID string `json:"executionID"`
	SessionID   string `json:"sessionID"`
	ToolName    string `json:"toolName"`
	Repeats     int    `json:"repeats"`
}

// BackendDemotedData is the data for backend.demoted events.
type BackendDemotedData struct {
	Backend  types.BackendKind `json:"backend"`
	Failures int               `json:"failures"`
}

// ConfigReloadedData is the data for config.reloaded events.
type ConfigReloadedData struct {
	Path string `json:"path"`
}
