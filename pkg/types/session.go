// Package types provides the core data types shared by the execution engine.
package types

import "time"

// Session is the durable per-user execution context.
type Session struct {
	ID               string `json:"id"`
	UserID           string `json:"userID"`
	WorkingDirectory string `json:"workingDirectory"`

	// BackendSessionID is the conversation id assigned by the backend, used to
	// resume the conversation on the next execution.
	BackendSessionID string      `json:"backendSessionID,omitempty"`
	Backend          BackendKind `json:"backend,omitempty"`

	ToolUsageLog    []ToolUsageEntry `json:"toolUsageLog"`
	AccumulatedCost float64          `json:"accumulatedCost"`
	ExecutionCount  int              `json:"executionCount"`

	// PolicyHold is set when a tool was refused in finish-turn mode; the next
	// execution on the session is refused with this reason.
	PolicyHold string `json:"policyHold,omitempty"`

	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// ToolUsageEntry records one tool policy decision.
type ToolUsageEntry struct {
	ToolName    string    `json:"toolName"`
	Timestamp   time.Time `json:"timestamp"`
	Accepted    bool      `json:"accepted"`
	Reason      string    `json:"reason,omitempty"`
	ExecutionID string    `json:"executionID,omitempty"`
}

// SessionSummary is the read-only projection used for status display.
type SessionSummary struct {
	SessionID      string    `json:"sessionID"`
	Cost           float64   `json:"cost"`
	ToolCount      int       `json:"toolCount"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ToolUsageLog != nil {
		c.ToolUsageLog = make([]ToolUsageEntry, len(s.ToolUsageLog))
		copy(c.ToolUsageLog, s.ToolUsageLog)
	}
	return &c
}

// Summary projects the session into a SessionSummary.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		SessionID:      s.ID,
		Cost:           s.AccumulatedCost,
		ToolCount:      len(s.ToolUsageLog),
		LastActivityAt: s.LastActivityAt,
	}
}

// Expired reports whether the session has been idle longer than ttl at now.
// A non-positive ttl never expires.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActivityAt) > ttl
}
