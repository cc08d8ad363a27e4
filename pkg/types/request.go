package types

import "time"

// BackendKind names one of the two execution backends.
type BackendKind string

const (
	BackendProcess BackendKind = "process"
	BackendSDK     BackendKind = "sdk"
)

// Alternate returns the other backend kind.
func (k BackendKind) Alternate() BackendKind {
	if k == BackendSDK {
		return BackendProcess
	}
	return BackendSDK
}

// Valid reports whether k is a known backend.
func (k BackendKind) Valid() bool {
	return k == BackendProcess || k == BackendSDK
}

// PolicyAction is the action a tool policy rule resolves to.
type PolicyAction string

const (
	ActionAllow PolicyAction = "allow"
	ActionDeny  PolicyAction = "deny"
)

// ToolPolicy governs which tools a backend may invoke. Lists hold exact tool
// names or doublestar patterns such as "mcp__github__*".
type ToolPolicy struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`

	// Commands is an optional sub-policy for the shell tool, keyed by command
	// patterns such as "git *" or "rm *".
	Commands map[string]PolicyAction `json:"commands,omitempty"`
}

// Decision is the outcome of evaluating a tool invocation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Allow returns an allowing decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny returns a denying decision with reason.
func Deny(reason string) Decision { return Decision{Reason: reason} }

// BackendHealth tracks consecutive failures per backend. It is a value: the
// engine returns an updated copy with every result and the caller hands it to
// the next request.
type BackendHealth struct {
	Failures map[BackendKind]int `json:"failures,omitempty"`
}

// ConsecutiveFailures returns the failure streak for kind.
func (h BackendHealth) ConsecutiveFailures(kind BackendKind) int {
	return h.Failures[kind]
}

// Record returns a copy of h updated with the outcome of a call on kind.
func (h BackendHealth) Record(kind BackendKind, ok bool) BackendHealth {
	next := BackendHealth{Failures: make(map[BackendKind]int, len(h.Failures)+1)}
	for k, v := range h.Failures {
		next.Failures[k] = v
	}
	if ok {
		delete(next.Failures, kind)
	} else {
		next.Failures[kind]++
	}
	return next
}

// ExecutionRequest describes one prompt execution.
type ExecutionRequest struct {
	Prompt           string        `json:"prompt"`
	WorkingDirectory string        `json:"workingDirectory"`
	UserID           string        `json:"userID"`
	SessionID        string        `json:"sessionID,omitempty"`
	Policy           *ToolPolicy   `json:"policy,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	Model            string        `json:"model,omitempty"`
	Health           BackendHealth `json:"health,omitempty"`
}

// ResultStatus is the terminal status of an execution.
type ResultStatus string

const (
	StatusCompleted ResultStatus = "completed"
	StatusFailed    ResultStatus = "failed"
)

// BackendResult is the terminal outcome of an execution.
type BackendResult struct {
	Status    ResultStatus  `json:"status"`
	Text      string        `json:"text,omitempty"`
	SessionID string        `json:"sessionID,omitempty"`
	Cost      float64       `json:"cost"`
	Reason    FailureReason `json:"reason,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Tool      string        `json:"tool,omitempty"`
	Backend   BackendKind   `json:"backend,omitempty"`
	FellBack  bool          `json:"fellBack,omitempty"`
	Denied    []string      `json:"denied,omitempty"`
	Health    BackendHealth `json:"health"`
}

// OK reports whether the execution completed.
func (r *BackendResult) OK() bool { return r.Status == StatusCompleted }

// Message returns the user-facing text for the result.
func (r *BackendResult) Message() string {
	if r.OK() {
		return r.Text
	}
	return r.Reason.UserMessage(r.Tool)
}
