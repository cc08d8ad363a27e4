package types

// UpdateKind identifies the variant of a StreamUpdate.
type UpdateKind string

const (
	UpdateTextDelta      UpdateKind = "text_delta"
	UpdateToolInvocation UpdateKind = "tool_invocation"
	UpdateToolResult     UpdateKind = "tool_result"
	UpdateCost           UpdateKind = "cost_update"
	UpdateCompleted      UpdateKind = "completed"
	UpdateFailed         UpdateKind = "failed"
)

// StreamUpdate is one typed unit of incremental backend output.
// The set of variants is closed; see the types below.
type StreamUpdate interface {
	Kind() UpdateKind
}

// TextDelta carries assistant text.
type TextDelta struct {
	Content string `json:"content"`
}

func (TextDelta) Kind() UpdateKind { return UpdateTextDelta }

// ToolInvocation is a request by the assistant to run a tool.
type ToolInvocation struct {
	ID        string         `json:"id,omitempty"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (ToolInvocation) Kind() UpdateKind { return UpdateToolInvocation }

// ToolResult is the outcome of a tool run reported by the backend.
type ToolResult struct {
	ID       string `json:"id,omitempty"`
	ToolName string `json:"toolName"`
	Outcome  string `json:"outcome"`
	IsError  bool   `json:"isError,omitempty"`
}

func (ToolResult) Kind() UpdateKind { return UpdateToolResult }

// CostUpdate reports incremental cost in USD.
type CostUpdate struct {
	Delta float64 `json:"delta"`
}

func (CostUpdate) Kind() UpdateKind { return UpdateCost }

// Completed is the terminal success update.
type Completed struct {
	FinalText string  `json:"finalText"`
	TotalCost float64 `json:"totalCost"`
	SessionID string  `json:"sessionID,omitempty"`
}

func (Completed) Kind() UpdateKind { return UpdateCompleted }

// Failed is the terminal failure update.
type Failed struct {
	Reason FailureReason `json:"reason"`
	Detail string        `json:"detail,omitempty"`
}

func (Failed) Kind() UpdateKind { return UpdateFailed }

// UpdateEnvelope is the JSON shape of a StreamUpdate on the wire.
type UpdateEnvelope struct {
	Type UpdateKind   `json:"type"`
	Data StreamUpdate `json:"data"`
}

// Envelope wraps u for serialization.
func Envelope(u StreamUpdate) UpdateEnvelope {
	return UpdateEnvelope{Type: u.Kind(), Data: u}
}

// IsTerminal reports whether u ends an execution.
func IsTerminal(u StreamUpdate) bool {
	switch u.(type) {
	case Completed, *Completed, Failed, *Failed:
		return true
	}
	return false
}
