package stream

import (
	"encoding/json"
)

// Encoder renders stream-json lines. Backends that do not speak stream-json
// natively use it so that a single Parser serves every backend.
type Encoder struct {
	SessionID string
}

func (e Encoder) line(rec any) []byte {
	data, err := json.Marshal(rec)
	if err != nil {
		// Records are built from plain values; a failure here is a bug.
		panic(err)
	}
	return append(data, '\n')
}

// System renders the init record carrying the session id.
func (e Encoder) System(model string) []byte {
	return e.line(map[string]any{
		"type":       RecordSystem,
		"subtype":    "init",
		"session_id": e.SessionID,
		"model":      model,
	})
}

// Text renders an assistant text block.
func (e Encoder) Text(text string) []byte {
	return e.line(Record{
		Type:      RecordAssistant,
		SessionID: e.SessionID,
		Message: &MessageBody{
			Role:    "assistant",
			Content: []ContentBlock{{Type: "text", Text: text}},
		},
	})
}

// ToolUse renders an assistant tool_use block.
func (e Encoder) ToolUse(id, name string, input map[string]any) []byte {
	return e.line(Record{
		Type:      RecordAssistant,
		SessionID: e.SessionID,
		Message: &MessageBody{
			Role:    "assistant",
			Content: []ContentBlock{{Type: "tool_use", ID: id, Name: name, Input: input}},
		},
	})
}

// Result renders a successful result record.
func (e Encoder) Result(text string, costUSD float64, usage *Usage) []byte {
	return e.line(Record{
		Type:      RecordResult,
		Subtype:   "success",
		SessionID: e.SessionID,
		Result:    text,
		CostUSD:   costUSD,
		Usage:     usage,
	})
}

// Error renders a failed result record.
func (e Encoder) Error(subtype, message string) []byte {
	return e.line(Record{
		Type:      RecordResult,
		Subtype:   subtype,
		SessionID: e.SessionID,
		Result:    message,
		IsError:   true,
	})
}
