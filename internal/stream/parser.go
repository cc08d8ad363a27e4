// Package stream turns raw backend output into typed stream updates.
//
// The input is the Claude CLI stream-json format: one JSON object per line
// with a "type" of system, assistant, user or result. Lines that are not JSON
// objects pass through as text.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// Record types of the stream-json format.
const (
	RecordSystem    = "system"
	RecordAssistant = "assistant"
	RecordUser      = "user"
	RecordResult    = "result"
)

// Record is the envelope shared by every stream-json line.
type Record struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Message   *MessageBody    `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	CostUSD   float64         `json:"total_cost_usd,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// MessageBody is the "message" member of assistant and user records.
type MessageBody struct {
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// ContentBlock is one block of a message.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Usage carries token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Parser converts chunks of one execution attempt into updates. It is not
// safe for concurrent use.
type Parser struct {
	buf       []byte
	sessionID string
	toolNames map[string]string
	text      strings.Builder
	completed bool
	failed    bool
}

// NewParser creates a parser for one execution attempt.
func NewParser() *Parser {
	return &Parser{toolNames: make(map[string]string)}
}

// Parse consumes a chunk and returns the updates for every complete line in
// it. A trailing partial line is kept for the next call. Once a terminal
// update has been produced further input is ignored.
func (p *Parser) Parse(chunk []byte) []types.StreamUpdate {
	if p.Done() {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var out []types.StreamUpdate
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]

		out = p.line(line, true, out)
		if p.failed {
			// The rest of the chunk is not trusted after a malformed record.
			p.buf = nil
			break
		}
		if p.completed {
			p.buf = nil
			break
		}
	}
	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Flush classifies a trailing partial line at end of stream.
func (p *Parser) Flush() []types.StreamUpdate {
	if p.Done() || len(p.buf) == 0 {
		p.buf = nil
		return nil
	}
	line := p.buf
	p.buf = nil
	return p.line(line, false, nil)
}

// SessionID returns the backend conversation id seen so far.
func (p *Parser) SessionID() string { return p.sessionID }

// Completed reports whether a successful result record was parsed.
func (p *Parser) Completed() bool { return p.completed }

// Failed reports whether the parser produced a terminal failure.
func (p *Parser) Failed() bool { return p.failed }

// Done reports whether a terminal update has been produced.
func (p *Parser) Done() bool { return p.completed || p.failed }

// Text returns the assistant text accumulated so far.
func (p *Parser) Text() string { return p.text.String() }

func (p *Parser) line(raw []byte, terminated bool, out []types.StreamUpdate) []types.StreamUpdate {
	line := bytes.TrimRight(raw, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return out
	}

	if bytes.TrimLeft(line, " \t")[0] != '{' {
		content := string(line)
		if terminated {
			content += "\n"
		}
		p.text.WriteString(content)
		return append(out, types.TextDelta{Content: content})
	}

	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return append(out, p.malformed("invalid JSON record: %v", err))
	}
	rec.Raw = json.RawMessage(line)

	switch rec.Type {
	case RecordSystem:
		if rec.SessionID != "" {
			p.sessionID = rec.SessionID
		}
		return out
	case RecordAssistant:
		return p.assistant(rec, out)
	case RecordUser:
		return p.user(rec, out)
	case RecordResult:
		return p.result(rec, out)
	default:
		content := string(line)
		if terminated {
			content += "\n"
		}
		return append(out, types.TextDelta{Content: content})
	}
}

func (p *Parser) assistant(rec Record, out []types.StreamUpdate) []types.StreamUpdate {
	if rec.Message == nil {
		return append(out, p.malformed("assistant record without message"))
	}
	p.noteSession(rec)

	for _, block := range rec.Message.Content {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			p.text.WriteString(block.Text)
			out = append(out, types.TextDelta{Content: block.Text})
		case "tool_use":
			if block.Name == "" {
				return append(out, p.malformed("tool_use block without name"))
			}
			if block.ID != "" {
				p.toolNames[block.ID] = block.Name
			}
			out = append(out, types.ToolInvocation{
				ID:        block.ID,
				ToolName:  block.Name,
				Arguments: block.Input,
			})
		}
	}
	return out
}

func (p *Parser) user(rec Record, out []types.StreamUpdate) []types.StreamUpdate {
	if rec.Message == nil {
		return append(out, p.malformed("user record without message"))
	}
	p.noteSession(rec)

	for _, block := range rec.Message.Content {
		if block.Type != "tool_result" {
			continue
		}
		outcome, err := resultText(block.Content)
		if err != nil {
			return append(out, p.malformed("tool_result content: %v", err))
		}
		out = append(out, types.ToolResult{
			ID:       block.ToolUseID,
			ToolName: p.toolNames[block.ToolUseID],
			Outcome:  outcome,
			IsError:  block.IsError,
		})
	}
	return out
}

func (p *Parser) result(rec Record, out []types.StreamUpdate) []types.StreamUpdate {
	p.noteSession(rec)

	if rec.IsError || (rec.Subtype != "" && rec.Subtype != "success") {
		p.failed = true
		detail := rec.Subtype
		if rec.Result != "" {
			detail = strings.TrimSpace(detail + " " + rec.Result)
		}
		return append(out, types.Failed{Reason: types.ReasonProcessError, Detail: detail})
	}
	if rec.CostUSD < 0 {
		return append(out, p.malformed("negative cost %v", rec.CostUSD))
	}

	p.completed = true
	if rec.CostUSD > 0 {
		out = append(out, types.CostUpdate{Delta: rec.CostUSD})
	}
	final := rec.Result
	if final == "" {
		final = p.text.String()
	}
	return append(out, types.Completed{
		FinalText: final,
		TotalCost: rec.CostUSD,
		SessionID: p.sessionID,
	})
}

func (p *Parser) noteSession(rec Record) {
	if rec.SessionID != "" {
		p.sessionID = rec.SessionID
	}
}

func (p *Parser) malformed(format string, args ...any) types.Failed {
	p.failed = true
	return types.Failed{Reason: types.ReasonMalformedOutput, Detail: fmt.Sprintf(format, args...)}
}

// resultText flattens tool_result content, which is either a string or a
// list of text blocks.
func resultText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}
