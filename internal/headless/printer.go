package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// Printer renders stream updates and audit events for headless mode.
type Printer struct {
	mu          sync.Mutex
	writer      io.Writer
	format      OutputFormat
	quiet       bool
	verbose     bool
	unsubscribe func()
	startTime   time.Time
	result      *Result
	toolCalls   []ToolCall
}

// NewPrinter creates a new printer.
func NewPrinter(writer io.Writer, format OutputFormat, quiet, verbose bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		quiet:     quiet,
		verbose:   verbose,
		startTime: time.Now(),
		result: &Result{
			Status:   "running",
			ExitCode: ExitSuccess,
		},
		toolCalls: make([]ToolCall, 0),
	}
}

// Subscribe starts listening to audit events on bus.
func (p *Printer) Subscribe(bus *event.Bus) {
	if bus == nil {
		return
	}
	p.unsubscribe = bus.SubscribeAll(p.handleEvent)
}

// Unsubscribe stops listening to events.
func (p *Printer) Unsubscribe() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// OnUpdate is the engine's update callback.
func (p *Printer) OnUpdate(u types.StreamUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.track(u)
	switch p.format {
	case OutputText:
		p.textUpdate(u)
	case OutputJSONL:
		p.line(string(u.Kind()), u)
	}
}

// Finish records the terminal result.
func (p *Printer) Finish(res *types.BackendResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.SessionID = res.SessionID
	p.result.Status = string(res.Status)
	p.result.Backend = res.Backend
	p.result.FellBack = res.FellBack
	p.result.Cost = res.Cost
	p.result.Denied = res.Denied
	p.result.Reason = res.Reason
	p.result.ExitCode = ExitCodeFor(res.Reason)
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
	if res.OK() {
		p.result.FinalMessage = res.Text
	} else {
		p.result.Error = res.Message()
		if res.Detail != "" {
			p.result.Error += " (" + res.Detail + ")"
		}
	}

	// Denied names come in invocation order.
	pending := append([]string(nil), res.Denied...)
	for i := range p.toolCalls {
		if len(pending) > 0 && p.toolCalls[i].Tool == pending[0] {
			p.toolCalls[i].Allowed = false
			p.toolCalls[i].Reason = "refused by policy"
			pending = pending[1:]
		}
	}
}

// SetError records a failure that happened before the engine ran.
func (p *Printer) SetError(code ExitCode, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result.Status = string(types.StatusFailed)
	p.result.ExitCode = code
	p.result.Error = err.Error()
	p.result.DurationMS = time.Since(p.startTime).Milliseconds()
}

// Warn reports a non-fatal problem with the run's input. Only the text
// format shows it, and never when quiet.
func (p *Printer) Warn(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == OutputText && !p.quiet {
		fmt.Fprintf(p.writer, "[warn] %s\n", msg)
	}
}

// GetResult returns the current result.
func (p *Printer) GetResult() *Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := *p.result
	res.ToolCalls = append([]ToolCall(nil), p.toolCalls...)
	return &res
}

// PrintFinalResult prints the final result for the json and jsonl formats.
func (p *Printer) PrintFinalResult() {
	result := p.GetResult()

	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.format {
	case OutputJSON:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return
		}
		fmt.Fprintln(p.writer, string(data))
	case OutputJSONL:
		p.line("result", result)
	}
}

func (p *Printer) track(u types.StreamUpdate) {
	if inv, ok := u.(types.ToolInvocation); ok {
		p.toolCalls = append(p.toolCalls, ToolCall{Tool: inv.ToolName, Input: inv.Arguments, Allowed: true})
	}
}

// textUpdate outputs an update in human-readable text format.
func (p *Printer) textUpdate(u types.StreamUpdate) {
	switch v := u.(type) {
	case types.TextDelta:
		fmt.Fprint(p.writer, v.Content)
	case types.ToolInvocation:
		if p.quiet {
			return
		}
		info := formatToolInfo(v)
		if info == "" {
			info = "Running"
		}
		fmt.Fprintf(p.writer, "\n[tool:%s] %s\n", v.ToolName, info)
	case types.ToolResult:
		if p.quiet {
			return
		}
		if v.IsError {
			fmt.Fprintf(p.writer, "[tool:%s] Error: %s\n", v.ToolName, truncateOutput(v.Outcome, 200))
		} else if p.verbose {
			fmt.Fprintf(p.writer, "[tool:%s] Done\n", v.ToolName)
		}
	case types.CostUpdate:
		if p.verbose && !p.quiet {
			fmt.Fprintf(p.writer, "[cost] +$%.4f\n", v.Delta)
		}
	case types.Completed:
		if p.quiet {
			fmt.Fprintln(p.writer)
			return
		}
		fmt.Fprintf(p.writer, "\n[done] Completed in %s ($%.4f)\n", formatDuration(time.Since(p.startTime)), v.TotalCost)
	case types.Failed:
		fmt.Fprintf(p.writer, "\n[error] %s\n", v.Reason.UserMessage(""))
		if v.Detail != "" && !p.quiet {
			fmt.Fprintf(p.writer, "[error] %s\n", v.Detail)
		}
	}
}

// handleEvent prints audit events when verbose.
func (p *Printer) handleEvent(e event.Event) {
	if !p.verbose {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case OutputJSONL:
		p.line(string(e.Type), e.Data)
	case OutputText:
		if p.quiet {
			return
		}
		switch data := e.Data.(type) {
		case event.ToolDecidedData:
			if !data.Allowed {
				fmt.Fprintf(p.writer, "[policy] %s refused: %s\n", data.ToolName, data.Reason)
			}
		case event.FallbackData:
			fmt.Fprintf(p.writer, "[fallback] %s -> %s (%s)\n", data.From, data.To, data.Reason)
		case event.ToolLoopData:
			fmt.Fprintf(p.writer, "[warn] %s repeated %d times\n", data.ToolName, data.Repeats)
		case event.BackendDemotedData:
			fmt.Fprintf(p.writer, "[warn] %s backend demoted after %d failures\n", data.Backend, data.Failures)
		}
	}
}

// line writes one JSONL event. Callers hold p.mu.
func (p *Printer) line(eventType string, data any) {
	out, err := json.Marshal(NewEvent(eventType, data))
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(out))
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// formatToolInfo describes the CLI's built-in tools briefly.
func formatToolInfo(inv types.ToolInvocation) string {
	input := inv.Arguments
	if input == nil {
		return ""
	}
	str := func(key string) string {
		s, _ := input[key].(string)
		return s
	}

	switch inv.ToolName {
	case "Read":
		if path := str("file_path"); path != "" {
			return "Reading " + path
		}
	case "Write":
		if path := str("file_path"); path != "" {
			return "Writing " + path
		}
	case "Edit", "MultiEdit":
		if path := str("file_path"); path != "" {
			return "Editing " + path
		}
	case "Bash":
		if cmd := str("command"); cmd != "" {
			cmd = strings.Split(cmd, "\n")[0]
			return "$ " + truncateOutput(cmd, 60)
		}
	case "Glob":
		if pattern := str("pattern"); pattern != "" {
			return "Searching: " + pattern
		}
	case "Grep":
		if pattern := str("pattern"); pattern != "" {
			return "Grepping: " + pattern
		}
	case "WebFetch":
		if url := str("url"); url != "" {
			return "Fetching: " + url
		}
	}
	return ""
}
