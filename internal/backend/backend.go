// Package backend drives the code-assistant engine. Two implementations
// exist: ProcessBackend runs the claude CLI as a subprocess and SDKBackend
// calls a chat model through Eino. Both emit stream-json lines.
package backend

import (
	"context"
	"strings"
	"time"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// Source tags where a chunk was read from.
type Source int

const (
	SourceStdout Source = iota
	SourceStderr
)

func (s Source) String() string {
	if s == SourceStderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is a piece of raw backend output.
type Chunk struct {
	Source Source
	Data   []byte
}

// Request is what a backend needs to run one attempt.
type Request struct {
	Prompt   string
	WorkDir  string
	Model    string
	ResumeID string
	Policy   types.ToolPolicy
	Timeout  time.Duration
}

// Exit is the outcome of an attempt as seen by the backend. A zero Reason
// means the backend finished cleanly; whether the output was well formed is
// for the caller to judge.
type Exit struct {
	Reason types.FailureReason
	Detail string
	Err    error
}

// OK reports a clean exit.
func (e Exit) OK() bool { return e.Reason == "" }

// Failure converts a non-clean exit into a classified failure.
func (e Exit) Failure() *types.Failure {
	if e.OK() {
		return nil
	}
	return &types.Failure{Reason: e.Reason, Detail: e.Detail, Err: e.Err}
}

// Backend runs prompts. Execute calls sink sequentially from one goroutine
// and returns only after all output was delivered and all resources were
// released.
type Backend interface {
	Kind() types.BackendKind
	Execute(ctx context.Context, req Request, sink func(Chunk)) Exit
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *tailBuffer) String() string {
	return strings.TrimSpace(strings.ToValidUTF8(string(t.buf), ""))
}
