package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/backend"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/session"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/storage"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/stream"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// script drives a fakeBackend. emit delivers one stdout chunk.
type script func(ctx context.Context, req backend.Request, emit func(string)) backend.Exit

type fakeBackend struct {
	kind   types.BackendKind
	script script

	mu    sync.Mutex
	calls []backend.Request
}

func newFake(kind types.BackendKind, s script) *fakeBackend {
	return &fakeBackend{kind: kind, script: s}
}

func (f *fakeBackend) Kind() types.BackendKind { return f.kind }

func (f *fakeBackend) Execute(ctx context.Context, req backend.Request, sink func(backend.Chunk)) backend.Exit {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.script(ctx, req, func(s string) {
		sink(backend.Chunk{Source: backend.SourceStdout, Data: []byte(s)})
	})
}

func (f *fakeBackend) Calls() []backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backend.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// forgetful records the conversations it was told to drop.
type forgetful struct {
	*fakeBackend

	fmu       sync.Mutex
	forgotten []string
}

func (f *forgetful) Forget(backendSessionID string) {
	f.fmu.Lock()
	f.forgotten = append(f.forgotten, backendSessionID)
	f.fmu.Unlock()
}

func (f *forgetful) Forgotten() []string {
	f.fmu.Lock()
	defer f.fmu.Unlock()
	return append([]string(nil), f.forgotten...)
}

type tool struct {
	name string
	args map[string]any
}

// succeed replies with text after invoking tools.
func succeed(sessionID, text string, cost float64, tools ...tool) script {
	return func(ctx context.Context, req backend.Request, emit func(string)) backend.Exit {
		enc := stream.Encoder{SessionID: sessionID}
		emit(string(enc.System("test-model")))
		for i, t := range tools {
			emit(string(enc.ToolUse("toolu_"+string(rune('a'+i)), t.name, t.args)))
			if ctx.Err() != nil {
				return backend.Exit{Reason: types.ReasonCancelled, Err: ctx.Err()}
			}
		}
		emit(string(enc.Text(text)))
		emit(string(enc.Result(text, cost, nil)))
		return backend.Exit{}
	}
}

// malformed writes a broken record and exits cleanly.
func malformed(tools ...tool) script {
	return func(ctx context.Context, req backend.Request, emit func(string)) backend.Exit {
		enc := stream.Encoder{SessionID: "broken"}
		for _, t := range tools {
			emit(string(enc.ToolUse("toolu_x", t.name, t.args)))
		}
		emit("{\"type\":\"assistant\",\n")
		return backend.Exit{}
	}
}

func unavailable() script {
	return func(ctx context.Context, req backend.Request, emit func(string)) backend.Exit {
		return backend.Exit{Reason: types.ReasonBackendUnavailable, Detail: "connection refused"}
	}
}

func processError() script {
	return func(ctx context.Context, req backend.Request, emit func(string)) backend.Exit {
		return backend.Exit{Reason: types.ReasonProcessError, Detail: "exit status 1: boom"}
	}
}

// silent exits cleanly without a result record.
func silent() script {
	return func(ctx context.Context, req backend.Request, emit func(string)) backend.Exit {
		emit("just some text\n")
		return backend.Exit{}
	}
}

// hang invokes tools, signals started, then waits for the timeout or
// cancellation, the way a real backend does.
func hang(started chan<- struct{}, tools ...tool) script {
	return func(ctx context.Context, req backend.Request, emit func(string)) backend.Exit {
		enc := stream.Encoder{SessionID: "slow"}
		emit(string(enc.System("test-model")))
		for i, t := range tools {
			emit(string(enc.ToolUse("toolu_h"+string(rune('a'+i)), t.name, t.args)))
		}
		if started != nil {
			close(started)
		}
		timeout := req.Timeout
		if timeout <= 0 {
			timeout = time.Hour
		}
		select {
		case <-ctx.Done():
			return backend.Exit{Reason: types.ReasonCancelled, Err: ctx.Err()}
		case <-time.After(timeout):
			return backend.Exit{Reason: types.ReasonTimeout, Detail: "no result"}
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Count(t event.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// countingStore counts Puts and can be made to fail them.
type countingStore struct {
	storage.Store
	puts    atomic.Int32
	failPut atomic.Bool
}

func (s *countingStore) Put(ctx context.Context, sess *types.Session) error {
	s.puts.Add(1)
	if s.failPut.Load() {
		return errors.New("storage offline")
	}
	return s.Store.Put(ctx, sess)
}

type harness struct {
	engine      *Engine
	store       *countingStore
	events      *recorder
	transitions []State
	tmu         sync.Mutex
}

func (h *harness) States() []State {
	h.tmu.Lock()
	defer h.tmu.Unlock()
	out := make([]State, len(h.transitions))
	copy(out, h.transitions)
	return out
}

func newHarness(opts Options, sessOpts session.Options, backends ...backend.Backend) *harness {
	h := &harness{
		store:  &countingStore{Store: storage.NewMemoryStore()},
		events: &recorder{},
	}
	sessOpts.Publisher = h.events
	sessOpts.Retry = func() backoff.BackOff { return &backoff.StopBackOff{} }
	if sessOpts.TTL == 0 {
		sessOpts.TTL = 30 * time.Minute
	}
	opts.Publisher = h.events
	opts.OnTransition = func(_ string, from, to State) {
		h.tmu.Lock()
		if from == StateIdle {
			h.transitions = append(h.transitions, from)
		}
		h.transitions = append(h.transitions, to)
		h.tmu.Unlock()
	}
	e, err := New(session.NewManager(h.store, sessOpts), opts, backends...)
	if err != nil {
		panic(err)
	}
	h.engine = e
	return h
}

type updates struct {
	mu   sync.Mutex
	list []types.StreamUpdate
}

func (u *updates) add(up types.StreamUpdate) {
	u.mu.Lock()
	u.list = append(u.list, up)
	u.mu.Unlock()
}

func (u *updates) All() []types.StreamUpdate {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]types.StreamUpdate, len(u.list))
	copy(out, u.list)
	return out
}

func (u *updates) Last() types.StreamUpdate {
	all := u.All()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func request(sessionID string) types.ExecutionRequest {
	return types.ExecutionRequest{
		Prompt:           "fix the tests",
		WorkingDirectory: "/srv/repo",
		UserID:           "user-1",
		SessionID:        sessionID,
	}
}
