// Package engine runs prompts against the configured backends. It selects a
// backend, streams its output through the parser and the tool monitor,
// falls back to the alternate backend at most once and commits the outcome
// to the session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/backend"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/logging"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/metrics"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/permission"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/session"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

const (
	// DefaultTimeout is the wall-clock budget of one attempt.
	DefaultTimeout = 5 * time.Minute

	commitTimeout = 30 * time.Second
)

// ErrNotRunning is returned by Abort when the session has no execution.
var ErrNotRunning = errors.New("session has no execution in flight")

// Publisher receives audit events. *event.Bus satisfies it.
type Publisher interface {
	Publish(event.Event)
}

// UpdateFunc receives stream updates in emission order.
type UpdateFunc func(types.StreamUpdate)

// Options configures an Engine.
type Options struct {
	Primary            types.BackendKind
	Fallback           bool
	UnhealthyThreshold int

	Policy             types.ToolPolicy
	DenialMode         types.DenialMode
	KeepCancelledTools bool
	LoopThreshold      int

	Timeout time.Duration

	Publisher Publisher
	Metrics   *metrics.Metrics
	Now       func() time.Time

	// OnTransition observes every state change.
	OnTransition func(executionID string, from, to State)
}

// OptionsFromConfig maps the configuration onto engine options.
func OptionsFromConfig(cfg *types.Config) Options {
	return Options{
		Primary:            cfg.Backend.Primary,
		Fallback:           cfg.Backend.FallbackEnabled(),
		UnhealthyThreshold: cfg.Backend.UnhealthyThreshold,
		Policy:             cfg.Policy.Tools,
		DenialMode:         cfg.Policy.DenialMode,
		KeepCancelledTools: cfg.Policy.KeepCancelledTools(),
		LoopThreshold:      cfg.Policy.LoopThreshold,
		Timeout:            cfg.Execution.Timeout.Std(),
	}
}

// Engine is the execution facade.
type Engine struct {
	sessions *session.Manager
	backends map[types.BackendKind]backend.Backend
	opts     Options
	policy   atomic.Pointer[types.ToolPolicy]

	mu      sync.Mutex
	running map[string][]*run // by session id
}

type run struct {
	executionID string
	sessionID   string
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates an engine. At least one backend is required; the primary
// falls back to whichever backend is present.
func New(sessions *session.Manager, opts Options, backends ...backend.Backend) (*Engine, error) {
	if len(backends) == 0 {
		return nil, errors.New("engine: no backend configured")
	}
	e := &Engine{
		sessions: sessions,
		backends: make(map[types.BackendKind]backend.Backend, len(backends)),
		running:  make(map[string][]*run),
	}
	for _, b := range backends {
		e.backends[b.Kind()] = b
	}
	if _, ok := e.backends[opts.Primary]; !ok {
		opts.Primary = backends[0].Kind()
	}
	if opts.DenialMode == "" {
		opts.DenialMode = types.DenialTerminate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e.opts = opts
	e.SetPolicy(opts.Policy)
	return e, nil
}

// SetPolicy replaces the default tool policy for subsequent executions.
func (e *Engine) SetPolicy(p types.ToolPolicy) {
	e.policy.Store(&p)
}

// Policy returns the current default tool policy.
func (e *Engine) Policy() types.ToolPolicy { return *e.policy.Load() }

// Sessions exposes the session manager.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Execute runs req and returns its terminal result. Updates are delivered to
// onUpdate in order from the calling goroutine; the last one is always the
// terminal Completed or Failed update.
func (e *Engine) Execute(ctx context.Context, req types.ExecutionRequest, onUpdate UpdateFunc) *types.BackendResult {
	if onUpdate == nil {
		onUpdate = func(types.StreamUpdate) {}
	}
	executionID := uuid.NewString()
	logger := logging.Execution("engine", executionID, req.SessionID)
	m := newMachine(executionID, logger, e.opts.OnTransition)
	started := e.opts.Now()
	health := req.Health

	finish := func(res *types.BackendResult) *types.BackendResult {
		res.Health = health
		if res.OK() {
			m.to(StateCompleted)
			onUpdate(types.Completed{FinalText: res.Text, TotalCost: res.Cost, SessionID: res.SessionID})
			e.publish(event.ExecutionCompleted, event.ExecutionData{
				ExecutionID: executionID, SessionID: res.SessionID, Backend: res.Backend,
				Status: res.Status, Cost: res.Cost,
			})
		} else {
			m.to(StateFailed)
			onUpdate(types.Failed{Reason: res.Reason, Detail: res.Detail})
			e.publish(event.ExecutionFailed, event.ExecutionData{
				ExecutionID: executionID, SessionID: res.SessionID, Backend: res.Backend,
				Status: res.Status, Reason: res.Reason,
			})
		}
		e.opts.Metrics.ExecutionFinished(string(res.Backend), string(res.Status), string(res.Reason), e.opts.Now().Sub(started))
		logger.Info().
			Str("status", string(res.Status)).
			Str("reason", string(res.Reason)).
			Str("backend", string(res.Backend)).
			Float64("cost", res.Cost).
			Bool("fellBack", res.FellBack).
			Msg("execution finished")
		return res
	}
	e.opts.Metrics.ExecutionStarted()

	// A known session is registered before waiting for its lease so an
	// Abort issued while queued still cancels this execution.
	runCtx, r := e.track(ctx, executionID)
	defer e.untrack(r)
	if req.SessionID != "" {
		e.register(req.SessionID, r)
	}

	lease, err := e.sessions.Acquire(runCtx, req.UserID, req.SessionID, req.WorkingDirectory)
	if err != nil {
		f := types.AsFailure(err)
		logger.Warn().Err(err).Msg("could not acquire session")
		return finish(failed(f, req.SessionID, ""))
	}
	defer lease.Release()
	sessionID := lease.ID()
	logger = logger.With().Str("session", sessionID).Logger()
	m.logger = logger

	e.register(sessionID, r)
	if err := runCtx.Err(); err != nil {
		logger.Info().Msg("execution aborted before start")
		return finish(failed(types.AsFailure(err), sessionID, ""))
	}

	sess := lease.Session()
	if sess.PolicyHold != "" {
		// The previous turn used a refused tool; refuse this one and clear the hold.
		f := &types.Failure{Reason: types.ReasonPolicyViolation, Tool: sess.PolicyHold, Detail: "previous turn used a refused tool"}
		if err := e.commit(ctx, lease, session.Commit{ClearHold: true}); err != nil {
			f = types.Failuref(types.ReasonStorageCommitFailure, err, "clearing policy hold")
		}
		return finish(failed(f, sessionID, ""))
	}

	policy := e.Policy()
	if req.Policy != nil {
		policy = *req.Policy
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}

	kind := e.selectPrimary(health)
	e.publish(event.ExecutionStarted, event.ExecutionData{ExecutionID: executionID, SessionID: sessionID, Backend: kind})

	monitor := permission.NewMonitor(policy, permission.MonitorOptions{
		ExecutionID:   executionID,
		SessionID:     sessionID,
		LoopThreshold: e.opts.LoopThreshold,
		Publisher:     e.opts.Publisher,
		Now:           e.opts.Now,
	})

	var (
		out      attemptResult
		fellBack bool
	)
	m.to(StateBackendSelected)
	for {
		resume := ""
		if sess.Backend == kind {
			resume = sess.BackendSessionID
		}
		m.to(StateStreaming)
		out = e.attempt(runCtx, e.backends[kind], backend.Request{
			Prompt:   req.Prompt,
			WorkDir:  req.WorkingDirectory,
			Model:    req.Model,
			ResumeID: resume,
			Policy:   policy,
			Timeout:  timeout,
		}, monitor, onUpdate, logger.With().Str("backend", string(kind)).Logger())

		if out.failure != nil && out.failure.Reason != types.ReasonCancelled && out.failure.Reason != types.ReasonPolicyViolation {
			health = health.Record(kind, false)
		} else if out.failure == nil {
			health = health.Record(kind, true)
		}

		if !e.shouldFallBack(out, monitor, fellBack, kind) {
			break
		}
		alt := kind.Alternate()
		logger.Warn().
			Str("from", string(kind)).
			Str("to", string(alt)).
			Str("reason", string(out.failure.Reason)).
			Msg("falling back to alternate backend")
		e.publish(event.ExecutionFallback, event.FallbackData{
			ExecutionID: executionID, SessionID: sessionID,
			From: kind, To: alt, Reason: out.failure.Reason,
		})
		e.opts.Metrics.Fallback(string(kind), string(alt), string(out.failure.Reason))
		m.to(StateBackendSelected)
		kind = alt
		fellBack = true
	}

	m.to(StateFinalizing)
	res := e.finalize(ctx, lease, kind, out, monitor, logger)
	res.FellBack = fellBack
	return finish(res)
}

// selectPrimary picks the configured primary unless its failure streak has
// reached the threshold and the alternate exists.
func (e *Engine) selectPrimary(health types.BackendHealth) types.BackendKind {
	kind := e.opts.Primary
	threshold := e.opts.UnhealthyThreshold
	if threshold <= 0 || health.ConsecutiveFailures(kind) < threshold {
		return kind
	}
	alt := kind.Alternate()
	if _, ok := e.backends[alt]; !ok {
		return kind
	}
	log.Warn().
		Str("backend", string(kind)).
		Int("failures", health.ConsecutiveFailures(kind)).
		Msg("primary backend unhealthy, using alternate")
	e.publish(event.BackendDemoted, event.BackendDemotedData{Backend: kind, Failures: health.ConsecutiveFailures(kind)})
	e.opts.Metrics.Demoted(string(kind))
	return alt
}

// shouldFallBack allows exactly one switch, only for recoverable failures
// that happened before any tool was invoked or any result was seen.
func (e *Engine) shouldFallBack(out attemptResult, monitor *permission.Monitor, fellBack bool, kind types.BackendKind) bool {
	if fellBack || !e.opts.Fallback || out.failure == nil || out.completed != nil {
		return false
	}
	if !out.failure.Reason.Recoverable() || monitor.Invocations() > 0 {
		return false
	}
	_, ok := e.backends[kind.Alternate()]
	return ok
}

// finalize turns the attempt into a result and commits it with a single
// Commit call, or none when there is nothing to record.
func (e *Engine) finalize(ctx context.Context, lease *session.Lease, kind types.BackendKind, out attemptResult, monitor *permission.Monitor, logger zerolog.Logger) *types.BackendResult {
	sessionID := lease.ID()
	entries := monitor.Entries()
	denied := monitor.Denied()
	for _, entry := range entries {
		e.opts.Metrics.ToolDecision(entry.ToolName, entry.Accepted)
	}

	if out.failure != nil {
		res := failed(out.failure, sessionID, kind)
		res.Denied = denied
		if out.failure.Reason == types.ReasonCancelled && !e.opts.KeepCancelledTools {
			entries = nil
		}
		if len(entries) > 0 {
			// Failed and cancelled executions keep their audit entries but
			// never cost.
			if err := e.commit(ctx, lease, session.Commit{Entries: entries, Executed: true}); err != nil {
				logger.Error().Err(err).Msg("tool usage of failed execution not recorded")
				res.Detail = joinDetail(res.Detail, "tool usage not recorded: "+err.Error())
			}
		}
		return res
	}

	cost := out.completed.TotalCost
	if cost <= 0 {
		cost = out.costDelta
	}
	c := session.Commit{
		CostDelta:        cost,
		Entries:          entries,
		BackendSessionID: out.completed.SessionID,
		Backend:          kind,
		Executed:         true,
	}
	if len(denied) > 0 && e.opts.DenialMode == types.DenialFinishTurn {
		c.PolicyHold = denied[0]
	}
	if err := e.commit(ctx, lease, c); err != nil {
		logger.Error().Err(err).Msg("session commit failed")
		res := failed(types.Failuref(types.ReasonStorageCommitFailure, err, "session %s", sessionID), sessionID, kind)
		res.Denied = denied
		return res
	}
	e.opts.Metrics.Cost(cost)

	return &types.BackendResult{
		Status:    types.StatusCompleted,
		Text:      out.completed.FinalText,
		SessionID: sessionID,
		Cost:      cost,
		Backend:   kind,
		Denied:    denied,
	}
}

// commit runs detached from the caller's context so an abort cannot cut a
// commit in half.
func (e *Engine) commit(ctx context.Context, lease *session.Lease, c session.Commit) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return lease.Commit(cctx, c)
}

func failed(f *types.Failure, sessionID string, kind types.BackendKind) *types.BackendResult {
	u := f.Update()
	return &types.BackendResult{
		Status:    types.StatusFailed,
		SessionID: sessionID,
		Reason:    u.Reason,
		Detail:    u.Detail,
		Tool:      f.Tool,
		Backend:   kind,
	}
}

func joinDetail(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

func (e *Engine) track(ctx context.Context, executionID string) (context.Context, *run) {
	runCtx, cancel := context.WithCancel(ctx)
	return runCtx, &run{executionID: executionID, cancel: cancel, done: make(chan struct{})}
}

// register files r under sessionID, moving it if it was filed under another
// session, as happens when an expired session is replaced on acquire.
func (e *Engine) register(sessionID string, r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.sessionID == sessionID {
		return
	}
	e.removeLocked(r)
	r.sessionID = sessionID
	e.running[sessionID] = append(e.running[sessionID], r)
}

func (e *Engine) untrack(r *run) {
	e.mu.Lock()
	e.removeLocked(r)
	e.mu.Unlock()
	r.cancel()
	close(r.done)
}

func (e *Engine) removeLocked(r *run) {
	runs := e.running[r.sessionID]
	for i, x := range runs {
		if x == r {
			runs = append(runs[:i:i], runs[i+1:]...)
			break
		}
	}
	if len(runs) == 0 {
		delete(e.running, r.sessionID)
	} else {
		e.running[r.sessionID] = runs
	}
}

func (e *Engine) runs(sessionID string) []*run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*run(nil), e.running[sessionID]...)
}

// Abort cancels the execution running on a session along with any queued
// behind it. The backend is stopped, no further updates are forwarded and no
// cost is committed.
func (e *Engine) Abort(sessionID string) error {
	runs := e.runs(sessionID)
	if len(runs) == 0 {
		return ErrNotRunning
	}
	for _, r := range runs {
		r.cancel()
		log.Info().Str("session", sessionID).Str("executionID", r.executionID).Msg("execution aborted")
	}
	return nil
}

// Running reports whether a session has an execution in flight or waiting
// for its lease.
func (e *Engine) Running(sessionID string) bool {
	return len(e.runs(sessionID)) > 0
}

// Summary returns the status projection of a session.
func (e *Engine) Summary(ctx context.Context, sessionID string) (types.SessionSummary, error) {
	return e.sessions.Summary(ctx, sessionID)
}

// forgetter is implemented by backends that keep per-conversation state.
type forgetter interface {
	Forget(backendSessionID string)
}

// EndSession aborts any running execution, waits for it to finish and
// evicts the session.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	for _, r := range e.runs(sessionID) {
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for execution to stop: %w", ctx.Err())
		}
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := e.sessions.End(ctx, sessionID); err != nil {
		return err
	}
	e.forget(sess)
	return nil
}

// Sweep expires idle sessions now and drops the backend state they held.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	removed, err := e.sessions.Expire(ctx, e.opts.Now())
	for _, s := range removed {
		e.forget(s)
	}
	e.opts.Metrics.Expired(len(removed))
	return len(removed), err
}

func (e *Engine) forget(s *types.Session) {
	if s.BackendSessionID == "" {
		return
	}
	if f, ok := e.backends[s.Backend].(forgetter); ok {
		f.Forget(s.BackendSessionID)
	}
}

func (e *Engine) publish(t event.EventType, data any) {
	if e.opts.Publisher != nil {
		e.opts.Publisher.Publish(event.Event{Type: t, Data: data})
	}
}
