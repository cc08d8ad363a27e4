package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/backend"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/permission"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/stream"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// attemptResult is the outcome of running one backend. Exactly one of
// completed and failure is set.
type attemptResult struct {
	completed *types.Completed
	failure   *types.Failure
	costDelta float64
}

// attempt runs one backend and pipes its stdout through a fresh parser and
// the shared monitor. Terminal parser updates are held back; the caller emits
// the terminal update after finalizing.
func (e *Engine) attempt(ctx context.Context, b backend.Backend, req backend.Request, monitor *permission.Monitor, onUpdate UpdateFunc, logger zerolog.Logger) attemptResult {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		parser    = stream.NewParser()
		completed *types.Completed
		parsed    *types.Failure
		policy    *types.Failure
		costDelta float64
		stopped   bool
	)

	handle := func(u types.StreamUpdate) {
		if stopped || ctx.Err() != nil {
			// Aborted or refused: nothing more reaches the caller.
			return
		}
		switch v := u.(type) {
		case types.ToolInvocation:
			d := monitor.Observe(v)
			onUpdate(v)
			if !d.Allowed && e.opts.DenialMode == types.DenialTerminate {
				logger.Warn().Str("tool", v.ToolName).Str("reason", d.Reason).Msg("tool refused, terminating attempt")
				policy = &types.Failure{Reason: types.ReasonPolicyViolation, Tool: v.ToolName, Detail: d.Reason}
				stopped = true
				cancel()
			}
		case types.CostUpdate:
			costDelta += v.Delta
			onUpdate(v)
		case types.Completed:
			completed = &v
		case types.Failed:
			parsed = &types.Failure{Reason: v.Reason, Detail: v.Detail}
			stopped = true
			// Nothing after a failed record is trusted; stop the backend.
			cancel()
		default:
			onUpdate(u)
		}
	}

	exit := b.Execute(attemptCtx, req, func(c backend.Chunk) {
		if c.Source == backend.SourceStderr {
			logger.Debug().Bytes("stderr", c.Data).Msg("backend stderr")
			return
		}
		for _, u := range parser.Parse(c.Data) {
			handle(u)
		}
	})
	for _, u := range parser.Flush() {
		handle(u)
	}

	out := attemptResult{costDelta: costDelta}
	switch {
	case ctx.Err() != nil:
		out.failure = types.AsFailure(ctx.Err())
	case policy != nil:
		out.failure = policy
	case parsed != nil:
		out.failure = parsed
	case !exit.OK():
		out.failure = exit.Failure()
	case completed == nil:
		out.failure = types.NewFailure(types.ReasonMalformedOutput, "stream ended without a result record")
	default:
		if completed.SessionID == "" {
			completed.SessionID = parser.SessionID()
		}
		out.completed = completed
	}
	if out.failure != nil {
		logger.Debug().
			Str("reason", string(out.failure.Reason)).
			Str("detail", out.failure.Detail).
			Msg("attempt failed")
	}
	return out
}
