/*
Package event carries audit events between the execution engine, the session
manager and the HTTP layer.

Publishers emit an Event with a typed payload; subscribers registered with
Subscribe or SubscribeAll receive the value as published, so type assertions
on Event.Data work in-process. Every event is also marshalled to JSON and
published on the watermill gochannel topic Topic; Bus.Stream decodes that
topic for consumers such as the /event SSE endpoint.

# Event Types

Session events:
  - session.created: a new session record was created
  - session.expired: the sweeper removed an idle session
  - session.ended: a session was ended explicitly

Execution events:
  - execution.started, execution.completed, execution.failed
  - execution.fallback: the engine retried on the alternate backend

Tool events:
  - tool.decided: the tool monitor allowed or denied an invocation
  - tool.loop_detected: the same invocation repeated past the loop threshold

Other:
  - backend.demoted: a backend crossed the unhealthy threshold
  - config.reloaded: the config watcher applied a new policy

# Usage

	unsub := event.Subscribe(event.ToolDecided, func(e event.Event) {
		d := e.Data.(event.ToolDecidedData)
		log.Info().Str("tool", d.ToolName).Bool("allowed", d.Allowed).Msg("tool")
	})
	defer unsub()

Publish delivers asynchronously, one goroutine per subscriber. PublishSync
returns after all subscribers ran and is what tests should use.
*/
package event
