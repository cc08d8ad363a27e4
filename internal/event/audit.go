package event

import "github.com/rs/zerolog"

// LogTo writes every event on b to logger, so the audit trail survives in
// the log file even with no other subscriber. Denials and failures log at
// warn level. The returned function unsubscribes.
func LogTo(b *Bus, logger zerolog.Logger) func() {
	return b.SubscribeAll(func(e Event) {
		ev := logger.Info()
		switch d := e.Data.(type) {
		case ToolDecidedData:
			if !d.Allowed {
				ev = logger.Warn()
			}
		case ExecutionData:
			if e.Type == ExecutionFailed {
				ev = logger.Warn()
			}
		case ToolLoopData, BackendDemotedData:
			ev = logger.Warn()
		}
		ev.Str("event", string(e.Type)).Interface("data", e.Data).Msg("audit")
	})
}
