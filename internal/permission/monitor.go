package permission

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// Publisher receives audit events. *event.Bus satisfies it.
type Publisher interface {
	Publish(event.Event)
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	ExecutionID   string
	SessionID     string
	LoopThreshold int
	Publisher     Publisher
	Now           func() time.Time
}

// Monitor applies a tool policy to the updates of one execution attempt and
// keeps the ledger of decisions made. It never stops anything itself.
type Monitor struct {
	policy types.ToolPolicy
	opts   MonitorOptions
	loop   *LoopGuard

	mu        sync.Mutex
	entries   []types.ToolUsageEntry
	denied    []string
	decisions map[string]types.Decision // by invocation id
}

// NewMonitor creates a monitor for one execution.
func NewMonitor(policy types.ToolPolicy, opts MonitorOptions) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		policy:    policy,
		opts:      opts,
		loop:      NewLoopGuard(opts.LoopThreshold),
		decisions: make(map[string]types.Decision),
	}
}

// Observe evaluates u. Updates other than tool invocations are allowed
// untouched. Each invocation is recorded once; a repeated invocation id
// returns the earlier decision.
func (m *Monitor) Observe(u types.StreamUpdate) types.Decision {
	var inv types.ToolInvocation
	switch v := u.(type) {
	case types.ToolInvocation:
		inv = v
	case *types.ToolInvocation:
		inv = *v
	default:
		return types.Allow()
	}

	m.mu.Lock()
	if inv.ID != "" {
		if d, ok := m.decisions[inv.ID]; ok {
			m.mu.Unlock()
			return d
		}
	}

	decision := Evaluate(m.policy, inv.ToolName, inv.Arguments)
	m.entries = append(m.entries, types.ToolUsageEntry{
		ToolName:    inv.ToolName,
		Timestamp:   m.opts.Now().UTC(),
		Accepted:    decision.Allowed,
		Reason:      decision.Reason,
		ExecutionID: m.opts.ExecutionID,
	})
	if !decision.Allowed {
		m.denied = append(m.denied, inv.ToolName)
	}
	if inv.ID != "" {
		m.decisions[inv.ID] = decision
	}
	repeats, looping := m.loop.Observe(inv.ToolName, inv.Arguments)
	m.mu.Unlock()

	log.Debug().
		Str("executionID", m.opts.ExecutionID).
		Str("tool", inv.ToolName).
		Bool("allowed", decision.Allowed).
		Str("reason", decision.Reason).
		Msg("tool decision")

	m.publish(event.Event{
		Type: event.ToolDecided,
		Data: event.ToolDecidedData{
			ExecutionID: m.opts.ExecutionID,
			SessionID:   m.opts.SessionID,
			ToolName:    inv.ToolName,
			Allowed:     decision.Allowed,
			Reason:      decision.Reason,
		},
	})
	if looping {
		log.Warn().Str("tool", inv.ToolName).Int("repeats", repeats).Msg("repeated identical tool invocation")
		m.publish(event.Event{
			Type: event.ToolLoopDetected,
			Data: event.ToolLoopData{
				ExecutionID: m.opts.ExecutionID,
				SessionID:   m.opts.SessionID,
				ToolName:    inv.ToolName,
				Repeats:     repeats,
			},
		})
	}
	return decision
}

func (m *Monitor) publish(e event.Event) {
	if m.opts.Publisher != nil {
		m.opts.Publisher.Publish(e)
	}
}

// Entries returns a copy of the decisions recorded so far, in order.
func (m *Monitor) Entries() []types.ToolUsageEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ToolUsageEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Denied returns the names of refused tools, in order.
func (m *Monitor) Denied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.denied))
	copy(out, m.denied)
	return out
}

// Invocations reports how many tool invocations were observed.
func (m *Monitor) Invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
