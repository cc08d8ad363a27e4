package engine

import (
	"fmt"

	"github.com/rs/zerolog"
)

// State is a step of an execution.
type State string

const (
	StateIdle            State = "idle"
	StateBackendSelected State = "backend_selected"
	StateStreaming       State = "streaming"
	StateFinalizing      State = "finalizing"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// transitions lists the legal moves. Streaming may go back to
// BackendSelected once, for the fallback.
var transitions = map[State][]State{
	StateIdle:            {StateBackendSelected, StateFailed},
	StateBackendSelected: {StateStreaming, StateFailed},
	StateStreaming:       {StateFinalizing, StateBackendSelected, StateFailed},
	StateFinalizing:      {StateCompleted, StateFailed},
}

// Terminal reports whether s ends the execution.
func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// machine tracks the state of one execution. It is only touched by the
// goroutine running the execution.
type machine struct {
	id        string
	state     State
	fallbacks int
	logger    zerolog.Logger
	observe   func(id string, from, to State)
}

func newMachine(id string, logger zerolog.Logger, observe func(string, State, State)) *machine {
	return &machine{id: id, state: StateIdle, logger: logger, observe: observe}
}

// to moves the machine. Illegal moves are programming errors.
func (m *machine) to(next State) {
	allowed := false
	for _, s := range transitions[m.state] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		panic(fmt.Sprintf("engine: illegal transition %s -> %s", m.state, next))
	}
	if m.state == StateStreaming && next == StateBackendSelected {
		if m.fallbacks > 0 {
			panic("engine: second fallback")
		}
		m.fallbacks++
	}

	prev := m.state
	m.state = next
	m.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("state transition")
	if m.observe != nil {
		m.observe(m.id, prev, next)
	}
}
