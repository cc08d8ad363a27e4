package session

import (
	"context"
	"sync"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// Lease is the exclusive right to execute on a session. Release it exactly
// once; further calls are no-ops.
type Lease struct {
	m    *Manager
	e    *entry
	id   string
	once sync.Once
}

// ID returns the leased session id.
func (l *Lease) ID() string { return l.id }

// Session returns a copy of the latest committed session state.
func (l *Lease) Session() *types.Session {
	return l.e.snap.Load().Clone()
}

// Commit applies c to the leased session.
func (l *Lease) Commit(ctx context.Context, c Commit) error {
	return l.m.Commit(ctx, l.id, c)
}

// Release frees the session for the next execution.
func (l *Lease) Release() {
	l.once.Do(func() { <-l.e.lease })
}
