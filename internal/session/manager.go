package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/event"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/storage"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

var (
	// ErrSessionBusy is returned by Acquire under the reject busy policy.
	ErrSessionBusy = types.NewFailure(types.ReasonSessionBusy, "session has an execution in flight")

	// ErrNegativeCost is returned when a commit would decrease the cost.
	ErrNegativeCost = errors.New("negative cost delta")

	// ErrNotFound is returned for unknown sessions.
	ErrNotFound = errors.New("session not found")
)

// Publisher receives lifecycle events. *event.Bus satisfies it.
type Publisher interface {
	Publish(event.Event)
}

// Options configures a Manager.
type Options struct {
	TTL        time.Duration
	BusyPolicy types.BusyPolicy
	Publisher  Publisher
	Now        func() time.Time

	// Retry builds the backoff used for persisting commits. Defaults to a
	// short exponential backoff with three retries.
	Retry func() backoff.BackOff
}

// Commit is the set of mutations applied at the end of an execution.
type Commit struct {
	CostDelta        float64
	Entries          []types.ToolUsageEntry
	BackendSessionID string
	Backend          types.BackendKind

	// Executed counts the commit as one execution.
	Executed bool

	// PolicyHold sets a hold; ClearHold removes an existing one.
	PolicyHold string
	ClearHold  bool
}

type entry struct {
	lease   chan struct{}
	commit  sync.Mutex
	snap    atomic.Pointer[types.Session]
	removed atomic.Bool
}

func newEntry(s *types.Session) *entry {
	e := &entry{lease: make(chan struct{}, 1)}
	e.snap.Store(s)
	return e
}

// Manager owns sessions: creation, the single in-flight lease, commits and
// expiry. The store is the durable copy; committed snapshots are cached.
type Manager struct {
	store storage.Store
	opts  Options

	mu      sync.Mutex // serializes create, evict and sweep
	entries sync.Map   // id -> *entry
}

// NewManager creates a session manager on top of store.
func NewManager(store storage.Store, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BusyPolicy == "" {
		opts.BusyPolicy = types.BusyQueue
	}
	if opts.Retry == nil {
		opts.Retry = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return backoff.WithMaxRetries(b, 3)
		}
	}
	return &Manager{store: store, opts: opts}
}

// TTL returns the idle timeout.
func (m *Manager) TTL() time.Duration { return m.opts.TTL }

// GetOrCreate returns the session if it resolves, is unexpired and belongs to
// userID. Otherwise a fresh session is created; an expired one is deleted.
func (m *Manager) GetOrCreate(ctx context.Context, userID, sessionID, workDir string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		e, err := m.lookup(ctx, sessionID)
		switch {
		case err == nil:
			s := e.snap.Load()
			switch {
			case s.UserID != userID:
				log.Warn().Str("session", sessionID).Str("user", userID).Msg("session belongs to another user, starting fresh")
			case s.Expired(m.opts.Now(), m.opts.TTL) && len(e.lease) == 0:
				log.Info().Str("session", sessionID).Msg("session expired, starting fresh")
				if err := m.evict(ctx, sessionID, e); err != nil {
					return nil, err
				}
			default:
				return s.Clone(), nil
			}
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}

	now := m.opts.Now().UTC()
	s := &types.Session{
		ID:               ulid.Make().String(),
		UserID:           userID,
		WorkingDirectory: workDir,
		ToolUsageLog:     []types.ToolUsageEntry{},
		CreatedAt:        now,
		LastActivityAt:   now,
	}
	if err := m.persist(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	m.entries.Store(s.ID, newEntry(s))
	m.publish(event.SessionCreated, event.SessionData{SessionID: s.ID, UserID: userID})
	log.Debug().Str("session", s.ID).Str("user", userID).Msg("session created")
	return s.Clone(), nil
}

// Get returns a copy of the session.
func (m *Manager) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	e, err := m.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.snap.Load().Clone(), nil
}

// Acquire resolves the session like GetOrCreate and takes its lease. Under
// the queue policy it waits for the running execution; under reject it
// returns ErrSessionBusy.
func (m *Manager) Acquire(ctx context.Context, userID, sessionID, workDir string) (*Lease, error) {
	for {
		s, err := m.GetOrCreate(ctx, userID, sessionID, workDir)
		if err != nil {
			return nil, err
		}
		v, ok := m.entries.Load(s.ID)
		if !ok {
			// Evicted between resolve and lookup.
			sessionID = s.ID
			continue
		}
		e := v.(*entry)

		if m.opts.BusyPolicy == types.BusyReject {
			select {
			case e.lease <- struct{}{}:
			default:
				return nil, ErrSessionBusy
			}
		} else {
			select {
			case e.lease <- struct{}{}:
			case <-ctx.Done():
				return nil, types.AsFailure(ctx.Err())
			}
		}

		if e.removed.Load() {
			<-e.lease
			sessionID = s.ID
			continue
		}
		return &Lease{m: m, e: e, id: s.ID}, nil
	}
}

// Busy reports whether the session has an execution in flight.
func (m *Manager) Busy(sessionID string) bool {
	v, ok := m.entries.Load(sessionID)
	return ok && len(v.(*entry).lease) > 0
}

// Commit applies c to the session and persists it. Tool entries are only ever
// appended and cost only grows. When persisting fails the in-memory session is
// left unchanged and the error is returned.
func (m *Manager) Commit(ctx context.Context, sessionID string, c Commit) error {
	if c.CostDelta < 0 {
		return ErrNegativeCost
	}
	e, err := m.lookup(ctx, sessionID)
	if err != nil {
		return err
	}

	e.commit.Lock()
	defer e.commit.Unlock()
	if e.removed.Load() {
		return ErrNotFound
	}

	next := e.snap.Load().Clone()
	next.AccumulatedCost += c.CostDelta
	next.ToolUsageLog = append(next.ToolUsageLog, c.Entries...)
	if c.Executed {
		next.ExecutionCount++
	}
	if c.BackendSessionID != "" {
		next.BackendSessionID = c.BackendSessionID
		next.Backend = c.Backend
	}
	if c.ClearHold {
		next.PolicyHold = ""
	}
	if c.PolicyHold != "" {
		next.PolicyHold = c.PolicyHold
	}
	next.LastActivityAt = m.opts.Now().UTC()

	if err := m.persist(ctx, next); err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("commit failed, session rolled back")
		return fmt.Errorf("failed to commit session %s: %w", sessionID, err)
	}
	e.snap.Store(next)
	return nil
}

// Summary returns the status projection of a session. Cached sessions are
// read without locking.
func (m *Manager) Summary(ctx context.Context, sessionID string) (types.SessionSummary, error) {
	if v, ok := m.entries.Load(sessionID); ok {
		return v.(*entry).snap.Load().Summary(), nil
	}
	e, err := m.lookup(ctx, sessionID)
	if err != nil {
		return types.SessionSummary{}, err
	}
	return e.snap.Load().Summary(), nil
}

// End evicts a session. The caller stops any in-flight execution first.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	s := e.snap.Load()
	if err := m.evict(ctx, sessionID, e); err != nil {
		return err
	}
	m.publish(event.SessionEnded, event.SessionData{SessionID: sessionID, UserID: s.UserID})
	return nil
}

// ExpireSweep removes sessions idle longer than the TTL that have no
// execution in flight, and returns how many were removed.
func (m *Manager) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	removed, err := m.Expire(ctx, now)
	return len(removed), err
}

// Sweep runs ExpireSweep at the manager's current time.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	return m.ExpireSweep(ctx, m.opts.Now())
}

// Expire is ExpireSweep returning the removed sessions as they were last
// seen.
func (m *Manager) Expire(ctx context.Context, now time.Time) ([]*types.Session, error) {
	if m.opts.TTL <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var (
		removed []*types.Session
		errs    []error
	)
	for _, s := range stored {
		e := m.cached(s)
		current := e.snap.Load()
		if !current.Expired(now, m.opts.TTL) {
			continue
		}
		// A held lease means an execution is running; leave it.
		select {
		case e.lease <- struct{}{}:
		default:
			continue
		}
		err := m.evict(ctx, current.ID, e)
		<-e.lease
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, current)
		m.publish(event.SessionExpired, event.SessionExpiredData{
			SessionID: current.ID,
			UserID:    current.UserID,
			Summary:   current.Summary(),
		})
	}
	if len(removed) > 0 {
		log.Info().Int("removed", len(removed)).Msg("expired sessions swept")
	}
	return removed, errors.Join(errs...)
}

// lookup returns the cached entry, loading it from the store on a miss.
func (m *Manager) lookup(ctx context.Context, sessionID string) (*entry, error) {
	if v, ok := m.entries.Load(sessionID); ok {
		return v.(*entry), nil
	}
	s, err := m.store.Get(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	v, _ := m.entries.LoadOrStore(sessionID, newEntry(s))
	return v.(*entry), nil
}

func (m *Manager) cached(s *types.Session) *entry {
	v, _ := m.entries.LoadOrStore(s.ID, newEntry(s))
	return v.(*entry)
}

// evict deletes the session from the store and the cache. Callers hold mu.
func (m *Manager) evict(ctx context.Context, sessionID string, e *entry) error {
	if err := m.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	e.removed.Store(true)
	m.entries.Delete(sessionID)
	return nil
}

func (m *Manager) persist(ctx context.Context, s *types.Session) error {
	op := func() error {
		err := m.store.Put(ctx, s)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(m.opts.Retry(), ctx))
}

func (m *Manager) publish(t event.EventType, data any) {
	if m.opts.Publisher != nil {
		m.opts.Publisher.Publish(event.Event{Type: t, Data: data})
	}
}
