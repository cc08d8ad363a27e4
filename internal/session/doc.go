// Package session manages the durable per-user execution context.
//
// # Architecture Overview
//
// A Manager sits on top of a storage.Store and owns every session it hands
// out:
//
//   - GetOrCreate resolves a session id for a user, or starts a fresh session
//     when the id is unknown, expired or owned by someone else.
//   - Acquire wraps GetOrCreate and takes the session lease. At most one
//     execution holds a session's lease at a time; a second request either
//     queues or is rejected with ErrSessionBusy depending on the busy policy.
//   - Commit appends tool usage entries and adds cost in one step, then
//     persists the result with exponential backoff. The cached copy only
//     changes after the store accepted the new state.
//   - ExpireSweep deletes sessions idle for longer than the TTL. Leased
//     sessions are skipped.
//
// # Snapshots
//
// Each cached session is an immutable snapshot behind an atomic pointer.
// Summary reads it without taking any lock, so status requests never wait on
// a running execution.
//
// # Usage Example
//
//	mgr := session.NewManager(store, session.Options{TTL: 30 * time.Minute})
//	lease, err := mgr.Acquire(ctx, "user-1", "", "/srv/repo")
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//
//	err = lease.Commit(ctx, session.Commit{CostDelta: 0.02, Executed: true})
//
// A Sweeper runs a sweep function such as Manager.Sweep on a cron schedule:
//
//	sweeper, _ := session.NewSweeper(mgr.Sweep, "@every 5m")
//	sweeper.Start()
//	defer sweeper.Stop()
package session
