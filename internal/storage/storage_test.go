package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := OpenSQLStore(filepath.Join(t.TempDir(), "db", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"file":   NewFileStore(t.TempDir()),
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func sampleSession(id string) *types.Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &types.Session{
		ID:               id,
		UserID:           "user-1",
		WorkingDirectory: "/work",
		BackendSessionID: "claude-abc",
		Backend:          types.BackendProcess,
		AccumulatedCost:  0.25,
		ExecutionCount:   2,
		CreatedAt:        now,
		LastActivityAt:   now.Add(time.Minute),
		ToolUsageLog: []types.ToolUsageEntry{
			{ToolName: "Read", Timestamp: now, Accepted: true, ExecutionID: "e1"},
			{ToolName: "Bash", Timestamp: now, Accepted: false, Reason: "denied by policy", ExecutionID: "e1"},
		},
	}
}

func TestStore_PutGet(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleSession("s1")
			require.NoError(t, store.Put(ctx, want))

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, want.UserID, got.UserID)
			assert.Equal(t, want.BackendSessionID, got.BackendSessionID)
			assert.Equal(t, want.Backend, got.Backend)
			assert.InDelta(t, want.AccumulatedCost, got.AccumulatedCost, 1e-9)
			assert.Equal(t, want.ExecutionCount, got.ExecutionCount)
			assert.True(t, want.LastActivityAt.Equal(got.LastActivityAt))
			require.Len(t, got.ToolUsageLog, 2)
			assert.Equal(t, "Bash", got.ToolUsageLog[1].ToolName)
			assert.False(t, got.ToolUsageLog[1].Accepted)
			assert.Equal(t, "denied by policy", got.ToolUsageLog[1].Reason)
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_AppendOnlyLogGrows(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := sampleSession("s2")
			require.NoError(t, store.Put(ctx, s))

			s.ToolUsageLog = append(s.ToolUsageLog, types.ToolUsageEntry{
				ToolName: "Grep", Timestamp: time.Now().UTC(), Accepted: true, ExecutionID: "e2",
			})
			s.AccumulatedCost += 0.5
			require.NoError(t, store.Put(ctx, s))

			got, err := store.Get(ctx, "s2")
			require.NoError(t, err)
			require.Len(t, got.ToolUsageLog, 3)
			assert.Equal(t, []string{"Read", "Bash", "Grep"}, toolNames(got))
			assert.InDelta(t, 0.75, got.AccumulatedCost, 1e-9)
		})
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, sampleSession("b")))
			require.NoError(t, store.Put(ctx, sampleSession("a")))

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].ID)
			assert.Len(t, list[1].ToolUsageLog, 2)

			require.NoError(t, store.Delete(ctx, "a"))
			require.NoError(t, store.Delete(ctx, "a"), "deleting twice is not an error")

			list, err = store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "b", list[0].ID)
		})
	}
}

func TestStore_ReturnedRecordsAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := sampleSession("iso")
	require.NoError(t, store.Put(ctx, s))

	s.ToolUsageLog[0].ToolName = "mutated"
	got, err := store.Get(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, "Read", got.ToolUsageLog[0].ToolName)
}

func TestFileStore_RejectsPathLikeIDs(t *testing.T) {
	store := NewFileStore(t.TempDir())
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		assert.Error(t, store.Put(context.Background(), &types.Session{ID: id}), id)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, store.Put(context.Background(), sampleSession("tmp")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, "tmp.json", e.Name())
	}
}

func TestFileStore_ConcurrentPuts(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s := sampleSession("shared")
			s.ExecutionCount = n
			assert.NoError(t, store.Put(ctx, s))
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func TestFileStore_ListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	require.NoError(t, store.Put(context.Background(), sampleSession("good")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0644))

	list, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].ID)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(types.StorageConfig{Driver: "file"}, dir)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(types.StorageConfig{Driver: "memory"}, dir)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(types.StorageConfig{Driver: "sqlite"}, dir)
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(types.StorageConfig{Driver: "etcd"}, dir)
	assert.Error(t, err)
}

func TestFileLock_TryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.json")
	lock := NewFileLock(path)
	require.NoError(t, lock.Lock())
	assert.False(t, lock.TryLock())
	require.NoError(t, lock.Unlock())
	assert.True(t, lock.TryLock())
	require.NoError(t, lock.Unlock())
}

func toolNames(s *types.Session) []string {
	names := make([]string, len(s.ToolUsageLog))
	for i, e := range s.ToolUsageLog {
		names[i] = e.ToolName
	}
	return names
}
