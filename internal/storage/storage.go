package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

// FileStore keeps one JSON document per session under basePath.
type FileStore struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// NewFileStore creates a file store rooted at basePath.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

func (s *FileStore) pathFor(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(s.basePath, id+".json"), nil
}

// Get loads a session.
func (s *FileStore) Get(ctx context.Context, id string) (*types.Session, error) {
	filePath, err := s.pathFor(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &session, nil
}

// Put writes the session via a temp file and rename under the session lock.
func (s *FileStore) Put(ctx context.Context, session *types.Session) error {
	filePath, err := s.pathFor(session.ID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	return s.withLock(filePath, func() error {
		tmpPath := filePath + ".tmp"
		if err := os.WriteFile(tmpPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write temp file: %w", err)
		}
		if err := os.Rename(tmpPath, filePath); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to rename file: %w", err)
		}
		return nil
	})
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	filePath, err := s.pathFor(id)
	if err != nil {
		return err
	}

	err = s.withLock(filePath, func() error {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file: %w", err)
		}
		return nil
	})

	s.mu.Lock()
	delete(s.locks, filePath)
	s.mu.Unlock()
	return err
}

// List loads every stored session ordered by id. Unreadable files are
// skipped with a warning.
func (s *FileStore) List(ctx context.Context) ([]*types.Session, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var sessions []*types.Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		session, err := s.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("skipping unreadable session")
			continue
		}
		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) withLock(filePath string, fn func() error) error {
	s.mu.Lock()
	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}
	s.mu.Unlock()

	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()
	return fn()
}
