// Package storage persists session records.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store is a durable keyed store of sessions. Implementations must make Put
// atomic: a reader sees either the previous record or the new one.
type Store interface {
	Get(ctx context.Context, id string) (*types.Session, error)
	Put(ctx context.Context, session *types.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*types.Session, error)
	Close() error
}

// Open returns the store selected by cfg. defaultDir is used when cfg.Path
// is empty.
func Open(cfg types.StorageConfig, defaultDir string) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = defaultDir
		}
		return NewFileStore(path), nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(defaultDir, "sessions.db")
		}
		return OpenSQLStore(path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
