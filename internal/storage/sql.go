package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

type sessionRow struct {
	ID               string    `gorm:"primaryKey;type:varchar(64)"`
	UserID           string    `gorm:"type:varchar(255);not null;index"`
	WorkingDirectory string    `gorm:"type:text;not null"`
	BackendSessionID string    `gorm:"type:varchar(255)"`
	Backend          string    `gorm:"type:varchar(16)"`
	AccumulatedCost  float64   `gorm:"not null"`
	ExecutionCount   int       `gorm:"not null"`
	PolicyHold       string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null"`
	LastActivityAt   time.Time `gorm:"not null;index"`
}

func (sessionRow) TableName() string { return "sessions" }

type toolUsageRow struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SessionID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_tool_usage_seq"`
	Seq         int       `gorm:"not null;uniqueIndex:idx_tool_usage_seq"`
	ToolName    string    `gorm:"type:varchar(255);not null"`
	Timestamp   time.Time `gorm:"not null"`
	Accepted    bool      `gorm:"not null"`
	Reason      string    `gorm:"type:text"`
	ExecutionID string    `gorm:"type:varchar(64)"`
}

func (toolUsageRow) TableName() string { return "tool_usage" }

// SQLStore keeps sessions in a SQLite database. The tool usage log lives in
// its own table and Put only inserts entries past the stored length.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (and migrates) the database at path.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sessionRow{}, &toolUsageRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*types.Session, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var entries []toolUsageRow
	if err := s.db.WithContext(ctx).Where("session_id = ?", id).Order("seq").Find(&entries).Error; err != nil {
		return nil, err
	}
	return row.toSession(entries), nil
}

func (s *SQLStore) Put(ctx context.Context, session *types.Session) error {
	row := fromSession(session)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		var stored int64
		if err := tx.Model(&toolUsageRow{}).Where("session_id = ?", session.ID).Count(&stored).Error; err != nil {
			return err
		}
		if int(stored) > len(session.ToolUsageLog) {
			// The record was replaced wholesale; rewrite the log.
			if err := tx.Where("session_id = ?", session.ID).Delete(&toolUsageRow{}).Error; err != nil {
				return err
			}
			stored = 0
		}

		fresh := session.ToolUsageLog[stored:]
		if len(fresh) == 0 {
			return nil
		}
		rows := make([]toolUsageRow, len(fresh))
		for i, e := range fresh {
			rows[i] = toolUsageRow{
				SessionID:   session.ID,
				Seq:         int(stored) + i,
				ToolName:    e.ToolName,
				Timestamp:   e.Timestamp,
				Accepted:    e.Accepted,
				Reason:      e.Reason,
				ExecutionID: e.ExecutionID,
			}
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&toolUsageRow{}).Error; err != nil {
			return fmt.Errorf("delete tool usage: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&sessionRow{}).Error; err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) List(ctx context.Context) ([]*types.Session, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	var entries []toolUsageRow
	if err := s.db.WithContext(ctx).Order("session_id, seq").Find(&entries).Error; err != nil {
		return nil, err
	}
	bySession := make(map[string][]toolUsageRow)
	for _, e := range entries {
		bySession[e.SessionID] = append(bySession[e.SessionID], e)
	}

	out := make([]*types.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toSession(bySession[row.ID]))
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromSession(s *types.Session) sessionRow {
	return sessionRow{
		ID:               s.ID,
		UserID:           s.UserID,
		WorkingDirectory: s.WorkingDirectory,
		BackendSessionID: s.BackendSessionID,
		Backend:          string(s.Backend),
		AccumulatedCost:  s.AccumulatedCost,
		ExecutionCount:   s.ExecutionCount,
		PolicyHold:       s.PolicyHold,
		CreatedAt:        s.CreatedAt,
		LastActivityAt:   s.LastActivityAt,
	}
}

func (r sessionRow) toSession(entries []toolUsageRow) *types.Session {
	s := &types.Session{
		ID:               r.ID,
		UserID:           r.UserID,
		WorkingDirectory: r.WorkingDirectory,
		BackendSessionID: r.BackendSessionID,
		Backend:          types.BackendKind(r.Backend),
		AccumulatedCost:  r.AccumulatedCost,
		ExecutionCount:   r.ExecutionCount,
		PolicyHold:       r.PolicyHold,
		CreatedAt:        r.CreatedAt,
		LastActivityAt:   r.LastActivityAt,
		ToolUsageLog:     make([]types.ToolUsageEntry, 0, len(entries)),
	}
	for _, e := range entries {
		s.ToolUsageLog = append(s.ToolUsageLog, types.ToolUsageEntry{
			ToolName:    e.ToolName,
			Timestamp:   e.Timestamp,
			Accepted:    e.Accepted,
			Reason:      e.Reason,
			ExecutionID: e.ExecutionID,
		})
	}
	return s
}
