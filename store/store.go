// Package store is the durable layer shared by the session controller
// and the retry scheduler: the bounded offline queue, the append-only
// usage ledger, settings and conversation history. SQLite via gorm;
// every mutating operation is atomic with respect to its own record.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MaxQueueItems bounds the offline queue. A 4th insertion is rejected
// with ErrQueueFull, never silently dropped.
const MaxQueueItems = 3

var ErrQueueFull = errors.New("offline queue is full")

type Store struct {
	db *gorm.DB
}

// DefaultPath returns the OS-default database location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dicta", "dicta.db"), nil
}

// Open opens (creating if needed) the database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&QueueItem{},
		&UsageRecord{},
		&Setting{},
		&ConversationMessage{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Offline queue ---

// Enqueue inserts item if the queue has capacity. The count check and
// the insert run in one transaction so concurrent enqueues cannot
// overshoot the cap. On success item.ID is populated.
func (s *Store) Enqueue(item *QueueItem) error {
	if item.CreatedAt == 0 {
		item.CreatedAt = time.Now().UnixMilli()
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&QueueItem{}).Count(&count).Error; err != nil {
			return err
		}
		if count >= MaxQueueItems {
			return ErrQueueFull
		}
		return tx.Create(item).Error
	})
}

// Queue returns all pending items, oldest first.
func (s *Store) Queue() ([]QueueItem, error) {
	var items []QueueItem
	err := s.db.Order("created_at ASC, id ASC").Find(&items).Error
	return items, err
}

func (s *Store) QueueCount() (int, error) {
	var count int64
	err := s.db.Model(&QueueItem{}).Count(&count).Error
	return int(count), err
}

func (s *Store) QueueItemByID(id int64) (*QueueItem, error) {
	var item QueueItem
	if err := s.db.First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveQueueItem deletes the item and its persisted audio file, if
// any. Removing an already-removed item is not an error.
func (s *Store) RemoveQueueItem(id int64) error {
	var item QueueItem
	err := s.db.First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.db.Delete(&QueueItem{}, id).Error; err != nil {
		return err
	}
	if item.AudioPath != "" {
		os.Remove(item.AudioPath)
	}
	return nil
}

// IncrementRetry bumps the retry counter and stamps the attempt time.
func (s *Store) IncrementRetry(id int64) error {
	return s.db.Model(&QueueItem{}).Where("id = ?", id).Updates(map[string]any{
		"retry_count":  gorm.Expr("retry_count + 1"),
		"last_attempt": time.Now().UnixMilli(),
	}).Error
}

// --- Usage ledger ---

// AppendUsage writes one ledger row. Rows are never updated or
// reordered afterwards.
func (s *Store) AppendUsage(rec *UsageRecord) error {
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	return s.db.Create(rec).Error
}

// Usage returns ledger rows with timestamp in [fromTs, toTs), oldest
// first.
func (s *Store) Usage(fromTs, toTs int64) ([]UsageRecord, error) {
	var recs []UsageRecord
	err := s.db.
		Where("timestamp >= ? AND timestamp < ?", fromTs, toTs).
		Order("timestamp ASC, id ASC").
		Find(&recs).Error
	return recs, err
}

// History returns all ledger rows, most recent first.
func (s *Store) History() ([]UsageRecord, error) {
	var recs []UsageRecord
	err := s.db.Order("timestamp DESC, id DESC").Find(&recs).Error
	return recs, err
}

func (s *Store) DeleteHistory(id int64) error {
	return s.db.Delete(&UsageRecord{}, id).Error
}

func (s *Store) ClearHistory() error {
	return s.db.Where("1 = 1").Delete(&UsageRecord{}).Error
}

// --- Settings ---

func (s *Store) SaveSetting(key, value string) error {
	return s.db.Save(&Setting{Key: key, Value: value}).Error
}

// Setting returns the stored value, or "" when unset.
func (s *Store) Setting(key string) (string, error) {
	var setting Setting
	err := s.db.First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// --- Conversation history ---

func (s *Store) AppendConversation(role, content string) error {
	return s.db.Create(&ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}).Error
}

// ConversationHistory returns the last maxPairs user/assistant
// exchanges in chronological order.
func (s *Store) ConversationHistory(maxPairs int) ([]ConversationMessage, error) {
	var recent []ConversationMessage
	err := s.db.Order("timestamp DESC, id DESC").Limit(maxPairs * 2).Find(&recent).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

func (s *Store) ClearConversation() error {
	return s.db.Where("1 = 1").Delete(&ConversationMessage{}).Error
}
