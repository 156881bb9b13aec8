// Package sqlite provides a GORM-backed store.BatchStore on a local SQLite
// file, used by the genbatch CLI to persist item status between runs.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type batchRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"not null"`
	Total     int    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (batchRow) TableName() string { return "batches" }

type itemRow struct {
	BatchID      string `gorm:"primaryKey;size:36"`
	ItemIndex    int    `gorm:"primaryKey;autoIncrement:false"`
	Title        string
	Prompt       string `gorm:"not null"`
	Status       string `gorm:"index;not null;default:idle"`
	ResultHandle string
	ErrorMessage string
	Attempts     int
	UpdatedAt    time.Time
}

func (itemRow) TableName() string { return "batch_items" }

type resultRow struct {
	Handle    string `gorm:"primaryKey;size:36"`
	BatchID   string `gorm:"index;size:36"`
	ItemIndex int
	Content   []byte
	CreatedAt time.Time
}

func (resultRow) TableName() string { return "batch_results" }

// Open opens (creating if needed) the SQLite database at path. Use
// ":memory:" for a throwaway database.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across connections.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// BatchStore implements store.BatchStore using GORM.
type BatchStore struct {
	db *gorm.DB
}

var _ store.BatchStore = (*BatchStore)(nil)

// NewBatchStore creates a GORM-backed batch store.
func NewBatchStore(db *gorm.DB) *BatchStore {
	return &BatchStore{db: db}
}

// Migrate creates the necessary tables.
func (s *BatchStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&batchRow{}, &itemRow{}, &resultRow{})
}

// Close releases the underlying connection.
func (s *BatchStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateBatch stores the header and one idle item per request.
func (s *BatchStore) CreateBatch(ctx context.Context, b *store.Batch, requests []generation.Request) error {
	if err := b.Validate(requests); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batchRow{
			ID:        b.ID.String(),
			Name:      b.Name,
			Total:     b.Total,
			CreatedAt: b.CreatedAt,
			UpdatedAt: b.UpdatedAt,
		}).Error; err != nil {
			return err
		}

		items := make([]itemRow, len(requests))
		for i, req := range requests {
			items[i] = itemRow{
				BatchID:   b.ID.String(),
				ItemIndex: i,
				Title:     req.Title,
				Prompt:    req.Prompt,
				Status:    string(batch.StatusIdle),
				UpdatedAt: b.CreatedAt,
			}
		}
		return tx.Create(&items).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", mapError(err))
	}
	return nil
}

// GetBatch returns the batch header.
func (s *BatchStore) GetBatch(ctx context.Context, id uuid.UUID) (*store.Batch, error) {
	var row batchRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	parsed, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("stored batch has invalid id %q: %w", row.ID, err)
	}
	return &store.Batch{
		ID:        parsed,
		Name:      row.Name,
		Total:     row.Total,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// ListItems returns the items of a batch ordered by index.
func (s *BatchStore) ListItems(ctx context.Context, batchID uuid.UUID) ([]store.ItemRecord, error) {
	var rows []itemRow
	if err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID.String()).
		Order("item_index ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list batch items: %w", err)
	}

	records := make([]store.ItemRecord, len(rows))
	for i, row := range rows {
		status, err := batch.ParseStatus(row.Status)
		if err != nil {
			return nil, fmt.Errorf("batch item %d: %w", row.ItemIndex, err)
		}
		records[i] = store.ItemRecord{
			Item: batch.Item{
				Index:        row.ItemIndex,
				Status:       status,
				ResultHandle: row.ResultHandle,
				Error:        row.ErrorMessage,
				Attempts:     row.Attempts,
				UpdatedAt:    row.UpdatedAt,
			},
			Request: generation.Request{Title: row.Title, Prompt: row.Prompt},
		}
	}
	return records, nil
}

// UpdateItem records the latest state of one item.
func (s *BatchStore) UpdateItem(ctx context.Context, batchID uuid.UUID, item batch.Item) error {
	updatedAt := item.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	result := s.db.WithContext(ctx).
		Model(&itemRow{}).
		Where("batch_id = ? AND item_index = ?", batchID.String(), item.Index).
		Updates(map[string]any{
			"status":        string(item.Status),
			"result_handle": item.ResultHandle,
			"error_message": item.Error,
			"attempts":      item.Attempts,
			"updated_at":    updatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update batch item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrItemNotFound
	}
	return nil
}

// SaveResult stores the final JSON of an item and returns its handle.
func (s *BatchStore) SaveResult(ctx context.Context, batchID uuid.UUID, index int, content json.RawMessage) (string, error) {
	row := resultRow{
		Handle:    uuid.NewString(),
		BatchID:   batchID.String(),
		ItemIndex: index,
		Content:   content,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to save result: %w", mapError(err))
	}
	return row.Handle, nil
}

// GetResult returns the JSON stored under handle.
func (s *BatchStore) GetResult(ctx context.Context, handle string) (json.RawMessage, error) {
	var row resultRow
	if err := s.db.WithContext(ctx).First(&row, "handle = ?", handle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return json.RawMessage(row.Content), nil
}

// ResetInterrupted returns Generating items to Idle.
func (s *BatchStore) ResetInterrupted(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&itemRow{}).
		Where("status = ?", string(batch.StatusGenerating)).
		Updates(map[string]any{
			"status":     string(batch.StatusIdle),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset interrupted items: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// LatestBatch returns the most recently created batch with the given name.
func (s *BatchStore) LatestBatch(ctx context.Context, name string) (*store.Batch, error) {
	var row batchRow
	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find batch %q: %w", name, err)
	}
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("stored batch has invalid id %q: %w", row.ID, err)
	}
	return s.GetBatch(ctx, id)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	return err
}
