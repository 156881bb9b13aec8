package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/store"
)

// BatchStore implements store.BatchStore using PostgreSQL.
type BatchStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.BatchStore = (*BatchStore)(nil)

// NewBatchStore creates a BatchStore. db is usually a *sql.DB; pass a
// *sql.Tx (or use WithTx) to run the store inside a caller's transaction.
func NewBatchStore(db store.DBTX, logger *slog.Logger) *BatchStore {
	return &BatchStore{
		db:     db,
		logger: logger.With("component", "postgres_batch_store"),
	}
}

// WithTx returns a store that runs every statement on tx.
func (s *BatchStore) WithTx(tx *sql.Tx) *BatchStore {
	return &BatchStore{db: tx, logger: s.logger}
}

// CreateBatch stores the header and one idle item per request. On a plain
// connection both are written in one transaction; on a store bound to a
// transaction they join it.
func (s *BatchStore) CreateBatch(ctx context.Context, b *store.Batch, requests []generation.Request) error {
	if err := b.Validate(requests); err != nil {
		return err
	}

	var err error
	if db, ok := s.db.(*sql.DB); ok {
		err = store.RunInTransaction(ctx, db, s.logger, func(ctx context.Context, tx *sql.Tx) error {
			return s.WithTx(tx).insertBatch(ctx, b, requests)
		})
	} else {
		err = s.insertBatch(ctx, b, requests)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to create batch", "batch_id", b.ID, "error", err)
		return err
	}
	return nil
}

func (s *BatchStore) insertBatch(ctx context.Context, b *store.Batch, requests []generation.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, name, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Name, b.Total, b.CreatedAt, b.UpdatedAt)
	if IsUniqueViolation(err) {
		return store.NewStoreError("batch", "create", fmt.Sprintf("batch %s already exists", b.ID), store.ErrDuplicate)
	}
	if err != nil {
		return store.NewStoreError("batch", "create", "failed to insert batch", MapError(err))
	}

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO batch_items (batch_id, item_index, title, prompt, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return store.NewStoreError("batch item", "create", "failed to prepare insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, req := range requests {
		if _, err := stmt.ExecContext(ctx, b.ID, i, req.Title, req.Prompt, string(batch.StatusIdle), b.CreatedAt); err != nil {
			return store.NewStoreError("batch item", "create", fmt.Sprintf("failed to insert item %d", i), MapError(err))
		}
	}
	return nil
}

// GetBatch returns the batch header.
func (s *BatchStore) GetBatch(ctx context.Context, id uuid.UUID) (*store.Batch, error) {
	var b store.Batch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, total, created_at, updated_at
		FROM batches
		WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Total, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrBatchNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("batch", "get", "query failed", MapError(err))
	}
	return &b, nil
}

// ListItems returns the items of a batch ordered by index.
func (s *BatchStore) ListItems(ctx context.Context, batchID uuid.UUID) ([]store.ItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_index, title, prompt, status, result_handle, error_message, attempts, updated_at
		FROM batch_items
		WHERE batch_id = $1
		ORDER BY item_index`, batchID)
	if err != nil {
		return nil, store.NewStoreError("batch item", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var records []store.ItemRecord
	for rows.Next() {
		var (
			r      store.ItemRecord
			status string
		)
		if err := rows.Scan(&r.Index, &r.Request.Title, &r.Request.Prompt, &status,
			&r.ResultHandle, &r.Error, &r.Attempts, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch item: %w", err)
		}
		if r.Status, err = batch.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("batch item %d: %w", r.Index, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch items: %w", err)
	}
	return records, nil
}

// UpdateItem records the latest state of one item.
func (s *BatchStore) UpdateItem(ctx context.Context, batchID uuid.UUID, item batch.Item) error {
	updatedAt := item.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE batch_items
		SET status = $1, result_handle = $2, error_message = $3, attempts = $4, updated_at = $5
		WHERE batch_id = $6 AND item_index = $7`,
		string(item.Status), item.ResultHandle, item.Error, item.Attempts, updatedAt.UTC(), batchID, item.Index)
	if err != nil {
		return store.NewStoreError("batch item", "update", fmt.Sprintf("failed to update item %d", item.Index), MapError(err))
	}
	return CheckRowsAffected(result, store.ErrItemNotFound)
}

// SaveResult stores the final JSON of an item and returns its handle.
func (s *BatchStore) SaveResult(ctx context.Context, batchID uuid.UUID, index int, content json.RawMessage) (string, error) {
	handle := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_results (handle, batch_id, item_index, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		handle, batchID, index, []byte(content), time.Now().UTC())
	if err != nil {
		return "", store.NewStoreError("result", "create", "failed to insert result", MapError(err))
	}
	return handle.String(), nil
}

// GetResult returns the JSON stored under handle.
func (s *BatchStore) GetResult(ctx context.Context, handle string) (json.RawMessage, error) {
	id, err := uuid.Parse(handle)
	if err != nil {
		return nil, store.ErrResultNotFound
	}

	var content []byte
	err = s.db.QueryRowContext(ctx, `SELECT content FROM batch_results WHERE handle = $1`, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrResultNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("result", "get", "query failed", MapError(err))
	}
	return json.RawMessage(content), nil
}

// ResetInterrupted returns Generating items to Idle.
func (s *BatchStore) ResetInterrupted(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE batch_items
		SET status = $1, updated_at = $2
		WHERE status = $3`,
		string(batch.StatusIdle), time.Now().UTC(), string(batch.StatusGenerating))
	if err != nil {
		return 0, store.NewStoreError("batch item", "reset", "failed to reset interrupted items", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reset count: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "reset interrupted batch items", "count", n)
	}
	return n, nil
}
