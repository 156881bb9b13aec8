//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/phrazzld/scry-genpipe/internal/batch"
	"github.com/phrazzld/scry-genpipe/internal/generation"
	"github.com/phrazzld/scry-genpipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBatchStore_Integration runs against the database named by
// GENPIPE_TEST_DATABASE_URL.
func TestBatchStore_Integration(t *testing.T) {
	url := os.Getenv("GENPIPE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("GENPIPE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db, logger))

	s := NewBatchStore(db, logger)
	b := store.NewBatch("integration", 3)
	reqs := []generation.Request{{Prompt: "a"}, {Prompt: "b"}, {Prompt: "c"}}
	require.NoError(t, s.CreateBatch(ctx, b, reqs))
	t.Cleanup(func() { _, _ = db.ExecContext(ctx, "DELETE FROM batches WHERE id = $1", b.ID) })

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "integration", got.Name)

	handle, err := s.SaveResult(ctx, b.ID, 1, json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	require.NoError(t, s.UpdateItem(ctx, b.ID, batch.Item{Index: 1, Status: batch.StatusDone, ResultHandle: handle, Attempts: 1}))

	records, err := s.ListItems(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, batch.StatusIdle, records[0].Status)
	assert.Equal(t, batch.StatusDone, records[1].Status)
	assert.Equal(t, handle, records[1].ResultHandle)

	content, err := s.GetResult(ctx, handle)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(content))

	assert.ErrorIs(t, s.UpdateItem(ctx, b.ID, batch.Item{Index: 9, Status: batch.StatusDone}), store.ErrItemNotFound)
}
