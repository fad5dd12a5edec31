package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockstore/internal/domain/models"
	"blockstore/internal/domain/repositories"
	"blockstore/internal/repository/postgres"
)

// setupTestStore wires a DocumentStore against a real database. Skipped unless
// BLOCKSTORE_TEST_DATABASE_URL points at a reachable Postgres instance.
func setupTestStore(t *testing.T) *DocumentStore {
	t.Helper()

	databaseURL := os.Getenv("BLOCKSTORE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("BLOCKSTORE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, databaseURL)
	require.NoError(t, err)

	tables := postgres.NewTableNames(fmt.Sprintf("s%d_", time.Now().UnixNano()))
	require.NoError(t, postgres.CreateSchema(ctx, pool, tables))

	t.Cleanup(func() {
		_ = postgres.DropSchema(context.Background(), pool, tables)
		pool.Close()
	})

	cfg := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	return NewDocumentStore(
		postgres.NewBlockRepository(cfg),
		postgres.NewRelationshipRepository(cfg),
		postgres.NewTransactionManager(pool),
		cfg.Logger,
	)
}

func newStoredBlock(blockType models.BlockType) *models.Block {
	id := uuid.New()
	now := time.Now().UTC()
	return &models.Block{
		ID:             id,
		Type:           blockType,
		RootID:         id,
		ChildrenIDs:    []uuid.UUID{},
		CreatedTime:    now,
		LastEditedTime: now,
		Properties:     map[string]any{},
		Metadata:       map[string]any{},
	}
}

func TestUpsertBlocks_AttachDocumentUnderWorkspace(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	workspace := newStoredBlock(models.BlockTypeDocument)
	require.NoError(t, store.SaveBlocks(ctx, []*models.Block{workspace}))

	// A freshly created document anchors its own tree; attaching it under the
	// workspace must reparent it without rewriting its root.
	doc := newStoredBlock(models.BlockTypeDocument)
	require.NoError(t, store.UpsertBlocks(ctx, []*models.Block{doc}, UpsertOptions{ParentID: &workspace.ID}))

	parent, err := store.GetBlock(ctx, workspace.ID, repositories.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, []uuid.UUID{doc.ID}, parent.ChildrenIDs)

	attached, err := store.GetBlock(ctx, doc.ID, repositories.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, attached)
	require.NotNil(t, attached.ParentID)
	assert.Equal(t, workspace.ID, *attached.ParentID)
	assert.Equal(t, doc.ID, attached.RootID)
}

func TestUpsertBlocks_InsertAfterSibling(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	workspace := newStoredBlock(models.BlockTypeDocument)
	first := newStoredBlock(models.BlockTypeDocument)
	require.NoError(t, store.SaveBlocks(ctx, []*models.Block{workspace}))
	require.NoError(t, store.UpsertBlocks(ctx, []*models.Block{first}, UpsertOptions{ParentID: &workspace.ID}))

	second := newStoredBlock(models.BlockTypeDocument)
	third := newStoredBlock(models.BlockTypeDocument)
	require.NoError(t, store.UpsertBlocks(ctx, []*models.Block{third}, UpsertOptions{ParentID: &workspace.ID}))
	require.NoError(t, store.UpsertBlocks(ctx, []*models.Block{second}, UpsertOptions{
		ParentID:    &workspace.ID,
		InsertAfter: &first.ID,
	}))

	parent, err := store.GetBlock(ctx, workspace.ID, repositories.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID, third.ID}, parent.ChildrenIDs)
}
