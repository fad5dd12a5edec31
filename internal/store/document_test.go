package store

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockstore/internal/domain"
	"blockstore/internal/domain/models"
	"blockstore/internal/domain/repositories"
	"blockstore/internal/query"
)

// fakeBlockRepository keeps blocks in memory and records structural calls so
// facade tests can assert on the arguments the store forwards.
type fakeBlockRepository struct {
	blocks map[uuid.UUID]*models.Block

	setChildrenCalls []setChildrenCall
	moveCalls        []moveCall
	trashCalls       []trashCall
}

type setChildrenCall struct {
	parentID        uuid.UUID
	childrenIDs     []uuid.UUID
	expectedVersion int
}

type moveCall struct {
	blockID     uuid.UUID
	newParentID uuid.UUID
	index       int
	versions    repositories.MoveVersions
}

type trashCall struct {
	ids     []uuid.UUID
	inTrash bool
	cascade bool
}

func newFakeBlockRepository() *fakeBlockRepository {
	return &fakeBlockRepository{blocks: map[uuid.UUID]*models.Block{}}
}

func (f *fakeBlockRepository) GetBlock(ctx context.Context, id uuid.UUID, opts repositories.GetOptions) (*models.Block, error) {
	block, ok := f.blocks[id]
	if !ok {
		return nil, nil
	}
	return block, nil
}

func (f *fakeBlockRepository) QueryBlocks(ctx context.Context, q *query.BlockQuery) ([]*models.Block, error) {
	out := []*models.Block{}
	for _, block := range f.blocks {
		if q != nil && q.Where != nil && len(q.Where.Types) > 0 {
			match := false
			for _, t := range q.Where.Types {
				if block.Type == t {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, block)
		if q != nil && q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeBlockRepository) UpsertBlocks(ctx context.Context, blocks []*models.Block) error {
	for _, block := range blocks {
		f.blocks[block.ID] = block
	}
	return nil
}

func (f *fakeBlockRepository) SetChildren(ctx context.Context, parentID uuid.UUID, childrenIDs []uuid.UUID, expectedVersion int) error {
	f.setChildrenCalls = append(f.setChildrenCalls, setChildrenCall{parentID, childrenIDs, expectedVersion})
	parent, ok := f.blocks[parentID]
	if !ok {
		return &domain.NotFoundError{Kind: "parent", ID: parentID}
	}
	if parent.Version != expectedVersion {
		return &domain.VersionConflictError{ID: parentID, Expected: expectedVersion, Found: parent.Version}
	}
	updated := parent.WithChildrenIDs(childrenIDs).WithVersion(parent.Version + 1)
	f.blocks[parentID] = updated
	for _, childID := range childrenIDs {
		if child, ok := f.blocks[childID]; ok {
			f.blocks[childID] = child.WithParentID(&parentID)
		}
	}
	return nil
}

func (f *fakeBlockRepository) ReorderChildren(ctx context.Context, parentID uuid.UUID, newOrder []uuid.UUID, expectedVersion int) error {
	return f.SetChildren(ctx, parentID, newOrder, expectedVersion)
}

func (f *fakeBlockRepository) MoveBlock(ctx context.Context, blockID, newParentID uuid.UUID, index int, versions repositories.MoveVersions) error {
	f.moveCalls = append(f.moveCalls, moveCall{blockID, newParentID, index, versions})
	return nil
}

func (f *fakeBlockRepository) SetInTrash(ctx context.Context, ids []uuid.UUID, inTrash bool, cascade bool) error {
	f.trashCalls = append(f.trashCalls, trashCall{ids, inTrash, cascade})
	return nil
}

// fakeTxManager runs the function directly; the facade's transactional
// composition is exercised against a real database elsewhere.
type fakeTxManager struct{}

func (fakeTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error { return fn(ctx) }

type fakeRelationshipRepository struct {
	upserted []*models.Relationship
	deleted  []models.RelationshipKey
}

func (f *fakeRelationshipRepository) UpsertRelationships(ctx context.Context, relationships []*models.Relationship) error {
	f.upserted = append(f.upserted, relationships...)
	return nil
}

func (f *fakeRelationshipRepository) DeleteRelationships(ctx context.Context, keys []models.RelationshipKey) (bool, error) {
	f.deleted = append(f.deleted, keys...)
	return len(keys) > 0, nil
}

func (f *fakeRelationshipRepository) GetRelationships(ctx context.Context, blockID uuid.UUID, direction models.RelationshipDirection, includeTrashed bool) ([]*models.Relationship, error) {
	return []*models.Relationship{}, nil
}

func newTestStore() (*DocumentStore, *fakeBlockRepository, *fakeRelationshipRepository) {
	blocks := newFakeBlockRepository()
	relationships := &fakeRelationshipRepository{}
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	return NewDocumentStore(blocks, relationships, fakeTxManager{}, logger), blocks, relationships
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func makeBlock(t models.BlockType, parentID *uuid.UUID, rootID uuid.UUID) *models.Block {
	id := uuid.New()
	if rootID == uuid.Nil {
		rootID = id
	}
	return &models.Block{
		ID:             id,
		Type:           t,
		ParentID:       parentID,
		RootID:         rootID,
		ChildrenIDs:    []uuid.UUID{},
		CreatedTime:    time.Now().UTC(),
		LastEditedTime: time.Now().UTC(),
		Properties:     map[string]any{},
		Metadata:       map[string]any{},
	}
}

func TestGetRootTree(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	para := makeBlock(models.BlockTypeParagraph, nil, uuid.Nil)
	repo.blocks[doc.ID] = doc
	repo.blocks[para.ID] = para

	got, err := s.GetRootTree(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	_, err = s.GetRootTree(ctx, para.ID, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDocumentStore))

	_, err = s.GetRootTree(ctx, uuid.New(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDocumentStore))
}

func TestGetRootTree_DatasetRoot(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	dataset := makeBlock(models.BlockTypeDataset, nil, uuid.Nil)
	repo.blocks[dataset.ID] = dataset

	got, err := s.GetRootTree(ctx, dataset.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, dataset.ID, got.ID)
}

func TestSetChildren_VersionAutoFill(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	parent := makeBlock(models.BlockTypeDocument, nil, uuid.Nil).WithVersion(4)
	child := makeBlock(models.BlockTypeParagraph, nil, parent.RootID)
	repo.blocks[parent.ID] = parent
	repo.blocks[child.ID] = child

	require.NoError(t, s.SetChildren(ctx, parent.ID, []uuid.UUID{child.ID}, nil))
	require.Len(t, repo.setChildrenCalls, 1)
	assert.Equal(t, 4, repo.setChildrenCalls[0].expectedVersion)

	// Explicit version passes through untouched.
	five := 5
	require.NoError(t, s.SetChildren(ctx, parent.ID, []uuid.UUID{child.ID}, &five))
	assert.Equal(t, 5, repo.setChildrenCalls[1].expectedVersion)
}

func TestMoveBlock_VersionAutoFill(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	oldParent := makeBlock(models.BlockTypeDocument, nil, uuid.Nil).WithVersion(2)
	newParent := makeBlock(models.BlockTypeHeading, nil, oldParent.RootID).WithVersion(3)
	block := makeBlock(models.BlockTypeParagraph, &oldParent.ID, oldParent.RootID).WithVersion(1)
	repo.blocks[oldParent.ID] = oldParent
	repo.blocks[newParent.ID] = newParent
	repo.blocks[block.ID] = block

	require.NoError(t, s.MoveBlock(ctx, block.ID, newParent.ID, 0, repositories.MoveVersions{}))
	require.Len(t, repo.moveCalls, 1)

	call := repo.moveCalls[0]
	require.NotNil(t, call.versions.ExpectedBlockVersion)
	assert.Equal(t, 1, *call.versions.ExpectedBlockVersion)
	assert.Equal(t, 3, call.versions.ExpectedNewParentVersion)
	require.NotNil(t, call.versions.ExpectedOldParentVersion)
	assert.Equal(t, 2, *call.versions.ExpectedOldParentVersion)
}

func TestUpsertBlocks_PlainSave(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	require.NoError(t, s.UpsertBlocks(ctx, []*models.Block{doc}, UpsertOptions{}))
	assert.Contains(t, repo.blocks, doc.ID)
	assert.Empty(t, repo.setChildrenCalls)
}

func TestUpsertBlocks_AttachAppends(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	workspace := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	repo.blocks[workspace.ID] = workspace

	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	require.NoError(t, s.UpsertBlocks(ctx, []*models.Block{doc}, UpsertOptions{ParentID: &workspace.ID}))

	updated := repo.blocks[workspace.ID]
	require.Len(t, updated.ChildrenIDs, 1)
	assert.Equal(t, doc.ID, updated.ChildrenIDs[0])

	saved := repo.blocks[doc.ID]
	require.NotNil(t, saved.ParentID)
	assert.Equal(t, workspace.ID, *saved.ParentID)
}

func TestUpsertBlocks_InsertAfter(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	para1 := makeBlock(models.BlockTypeParagraph, &doc.ID, doc.RootID)
	para2 := makeBlock(models.BlockTypeParagraph, &doc.ID, doc.RootID)
	doc.ChildrenIDs = []uuid.UUID{para1.ID, para2.ID}
	repo.blocks[doc.ID] = doc
	repo.blocks[para1.ID] = para1
	repo.blocks[para2.ID] = para2

	inserted := makeBlock(models.BlockTypeParagraph, nil, doc.RootID)
	require.NoError(t, s.UpsertBlocks(ctx, []*models.Block{inserted}, UpsertOptions{
		ParentID:    &doc.ID,
		InsertAfter: &para1.ID,
	}))

	updated := repo.blocks[doc.ID]
	require.Len(t, updated.ChildrenIDs, 3)
	assert.Equal(t, []uuid.UUID{para1.ID, inserted.ID, para2.ID}, updated.ChildrenIDs)
}

func TestUpsertBlocks_InsertAfterMissingSibling(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	repo.blocks[doc.ID] = doc

	stranger := uuid.New()
	para := makeBlock(models.BlockTypeParagraph, nil, doc.RootID)
	err := s.UpsertBlocks(ctx, []*models.Block{para}, UpsertOptions{
		ParentID:    &doc.ID,
		InsertAfter: &stranger,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDocumentStore))
}

func TestUpsertBlocks_TopLevelOnly(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	workspace := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	repo.blocks[workspace.ID] = workspace

	// A document with nested content: only the document is top level.
	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	heading := makeBlock(models.BlockTypeHeading, &doc.ID, doc.RootID)
	para := makeBlock(models.BlockTypeParagraph, &heading.ID, doc.RootID)
	doc.ChildrenIDs = []uuid.UUID{heading.ID}
	heading.ChildrenIDs = []uuid.UUID{para.ID}

	require.NoError(t, s.UpsertBlocks(ctx, []*models.Block{doc, heading, para}, UpsertOptions{
		ParentID: &workspace.ID,
	}))

	updated := repo.blocks[workspace.ID]
	assert.Equal(t, []uuid.UUID{doc.ID}, updated.ChildrenIDs)

	// Nested blocks keep their in-batch parents.
	savedHeading := repo.blocks[heading.ID]
	require.NotNil(t, savedHeading.ParentID)
	assert.Equal(t, doc.ID, *savedHeading.ParentID)
}

func TestUpsertBlocks_AllBlocks(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	repo.blocks[doc.ID] = doc

	heading := makeBlock(models.BlockTypeHeading, nil, doc.RootID)
	para := makeBlock(models.BlockTypeParagraph, &heading.ID, doc.RootID)

	require.NoError(t, s.UpsertBlocks(ctx, []*models.Block{heading, para}, UpsertOptions{
		ParentID:  &doc.ID,
		AllBlocks: true,
	}))

	updated := repo.blocks[doc.ID]
	assert.ElementsMatch(t, []uuid.UUID{heading.ID, para.ID}, updated.ChildrenIDs)
}

func TestUpsertBlocks_ExistingChildNotDuplicated(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	para := makeBlock(models.BlockTypeParagraph, &doc.ID, doc.RootID)
	doc.ChildrenIDs = []uuid.UUID{para.ID}
	repo.blocks[doc.ID] = doc
	repo.blocks[para.ID] = para

	require.NoError(t, s.UpsertBlocks(ctx, []*models.Block{para}, UpsertOptions{ParentID: &doc.ID}))

	updated := repo.blocks[doc.ID]
	assert.Equal(t, []uuid.UUID{para.ID}, updated.ChildrenIDs)
}

func TestUpsertBlocks_InsertAfterWithoutParent(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore()

	after := uuid.New()
	para := makeBlock(models.BlockTypeParagraph, nil, uuid.Nil)
	err := s.UpsertBlocks(ctx, []*models.Block{para}, UpsertOptions{InsertAfter: &after})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDocumentStore))
}

func TestSetInTrash_ForcesCascade(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	id := uuid.New()
	require.NoError(t, s.SetInTrash(ctx, []uuid.UUID{id}, true))
	require.Len(t, repo.trashCalls, 1)
	assert.True(t, repo.trashCalls[0].cascade)
	assert.True(t, repo.trashCalls[0].inTrash)

	require.NoError(t, s.SetInTrash(ctx, []uuid.UUID{id}, false))
	assert.True(t, repo.trashCalls[1].cascade)
	assert.False(t, repo.trashCalls[1].inTrash)
}

func TestListDocuments(t *testing.T) {
	ctx := context.Background()
	s, repo, _ := newTestStore()

	repo.blocks[uuid.New()] = makeBlock(models.BlockTypeParagraph, nil, uuid.Nil)
	doc := makeBlock(models.BlockTypeDocument, nil, uuid.Nil)
	repo.blocks[doc.ID] = doc

	docs, err := s.ListDocuments(ctx, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)
}

func TestRelationshipPassThroughs(t *testing.T) {
	ctx := context.Background()
	s, _, rels := newTestStore()

	workspaceID := uuid.New()
	rel := &models.Relationship{
		ID:            uuid.New(),
		WorkspaceID:   &workspaceID,
		SourceBlockID: uuid.New(),
		TargetBlockID: uuid.New(),
		RelType:       "references",
	}
	require.NoError(t, s.SaveRelationships(ctx, []*models.Relationship{rel}))
	require.Len(t, rels.upserted, 1)

	removed, err := s.DeleteRelationships(ctx, []models.RelationshipKey{rel.Key()})
	require.NoError(t, err)
	assert.True(t, removed)
	require.Len(t, rels.deleted, 1)
}
