// Package store provides a thin orchestration layer over the block and
// relationship repositories, coordinating multi-entity actions such as
// attaching freshly saved blocks to a parent in one transaction.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"blockstore/internal/domain"
	"blockstore/internal/domain/models"
	"blockstore/internal/domain/repositories"
	"blockstore/internal/query"
)

// rootTypes are the block types allowed to anchor a tree handed out by
// GetRootTree.
var rootTypes = map[models.BlockType]struct{}{
	models.BlockTypeDocument: {},
	models.BlockTypeDataset:  {},
}

// UpsertOptions controls how saved blocks are attached to an existing parent.
type UpsertOptions struct {
	// ParentID, when set, attaches saved top-level blocks as children of
	// this parent in the same transaction as the save.
	ParentID *uuid.UUID
	// InsertAfter positions attached blocks directly after this existing
	// child instead of appending. Requires ParentID.
	InsertAfter *uuid.UUID
	// AllBlocks attaches every block in the batch instead of only the
	// batch's top-level blocks (those whose parent is not another batch
	// member).
	AllBlocks bool
}

// DocumentStore composes repository primitives behind one façade so higher
// layers depend on a single type. It adds version auto-fill on top of the
// repository's explicit optimistic concurrency; the convenience reads a
// current version outside any lock, so concurrent writers can still surface
// a version conflict from the repository.
type DocumentStore struct {
	blocks        repositories.BlockRepository
	relationships repositories.RelationshipRepository
	tm            repositories.TransactionManager
	logger        *slog.Logger
}

// NewDocumentStore creates a new document store
func NewDocumentStore(
	blocks repositories.BlockRepository,
	relationships repositories.RelationshipRepository,
	tm repositories.TransactionManager,
	logger *slog.Logger,
) *DocumentStore {
	return &DocumentStore{
		blocks:        blocks,
		relationships: relationships,
		tm:            tm,
		logger:        logger,
	}
}

// GetRootTree returns the tree anchored at rootID hydrated to the given
// depth. Fails when the block is missing or is not a root type (document or
// dataset).
func (s *DocumentStore) GetRootTree(ctx context.Context, rootID uuid.UUID, depth int) (*models.Block, error) {
	root, err := s.requireBlock(ctx, rootID, depth)
	if err != nil {
		return nil, err
	}
	if _, ok := rootTypes[root.Type]; !ok {
		return nil, &domain.DocumentStoreError{Message: fmt.Sprintf("block %s is not a document root", rootID)}
	}
	return root, nil
}

// GetBlock fetches an individual block via the store. Returns (nil, nil)
// when absent.
func (s *DocumentStore) GetBlock(ctx context.Context, id uuid.UUID, opts repositories.GetOptions) (*models.Block, error) {
	return s.blocks.GetBlock(ctx, id, opts)
}

// ListDocuments returns canonical documents. A limit of 0 means no limit.
func (s *DocumentStore) ListDocuments(ctx context.Context, limit int) ([]*models.Block, error) {
	return s.blocks.QueryBlocks(ctx, &query.BlockQuery{
		Where: &query.WhereClause{Types: []models.BlockType{models.BlockTypeDocument}},
		Limit: limit,
	})
}

// QueryBlocks delegates block queries so higher layers only depend on the
// store.
func (s *DocumentStore) QueryBlocks(ctx context.Context, q *query.BlockQuery) ([]*models.Block, error) {
	return s.blocks.QueryBlocks(ctx, q)
}

// SaveBlocks persists a collection of blocks with no structural side
// effects.
func (s *DocumentStore) SaveBlocks(ctx context.Context, blocks []*models.Block) error {
	if len(blocks) == 0 {
		return nil
	}
	return s.blocks.UpsertBlocks(ctx, blocks)
}

// UpsertBlocks persists blocks and, when opts.ParentID is set, attaches them
// to that parent atomically: the save and the parent's child-list update
// commit together or not at all.
//
// By default only the batch's top-level blocks are attached - blocks whose
// parent is another member of the batch keep their place in the batch's own
// hierarchy. opts.AllBlocks attaches every batch member instead.
func (s *DocumentStore) UpsertBlocks(ctx context.Context, blocks []*models.Block, opts UpsertOptions) error {
	if len(blocks) == 0 {
		return nil
	}
	if opts.ParentID == nil {
		if opts.InsertAfter != nil {
			return &domain.DocumentStoreError{Message: "insert_after requires a parent"}
		}
		return s.blocks.UpsertBlocks(ctx, blocks)
	}

	parentID := *opts.ParentID

	attach := blocks
	if !opts.AllBlocks {
		attach = topLevelBlocks(blocks)
	}

	return s.tm.ExecTx(ctx, func(txCtx context.Context) error {
		parent, err := s.requireBlock(txCtx, parentID, 0)
		if err != nil {
			return err
		}

		// Reparent attached batch members before saving so the stored
		// rows already point at the parent.
		toSave := make([]*models.Block, 0, len(blocks))
		attached := make(map[uuid.UUID]struct{}, len(attach))
		for _, block := range attach {
			attached[block.ID] = struct{}{}
		}
		for _, block := range blocks {
			if _, ok := attached[block.ID]; ok {
				toSave = append(toSave, block.WithParentID(&parentID))
			} else {
				toSave = append(toSave, block)
			}
		}

		if err := s.blocks.UpsertBlocks(txCtx, toSave); err != nil {
			return err
		}

		newChildren, err := spliceChildren(parent.ChildrenIDs, attach, opts.InsertAfter)
		if err != nil {
			return err
		}

		return s.blocks.SetChildren(txCtx, parentID, newChildren, parent.Version)
	})
}

// SetChildren replaces a parent's children, auto-filling the expected
// version from the current row when the caller passes nil.
func (s *DocumentStore) SetChildren(ctx context.Context, parentID uuid.UUID, childrenIDs []uuid.UUID, expectedVersion *int) error {
	version, err := s.resolveVersion(ctx, parentID, expectedVersion)
	if err != nil {
		return err
	}
	return s.blocks.SetChildren(ctx, parentID, childrenIDs, version)
}

// ReorderChildren permutes a parent's children with version auto-fill.
func (s *DocumentStore) ReorderChildren(ctx context.Context, parentID uuid.UUID, newOrder []uuid.UUID, expectedVersion *int) error {
	version, err := s.resolveVersion(ctx, parentID, expectedVersion)
	if err != nil {
		return err
	}
	return s.blocks.ReorderChildren(ctx, parentID, newOrder, version)
}

// MoveBlock moves a block under a new parent, auto-filling any omitted
// version preconditions from the current rows.
func (s *DocumentStore) MoveBlock(ctx context.Context, blockID, newParentID uuid.UUID, index int, versions repositories.MoveVersions) error {
	block, err := s.requireBlock(ctx, blockID, 0)
	if err != nil {
		return err
	}
	newParent, err := s.requireBlock(ctx, newParentID, 0)
	if err != nil {
		return err
	}

	resolved := versions
	if resolved.ExpectedBlockVersion == nil {
		v := block.Version
		resolved.ExpectedBlockVersion = &v
	}
	if resolved.ExpectedNewParentVersion == 0 {
		resolved.ExpectedNewParentVersion = newParent.Version
	}
	if resolved.ExpectedOldParentVersion == nil && block.ParentID != nil {
		oldParent, err := s.requireBlock(ctx, *block.ParentID, 0)
		if err != nil {
			return err
		}
		v := oldParent.Version
		resolved.ExpectedOldParentVersion = &v
	}

	return s.blocks.MoveBlock(ctx, blockID, newParentID, index, resolved)
}

// SetInTrash moves blocks in or out of the trash. Cascade is always on at
// the store level: trashing a block takes its whole subtree, restore clears
// the flag over the same closure.
func (s *DocumentStore) SetInTrash(ctx context.Context, ids []uuid.UUID, inTrash bool) error {
	return s.blocks.SetInTrash(ctx, ids, inTrash, true)
}

// SaveRelationships persists edges between blocks, idempotent per
// (source, target, rel_type) triple.
func (s *DocumentStore) SaveRelationships(ctx context.Context, relationships []*models.Relationship) error {
	if len(relationships) == 0 {
		return nil
	}
	return s.relationships.UpsertRelationships(ctx, relationships)
}

// Relationships returns a block's edges filtered by direction.
func (s *DocumentStore) Relationships(ctx context.Context, blockID uuid.UUID, direction models.RelationshipDirection, includeTrashed bool) ([]*models.Relationship, error) {
	return s.relationships.GetRelationships(ctx, blockID, direction, includeTrashed)
}

// DeleteRelationships removes edges by composite key and reports whether
// anything was removed.
func (s *DocumentStore) DeleteRelationships(ctx context.Context, keys []models.RelationshipKey) (bool, error) {
	return s.relationships.DeleteRelationships(ctx, keys)
}

func (s *DocumentStore) resolveVersion(ctx context.Context, blockID uuid.UUID, expected *int) (int, error) {
	if expected != nil {
		return *expected, nil
	}
	block, err := s.requireBlock(ctx, blockID, 0)
	if err != nil {
		return 0, err
	}
	return block.Version, nil
}

func (s *DocumentStore) requireBlock(ctx context.Context, blockID uuid.UUID, depth int) (*models.Block, error) {
	block, err := s.blocks.GetBlock(ctx, blockID, repositories.GetOptions{Depth: depth})
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, &domain.DocumentStoreError{Message: fmt.Sprintf("block %s does not exist", blockID)}
	}
	return block, nil
}

// topLevelBlocks returns the batch members whose parent is not another
// member of the same batch.
func topLevelBlocks(blocks []*models.Block) []*models.Block {
	batch := make(map[uuid.UUID]struct{}, len(blocks))
	for _, block := range blocks {
		batch[block.ID] = struct{}{}
	}

	top := make([]*models.Block, 0, len(blocks))
	for _, block := range blocks {
		if block.ParentID != nil {
			if _, inBatch := batch[*block.ParentID]; inBatch {
				continue
			}
		}
		top = append(top, block)
	}
	return top
}

// spliceChildren inserts the attached blocks into the existing child list,
// after insertAfter when given, appended otherwise. Blocks already present
// keep their position.
func spliceChildren(existing []uuid.UUID, attach []*models.Block, insertAfter *uuid.UUID) ([]uuid.UUID, error) {
	present := make(map[uuid.UUID]struct{}, len(existing))
	for _, id := range existing {
		present[id] = struct{}{}
	}

	incoming := make([]uuid.UUID, 0, len(attach))
	for _, block := range attach {
		if _, ok := present[block.ID]; ok {
			continue
		}
		incoming = append(incoming, block.ID)
	}

	if insertAfter == nil {
		return append(append([]uuid.UUID(nil), existing...), incoming...), nil
	}

	position := -1
	for i, id := range existing {
		if id == *insertAfter {
			position = i
			break
		}
	}
	if position == -1 {
		return nil, &domain.DocumentStoreError{
			Message: fmt.Sprintf("insert_after block %s is not a child of the parent", *insertAfter),
		}
	}

	spliced := make([]uuid.UUID, 0, len(existing)+len(incoming))
	spliced = append(spliced, existing[:position+1]...)
	spliced = append(spliced, incoming...)
	spliced = append(spliced, existing[position+1:]...)
	return spliced, nil
}
