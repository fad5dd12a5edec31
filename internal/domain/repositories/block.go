package repositories

import (
	"context"

	"github.com/google/uuid"

	"blockstore/internal/domain/models"
	"blockstore/internal/query"
)

// DepthUnbounded hydrates the entire connected subtree reachable through the
// block's root in one pass.
const DepthUnbounded = -1

// GetOptions controls fetch-by-id hydration.
type GetOptions struct {
	// Depth is the number of descendant levels to hydrate eagerly.
	// 0 returns just the node (children resolve lazily, one fetch each);
	// N > 0 prefetches N levels into a shared per-call cache;
	// DepthUnbounded loads the whole tree with a single root-scoped query.
	Depth int
	// IncludeTrashed makes trashed blocks visible to the fetch and the
	// hydration walk.
	IncludeTrashed bool
}

// MoveVersions carries the optimistic-concurrency preconditions for a move.
type MoveVersions struct {
	ExpectedBlockVersion     *int // nil skips the moved block's check
	ExpectedNewParentVersion int
	ExpectedOldParentVersion *int // nil skips the old parent's check
}

// BlockRepository persists and hydrates block trees.
//
// Structural mutations (SetChildren, ReorderChildren, MoveBlock, SetInTrash)
// are atomic per call: validation failures abort before any write. Get
// returns (nil, nil) when the block is absent or hidden by trash filtering.
type BlockRepository interface {
	GetBlock(ctx context.Context, id uuid.UUID, opts GetOptions) (*models.Block, error)
	QueryBlocks(ctx context.Context, q *query.BlockQuery) ([]*models.Block, error)

	// UpsertBlocks batch inserts-or-replaces by primary key with no
	// structural side effects and no version check (last write wins).
	UpsertBlocks(ctx context.Context, blocks []*models.Block) error

	// SetChildren replaces the parent's canonical child list verbatim,
	// reparenting new children and orphaning removed ones.
	SetChildren(ctx context.Context, parentID uuid.UUID, childrenIDs []uuid.UUID, expectedVersion int) error

	// ReorderChildren permutes the existing child list.
	ReorderChildren(ctx context.Context, parentID uuid.UUID, newOrder []uuid.UUID, expectedVersion int) error

	// MoveBlock reparents (or reorders) a block at a clamped index.
	MoveBlock(ctx context.Context, blockID, newParentID uuid.UUID, index int, versions MoveVersions) error

	// SetInTrash flips the soft-delete flag, optionally cascading over the
	// descendant closure of the given ids.
	SetInTrash(ctx context.Context, ids []uuid.UUID, inTrash bool, cascade bool) error
}

// RelationshipRepository persists the non-hierarchical edges between blocks.
type RelationshipRepository interface {
	// UpsertRelationships batch inserts edges; a conflicting
	// (source, target, rel_type) triple updates metadata and bumps the
	// stored version instead of erroring.
	UpsertRelationships(ctx context.Context, relationships []*models.Relationship) error

	// DeleteRelationships removes edges by composite key and reports
	// whether anything was removed.
	DeleteRelationships(ctx context.Context, keys []models.RelationshipKey) (bool, error)

	// GetRelationships returns a block's edges filtered by direction.
	// Unless includeTrashed is set, edges touching a trashed endpoint are
	// hidden.
	GetRelationships(ctx context.Context, blockID uuid.UUID, direction models.RelationshipDirection, includeTrashed bool) ([]*models.Relationship, error)
}
