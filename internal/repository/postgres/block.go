package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"blockstore/internal/domain"
	"blockstore/internal/domain/models"
	"blockstore/internal/domain/repositories"
	"blockstore/internal/query"
)

// PostgresBlockRepository implements the BlockRepository interface
type PostgresBlockRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
	tm     repositories.TransactionManager
}

// NewBlockRepository creates a new block repository
func NewBlockRepository(config *RepositoryConfig) repositories.BlockRepository {
	return &PostgresBlockRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
		tm:     NewTransactionManager(config.Pool),
	}
}

// blockRow mirrors one stored row before uuid parsing.
type blockRow struct {
	ID                string
	Type              string
	ParentID          *string
	RootID            string
	ChildrenIDs       []string
	WorkspaceID       *string
	InTrash           bool
	Version           int
	CreatedTime       time.Time
	LastEditedTime    time.Time
	CreatedBy         *string
	LastEditedBy      *string
	Properties        map[string]any
	Metadata          map[string]any
	Content           *models.Content
	PropertiesVersion *int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlockRow(scanner rowScanner) (*blockRow, error) {
	var row blockRow
	err := scanner.Scan(
		&row.ID,
		&row.Type,
		&row.ParentID,
		&row.RootID,
		&row.ChildrenIDs,
		&row.WorkspaceID,
		&row.InTrash,
		&row.Version,
		&row.CreatedTime,
		&row.LastEditedTime,
		&row.CreatedBy,
		&row.LastEditedBy,
		&row.Properties,
		&row.Metadata,
		&row.Content,
		&row.PropertiesVersion,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (row *blockRow) toModel() (*models.Block, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("parse block id %q: %w", row.ID, err)
	}
	rootID, err := uuid.Parse(row.RootID)
	if err != nil {
		return nil, fmt.Errorf("parse root id %q: %w", row.RootID, err)
	}

	block := &models.Block{
		ID:                id,
		Type:              models.BlockType(row.Type),
		RootID:            rootID,
		InTrash:           row.InTrash,
		Version:           row.Version,
		CreatedTime:       row.CreatedTime,
		LastEditedTime:    row.LastEditedTime,
		Properties:        row.Properties,
		Metadata:          row.Metadata,
		Content:           row.Content,
		PropertiesVersion: row.PropertiesVersion,
	}
	if block.Properties == nil {
		block.Properties = map[string]any{}
	}
	if block.Metadata == nil {
		block.Metadata = map[string]any{}
	}

	if block.ParentID, err = parseOptionalID(row.ParentID, "parent id"); err != nil {
		return nil, err
	}
	if block.WorkspaceID, err = parseOptionalID(row.WorkspaceID, "workspace id"); err != nil {
		return nil, err
	}
	if block.CreatedBy, err = parseOptionalID(row.CreatedBy, "created_by"); err != nil {
		return nil, err
	}
	if block.LastEditedBy, err = parseOptionalID(row.LastEditedBy, "last_edited_by"); err != nil {
		return nil, err
	}

	block.ChildrenIDs = make([]uuid.UUID, 0, len(row.ChildrenIDs))
	for _, childID := range row.ChildrenIDs {
		parsed, err := uuid.Parse(childID)
		if err != nil {
			return nil, fmt.Errorf("parse child id %q: %w", childID, err)
		}
		block.ChildrenIDs = append(block.ChildrenIDs, parsed)
	}

	return block, nil
}

func parseOptionalID(raw *string, what string) (*uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	parsed, err := uuid.Parse(*raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s %q: %w", what, *raw, err)
	}
	return &parsed, nil
}

func optionalIDString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

// GetBlock fetches a block by id with optional depth prefetch.
// Returns (nil, nil) when the block does not exist or is hidden by trash
// filtering.
func (r *PostgresBlockRepository) GetBlock(ctx context.Context, id uuid.UUID, opts repositories.GetOptions) (*models.Block, error) {
	if opts.Depth < repositories.DepthUnbounded {
		return nil, fmt.Errorf("depth must be non-negative or DepthUnbounded, got %d", opts.Depth)
	}

	row, err := r.fetchRow(ctx, id.String(), opts.IncludeTrashed)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	switch {
	case opts.Depth == 0:
		block, err := row.toModel()
		if err != nil {
			return nil, err
		}
		return r.withLazyResolvers(block), nil

	case opts.Depth == repositories.DepthUnbounded:
		return r.hydrateFullRoot(ctx, row, opts.IncludeTrashed)

	default:
		cache := map[uuid.UUID]*models.Block{}
		if err := r.hydrateSubgraph(ctx, row, opts.Depth, cache, opts.IncludeTrashed); err != nil {
			return nil, err
		}
		wired := r.wireCache(cache)
		return wired[id], nil
	}
}

// QueryBlocks returns blocks matching structural and semantic filters.
func (r *PostgresBlockRepository) QueryBlocks(ctx context.Context, q *query.BlockQuery) ([]*models.Block, error) {
	if q == nil {
		q = &query.BlockQuery{}
	}

	sql, args, err := compileBlockQuery(r.tables, q)
	if err != nil {
		return nil, err
	}

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, sql, args...)
	if err != nil {
		if IsPgCastError(err) {
			return nil, fmt.Errorf("query blocks: property filter type mismatch: %w", err)
		}
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	blocks := []*models.Block{}
	for rows.Next() {
		row, err := scanBlockRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		block, err := row.toModel()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, r.withLazyResolvers(block))
	}
	if err := rows.Err(); err != nil {
		if IsPgCastError(err) {
			return nil, fmt.Errorf("query blocks: property filter type mismatch: %w", err)
		}
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}

	return blocks, nil
}

// UpsertBlocks batch inserts or replaces blocks by primary key. No
// structural side effects and no version check: last write wins.
func (r *PostgresBlockRepository) UpsertBlocks(ctx context.Context, blocks []*models.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	const columnsPerBlock = 16
	placeholders := make([]byte, 0, len(blocks)*4*columnsPerBlock)
	args := make([]any, 0, len(blocks)*columnsPerBlock)

	for i, block := range blocks {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '(')
		for j := 0; j < columnsPerBlock; j++ {
			if j > 0 {
				placeholders = append(placeholders, ',')
			}
			placeholders = append(placeholders, fmt.Sprintf("$%d", i*columnsPerBlock+j+1)...)
		}
		placeholders = append(placeholders, ')')

		childIDs := make([]string, len(block.ChildrenIDs))
		for k, childID := range block.ChildrenIDs {
			childIDs[k] = childID.String()
		}
		var content any
		if block.Content != nil {
			content = block.Content
		}
		properties := block.Properties
		if properties == nil {
			properties = map[string]any{}
		}
		metadata := block.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}

		args = append(args,
			block.ID.String(),
			string(block.Type),
			optionalIDString(block.ParentID),
			block.RootID.String(),
			childIDs,
			optionalIDString(block.WorkspaceID),
			block.InTrash,
			block.Version,
			block.CreatedTime,
			block.LastEditedTime,
			optionalIDString(block.CreatedBy),
			optionalIDString(block.LastEditedBy),
			properties,
			metadata,
			content,
			block.PropertiesVersion,
		)
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (id, type, parent_id, root_id, children_ids, workspace_id,
			in_trash, version, created_time, last_edited_time, created_by,
			last_edited_by, properties, metadata, content, properties_version)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			parent_id = EXCLUDED.parent_id,
			root_id = EXCLUDED.root_id,
			children_ids = EXCLUDED.children_ids,
			workspace_id = EXCLUDED.workspace_id,
			in_trash = EXCLUDED.in_trash,
			version = EXCLUDED.version,
			created_time = EXCLUDED.created_time,
			last_edited_time = EXCLUDED.last_edited_time,
			created_by = EXCLUDED.created_by,
			last_edited_by = EXCLUDED.last_edited_by,
			properties = EXCLUDED.properties,
			metadata = EXCLUDED.metadata,
			content = EXCLUDED.content,
			properties_version = EXCLUDED.properties_version
	`, r.tables.Blocks, string(placeholders))

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert blocks: %w", err)
	}

	return nil
}

// SetChildren replaces the canonical children for a parent block.
//
// Every child in the new list is reparented to this parent; children present
// in the old list but absent from the new one have their parent cleared
// (orphaned, not deleted). The parent's children_ids is replaced verbatim -
// the given order is the ordering contract - and only the parent's version
// is bumped.
func (r *PostgresBlockRepository) SetChildren(ctx context.Context, parentID uuid.UUID, childrenIDs []uuid.UUID, expectedVersion int) error {
	if duplicateID(childrenIDs) {
		return &domain.InvalidChildrenError{Reason: "duplicate child identifiers are not allowed"}
	}

	return r.tm.ExecTx(ctx, func(txCtx context.Context) error {
		return r.setChildrenTx(txCtx, parentID, childrenIDs, expectedVersion)
	})
}

func (r *PostgresBlockRepository) setChildrenTx(ctx context.Context, parentID uuid.UUID, childrenIDs []uuid.UUID, expectedVersion int) error {
	parentRow, err := r.fetchRow(ctx, parentID.String(), true)
	if err != nil {
		return err
	}
	if parentRow == nil {
		return &domain.NotFoundError{Kind: "parent", ID: parentID}
	}
	if parentRow.Version != expectedVersion {
		return &domain.VersionConflictError{ID: parentID, Expected: expectedVersion, Found: parentRow.Version}
	}

	ancestors, err := r.collectAncestorIDs(ctx, parentRow)
	if err != nil {
		return err
	}

	newChildren := make([]string, 0, len(childrenIDs))
	for _, childID := range childrenIDs {
		if childID == parentID {
			return &domain.InvalidChildrenError{Reason: "a block cannot be a child of itself"}
		}
		childRow, err := r.fetchRow(ctx, childID.String(), true)
		if err != nil {
			return err
		}
		if childRow == nil {
			return &domain.NotFoundError{Kind: "child", ID: childID}
		}
		if _, isAncestor := ancestors[childRow.ID]; isAncestor {
			return &domain.InvalidChildrenError{
				Reason: fmt.Sprintf("child %s would introduce a cycle under parent %s", childRow.ID, parentRow.ID),
			}
		}
		newChildren = append(newChildren, childRow.ID)
	}

	// Children removed from the list keep existing but lose their parent.
	newSet := make(map[string]struct{}, len(newChildren))
	for _, id := range newChildren {
		newSet[id] = struct{}{}
	}
	for _, oldID := range parentRow.ChildrenIDs {
		if _, kept := newSet[oldID]; kept {
			continue
		}
		if err := r.clearParentIfOwned(ctx, oldID, parentRow.ID); err != nil {
			return err
		}
	}

	executor := GetExecutor(ctx, r.pool)
	for _, childID := range newChildren {
		reparent := fmt.Sprintf(`UPDATE %s SET parent_id = $1, last_edited_time = NOW() WHERE id = $2`, r.tables.Blocks)
		if _, err := executor.Exec(ctx, reparent, parentRow.ID, childID); err != nil {
			return fmt.Errorf("reparent child %s: %w", childID, err)
		}
	}

	updateParent := fmt.Sprintf(`
		UPDATE %s SET children_ids = $1, version = version + 1, last_edited_time = NOW()
		WHERE id = $2 AND version = $3
	`, r.tables.Blocks)
	tag, err := executor.Exec(ctx, updateParent, newChildren, parentRow.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update parent children: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.VersionConflictError{ID: parentID, Expected: expectedVersion, Found: parentRow.Version}
	}

	return nil
}

func (r *PostgresBlockRepository) clearParentIfOwned(ctx context.Context, blockID, parentID string) error {
	executor := GetExecutor(ctx, r.pool)
	sql := fmt.Sprintf(`UPDATE %s SET parent_id = NULL, last_edited_time = NOW() WHERE id = $1 AND parent_id = $2`, r.tables.Blocks)
	if _, err := executor.Exec(ctx, sql, blockID, parentID); err != nil {
		return fmt.Errorf("orphan removed child %s: %w", blockID, err)
	}
	return nil
}

// ReorderChildren permutes the existing children of a parent. The new order
// must reference exactly the same child ids as currently stored.
func (r *PostgresBlockRepository) ReorderChildren(ctx context.Context, parentID uuid.UUID, newOrder []uuid.UUID, expectedVersion int) error {
	return r.tm.ExecTx(ctx, func(txCtx context.Context) error {
		parentRow, err := r.fetchRow(txCtx, parentID.String(), true)
		if err != nil {
			return err
		}
		if parentRow == nil {
			return &domain.NotFoundError{Kind: "parent", ID: parentID}
		}

		if !sameIDSet(parentRow.ChildrenIDs, newOrder) {
			return &domain.InvalidChildrenError{Reason: "reorder must reference the same child ids as currently stored"}
		}

		if duplicateID(newOrder) {
			return &domain.InvalidChildrenError{Reason: "duplicate child identifiers are not allowed"}
		}

		return r.setChildrenTx(txCtx, parentID, newOrder, expectedVersion)
	})
}

// MoveBlock moves a block under a new parent at a clamped index. A move
// within the same parent is a pure reorder; a cross-parent move updates both
// parents' child lists and the block's parent pointer. The moved block's
// version is bumped in both cases.
func (r *PostgresBlockRepository) MoveBlock(ctx context.Context, blockID, newParentID uuid.UUID, index int, versions repositories.MoveVersions) error {
	return r.tm.ExecTx(ctx, func(txCtx context.Context) error {
		return r.moveBlockTx(txCtx, blockID, newParentID, index, versions)
	})
}

func (r *PostgresBlockRepository) moveBlockTx(ctx context.Context, blockID, newParentID uuid.UUID, index int, versions repositories.MoveVersions) error {
	if blockID == newParentID {
		return &domain.InvalidChildrenError{Reason: "a block cannot be moved under itself"}
	}

	blockRow, err := r.fetchRow(ctx, blockID.String(), true)
	if err != nil {
		return err
	}
	if blockRow == nil {
		return &domain.NotFoundError{Kind: "block", ID: blockID}
	}
	if versions.ExpectedBlockVersion != nil && blockRow.Version != *versions.ExpectedBlockVersion {
		return &domain.VersionConflictError{ID: blockID, Expected: *versions.ExpectedBlockVersion, Found: blockRow.Version}
	}

	newParentRow, err := r.fetchRow(ctx, newParentID.String(), true)
	if err != nil {
		return err
	}
	if newParentRow == nil {
		return &domain.NotFoundError{Kind: "parent", ID: newParentID}
	}
	if newParentRow.Version != versions.ExpectedNewParentVersion {
		return &domain.VersionConflictError{ID: newParentID, Expected: versions.ExpectedNewParentVersion, Found: newParentRow.Version}
	}

	if newParentRow.RootID != blockRow.RootID {
		return &domain.InvalidChildrenError{
			Reason: fmt.Sprintf("cannot move block %s from root %s to parent in root %s", blockRow.ID, blockRow.RootID, newParentRow.RootID),
		}
	}

	ancestors, err := r.collectAncestorIDs(ctx, newParentRow)
	if err != nil {
		return err
	}
	if _, isAncestor := ancestors[blockRow.ID]; isAncestor {
		return &domain.InvalidChildrenError{
			Reason: fmt.Sprintf("moving block %s under parent %s creates a cycle", blockRow.ID, newParentRow.ID),
		}
	}

	executor := GetExecutor(ctx, r.pool)

	// Same-parent case: a pure reorder, one version bump per touched row.
	if blockRow.ParentID != nil && *blockRow.ParentID == newParentRow.ID {
		order := removeID(newParentRow.ChildrenIDs, blockRow.ID)
		order = insertAt(order, blockRow.ID, clampIndex(index, len(order)))

		if err := r.replaceChildren(ctx, newParentRow.ID, order, newParentRow.Version); err != nil {
			return err
		}
		return r.bumpVersion(ctx, executor, blockRow.ID, blockRow.Version)
	}

	// Cross-parent case: detach from the old parent first.
	if blockRow.ParentID != nil {
		oldParentRow, err := r.fetchRow(ctx, *blockRow.ParentID, true)
		if err != nil {
			return err
		}
		if oldParentRow == nil {
			oldID, parseErr := uuid.Parse(*blockRow.ParentID)
			if parseErr != nil {
				return fmt.Errorf("parse old parent id %q: %w", *blockRow.ParentID, parseErr)
			}
			return &domain.NotFoundError{Kind: "parent", ID: oldID}
		}
		if versions.ExpectedOldParentVersion != nil && oldParentRow.Version != *versions.ExpectedOldParentVersion {
			oldID, _ := uuid.Parse(oldParentRow.ID)
			return &domain.VersionConflictError{ID: oldID, Expected: *versions.ExpectedOldParentVersion, Found: oldParentRow.Version}
		}
		if containsID(oldParentRow.ChildrenIDs, blockRow.ID) {
			trimmed := removeID(oldParentRow.ChildrenIDs, blockRow.ID)
			if err := r.replaceChildren(ctx, oldParentRow.ID, trimmed, oldParentRow.Version); err != nil {
				return err
			}
		}
	}

	newOrder := removeID(newParentRow.ChildrenIDs, blockRow.ID)
	newOrder = insertAt(newOrder, blockRow.ID, clampIndex(index, len(newOrder)))
	if err := r.replaceChildren(ctx, newParentRow.ID, newOrder, newParentRow.Version); err != nil {
		return err
	}

	reparent := fmt.Sprintf(`
		UPDATE %s SET parent_id = $1, version = version + 1, last_edited_time = NOW()
		WHERE id = $2 AND version = $3
	`, r.tables.Blocks)
	tag, err := executor.Exec(ctx, reparent, newParentRow.ID, blockRow.ID, blockRow.Version)
	if err != nil {
		return fmt.Errorf("reparent block %s: %w", blockRow.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.VersionConflictError{ID: blockID, Expected: blockRow.Version, Found: -1}
	}

	return nil
}

// replaceChildren writes a parent's child list guarded by the version read
// earlier in the same transaction.
func (r *PostgresBlockRepository) replaceChildren(ctx context.Context, parentID string, children []string, readVersion int) error {
	executor := GetExecutor(ctx, r.pool)
	sql := fmt.Sprintf(`
		UPDATE %s SET children_ids = $1, version = version + 1, last_edited_time = NOW()
		WHERE id = $2 AND version = $3
	`, r.tables.Blocks)
	tag, err := executor.Exec(ctx, sql, children, parentID, readVersion)
	if err != nil {
		return fmt.Errorf("replace children of %s: %w", parentID, err)
	}
	if tag.RowsAffected() == 0 {
		id, _ := uuid.Parse(parentID)
		return &domain.VersionConflictError{ID: id, Expected: readVersion, Found: -1}
	}
	return nil
}

func (r *PostgresBlockRepository) bumpVersion(ctx context.Context, executor repositories.DBTX, blockID string, readVersion int) error {
	sql := fmt.Sprintf(`
		UPDATE %s SET version = version + 1, last_edited_time = NOW()
		WHERE id = $1 AND version = $2
	`, r.tables.Blocks)
	tag, err := executor.Exec(ctx, sql, blockID, readVersion)
	if err != nil {
		return fmt.Errorf("bump version of %s: %w", blockID, err)
	}
	if tag.RowsAffected() == 0 {
		id, _ := uuid.Parse(blockID)
		return &domain.VersionConflictError{ID: id, Expected: readVersion, Found: -1}
	}
	return nil
}

// SetInTrash updates the trash flag for the given blocks, optionally
// cascading over the full descendant closure. Every touched row gets a
// version bump. Restore is symmetric: the flag is cleared over the whole
// closure regardless of how each member was trashed.
func (r *PostgresBlockRepository) SetInTrash(ctx context.Context, ids []uuid.UUID, inTrash bool, cascade bool) error {
	if len(ids) == 0 {
		return nil
	}

	idList := make([]string, len(ids))
	for i, id := range ids {
		idList[i] = id.String()
	}

	return r.tm.ExecTx(ctx, func(txCtx context.Context) error {
		executor := GetExecutor(txCtx, r.pool)

		existing := map[string]struct{}{}
		rows, err := executor.Query(txCtx, fmt.Sprintf(`SELECT id FROM %s WHERE id = ANY($1)`, r.tables.Blocks), idList)
		if err != nil {
			return fmt.Errorf("check blocks exist: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan block id: %w", err)
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate block ids: %w", err)
		}

		for i, id := range idList {
			if _, ok := existing[id]; !ok {
				return &domain.NotFoundError{Kind: "block", ID: ids[i]}
			}
		}

		targets := idList
		if cascade {
			targets, err = r.collectDescendantIDs(txCtx, idList)
			if err != nil {
				return err
			}
		}
		if len(targets) == 0 {
			return nil
		}

		update := fmt.Sprintf(`
			UPDATE %s SET in_trash = $1, version = version + 1, last_edited_time = NOW()
			WHERE id = ANY($2)
		`, r.tables.Blocks)
		if _, err := executor.Exec(txCtx, update, inTrash, targets); err != nil {
			return fmt.Errorf("set in_trash: %w", err)
		}

		return nil
	})
}

// collectDescendantIDs returns every id reachable from the roots through
// children_ids, including the roots themselves. Breadth-first with one query
// per frontier.
func (r *PostgresBlockRepository) collectDescendantIDs(ctx context.Context, rootIDs []string) ([]string, error) {
	executor := GetExecutor(ctx, r.pool)

	seen := map[string]struct{}{}
	ordered := []string{}
	frontier := append([]string(nil), rootIDs...)

	for len(frontier) > 0 {
		unvisited := frontier[:0]
		for _, id := range frontier {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ordered = append(ordered, id)
			unvisited = append(unvisited, id)
		}
		if len(unvisited) == 0 {
			break
		}

		sql := fmt.Sprintf(`SELECT children_ids FROM %s WHERE id = ANY($1)`, r.tables.Blocks)
		rows, err := executor.Query(ctx, sql, append([]string(nil), unvisited...))
		if err != nil {
			return nil, fmt.Errorf("collect descendants: %w", err)
		}

		next := []string{}
		for rows.Next() {
			var children []string
			if err := rows.Scan(&children); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan children_ids: %w", err)
			}
			for _, childID := range children {
				if _, ok := seen[childID]; !ok {
					next = append(next, childID)
				}
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate descendants: %w", err)
		}

		frontier = next
	}

	return ordered, nil
}

// collectAncestorIDs walks parent pointers upward from the given row,
// returning the set of ancestor ids (the immediate parent included, the row
// itself excluded). Stops early on a repeated id so pre-existing corruption
// cannot loop forever.
func (r *PostgresBlockRepository) collectAncestorIDs(ctx context.Context, row *blockRow) (map[string]struct{}, error) {
	ancestors := map[string]struct{}{}
	current := row.ParentID
	for current != nil {
		if _, seen := ancestors[*current]; seen {
			break
		}
		ancestors[*current] = struct{}{}
		parentRow, err := r.fetchRow(ctx, *current, true)
		if err != nil {
			return nil, err
		}
		if parentRow == nil {
			break
		}
		current = parentRow.ParentID
	}
	return ancestors, nil
}

func (r *PostgresBlockRepository) fetchRow(ctx context.Context, id string, includeTrashed bool) (*blockRow, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s b WHERE b.id = $1`, blockColumns("b"), r.tables.Blocks)
	if !includeTrashed {
		sql += ` AND b.in_trash = FALSE`
	}

	executor := GetExecutor(ctx, r.pool)
	row, err := scanBlockRow(executor.QueryRow(ctx, sql, id))
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get block %s: %w", id, err)
	}
	return row, nil
}

// hydrateSubgraph populates the cache with blocks up to the requested depth,
// skipping trashed subtrees unless includeTrashed is set.
func (r *PostgresBlockRepository) hydrateSubgraph(ctx context.Context, row *blockRow, depth int, cache map[uuid.UUID]*models.Block, includeTrashed bool) error {
	if row.InTrash && !includeTrashed {
		return nil
	}

	block, err := row.toModel()
	if err != nil {
		return err
	}
	cache[block.ID] = block

	if depth == 0 || len(row.ChildrenIDs) == 0 {
		return nil
	}

	executor := GetExecutor(ctx, r.pool)
	sql := fmt.Sprintf(`SELECT %s FROM %s b WHERE b.id = ANY($1)`, blockColumns("b"), r.tables.Blocks)
	rows, err := executor.Query(ctx, sql, row.ChildrenIDs)
	if err != nil {
		return fmt.Errorf("fetch children of %s: %w", row.ID, err)
	}

	rowByID := map[string]*blockRow{}
	for rows.Next() {
		childRow, err := scanBlockRow(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("scan child block: %w", err)
		}
		rowByID[childRow.ID] = childRow
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate child blocks: %w", err)
	}

	for _, childID := range row.ChildrenIDs {
		childRow, ok := rowByID[childID]
		if !ok {
			continue
		}
		if childRow.InTrash && !includeTrashed {
			continue
		}
		parsed, err := uuid.Parse(childID)
		if err != nil {
			return fmt.Errorf("parse child id %q: %w", childID, err)
		}
		if _, cached := cache[parsed]; cached {
			continue
		}
		if err := r.hydrateSubgraph(ctx, childRow, depth-1, cache, includeTrashed); err != nil {
			return err
		}
	}

	return nil
}

// hydrateFullRoot loads every row sharing the block's root in one query and
// wires the whole cache, so navigation between any two cached nodes reuses
// the same instances.
func (r *PostgresBlockRepository) hydrateFullRoot(ctx context.Context, row *blockRow, includeTrashed bool) (*models.Block, error) {
	sql := fmt.Sprintf(`SELECT %s FROM %s b WHERE b.root_id = $1`, blockColumns("b"), r.tables.Blocks)
	if !includeTrashed {
		sql += ` AND b.in_trash = FALSE`
	}

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, sql, row.RootID)
	if err != nil {
		return nil, fmt.Errorf("fetch root %s: %w", row.RootID, err)
	}
	defer rows.Close()

	cache := map[uuid.UUID]*models.Block{}
	for rows.Next() {
		memberRow, err := scanBlockRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan root member: %w", err)
		}
		block, err := memberRow.toModel()
		if err != nil {
			return nil, err
		}
		cache[block.ID] = block
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate root members: %w", err)
	}

	wired := r.wireCache(cache)
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("parse block id %q: %w", row.ID, err)
	}
	return wired[id], nil
}

// wireCache attaches shared resolvers to a hydrated subgraph. Lookups inside
// the cache return the same instances; misses fall back to a depth-0 fetch.
// The cache lives for one hydration call only.
func (r *PostgresBlockRepository) wireCache(cache map[uuid.UUID]*models.Block) map[uuid.UUID]*models.Block {
	wired := make(map[uuid.UUID]*models.Block, len(cache))

	resolveOne := func(ctx context.Context, id uuid.UUID) (*models.Block, error) {
		if block, ok := wired[id]; ok {
			return block, nil
		}
		return r.GetBlock(ctx, id, repositories.GetOptions{})
	}
	resolveMany := func(ctx context.Context, ids []uuid.UUID) ([]*models.Block, error) {
		resolved := make([]*models.Block, 0, len(ids))
		for _, id := range ids {
			block, err := resolveOne(ctx, id)
			if err != nil {
				return nil, err
			}
			if block != nil {
				resolved = append(resolved, block)
			}
		}
		return resolved, nil
	}

	for id, block := range cache {
		wired[id] = block.WithResolvers(resolveOne, resolveMany)
	}
	return wired
}

// withLazyResolvers wires a standalone block for one-fetch-per-hop
// navigation through the repository.
func (r *PostgresBlockRepository) withLazyResolvers(block *models.Block) *models.Block {
	resolveOne := func(ctx context.Context, id uuid.UUID) (*models.Block, error) {
		return r.GetBlock(ctx, id, repositories.GetOptions{})
	}
	resolveMany := func(ctx context.Context, ids []uuid.UUID) ([]*models.Block, error) {
		resolved := make([]*models.Block, 0, len(ids))
		for _, id := range ids {
			child, err := r.GetBlock(ctx, id, repositories.GetOptions{})
			if err != nil {
				return nil, err
			}
			if child != nil {
				resolved = append(resolved, child)
			}
		}
		return resolved, nil
	}
	return block.WithResolvers(resolveOne, resolveMany)
}

// clampIndex clamps an insertion index into [0, length].
func clampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}

func insertAt(ids []string, id string, index int) []string {
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	out = append(out, ids[index:]...)
	return out
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func duplicateID(ids []uuid.UUID) bool {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

func sameIDSet(current []string, proposed []uuid.UUID) bool {
	currentSet := make(map[string]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}
	proposedSet := make(map[string]struct{}, len(proposed))
	for _, id := range proposed {
		proposedSet[id.String()] = struct{}{}
	}
	if len(currentSet) != len(proposedSet) {
		return false
	}
	for id := range proposedSet {
		if _, ok := currentSet[id]; !ok {
			return false
		}
	}
	return true
}
