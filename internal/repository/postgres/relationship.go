package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"blockstore/internal/domain/models"
	"blockstore/internal/domain/repositories"
)

// PostgresRelationshipRepository implements the RelationshipRepository
// interface
type PostgresRelationshipRepository struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewRelationshipRepository creates a new relationship repository
func NewRelationshipRepository(config *RepositoryConfig) repositories.RelationshipRepository {
	return &PostgresRelationshipRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

func relationshipColumns(alias string) string {
	cols := []string{
		"id", "workspace_id", "source_block_id", "target_block_id", "rel_type",
		"metadata", "version", "created_time", "last_edited_time", "created_by",
		"last_edited_by",
	}
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

func scanRelationship(scanner rowScanner) (*models.Relationship, error) {
	var (
		rel          models.Relationship
		id           string
		workspaceID  *string
		sourceID     string
		targetID     string
		createdBy    *string
		lastEditedBy *string
	)
	err := scanner.Scan(
		&id,
		&workspaceID,
		&sourceID,
		&targetID,
		&rel.RelType,
		&rel.Metadata,
		&rel.Version,
		&rel.CreatedTime,
		&rel.LastEditedTime,
		&createdBy,
		&lastEditedBy,
	)
	if err != nil {
		return nil, err
	}

	if rel.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse relationship id %q: %w", id, err)
	}
	if rel.WorkspaceID, err = parseOptionalID(workspaceID, "workspace_id"); err != nil {
		return nil, err
	}
	if rel.SourceBlockID, err = uuid.Parse(sourceID); err != nil {
		return nil, fmt.Errorf("parse source block id %q: %w", sourceID, err)
	}
	if rel.TargetBlockID, err = uuid.Parse(targetID); err != nil {
		return nil, fmt.Errorf("parse target block id %q: %w", targetID, err)
	}
	if rel.CreatedBy, err = parseOptionalID(createdBy, "created_by"); err != nil {
		return nil, err
	}
	if rel.LastEditedBy, err = parseOptionalID(lastEditedBy, "last_edited_by"); err != nil {
		return nil, err
	}
	if rel.Metadata == nil {
		rel.Metadata = map[string]any{}
	}

	return &rel, nil
}

// UpsertRelationships batch inserts edges. A conflict on the
// (source, target, rel_type) triple updates metadata and editor fields and
// bumps the stored version, keeping the edge unique and idempotent.
func (r *PostgresRelationshipRepository) UpsertRelationships(ctx context.Context, relationships []*models.Relationship) error {
	if len(relationships) == 0 {
		return nil
	}

	const columnsPerRel = 11
	values := make([]string, 0, len(relationships))
	args := make([]any, 0, len(relationships)*columnsPerRel)

	now := time.Now().UTC()
	for i, rel := range relationships {
		base := i * columnsPerRel
		placeholders := make([]string, columnsPerRel)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ",")+")")

		id := rel.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		metadata := rel.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		createdTime := rel.CreatedTime
		if createdTime.IsZero() {
			createdTime = now
		}
		lastEditedTime := rel.LastEditedTime
		if lastEditedTime.IsZero() {
			lastEditedTime = now
		}

		args = append(args,
			id.String(),
			optionalIDString(rel.WorkspaceID),
			rel.SourceBlockID.String(),
			rel.TargetBlockID.String(),
			rel.RelType,
			metadata,
			rel.Version,
			createdTime,
			lastEditedTime,
			optionalIDString(rel.CreatedBy),
			optionalIDString(rel.LastEditedBy),
		)
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (id, workspace_id, source_block_id, target_block_id,
			rel_type, metadata, version, created_time, last_edited_time,
			created_by, last_edited_by)
		VALUES %s
		ON CONFLICT (source_block_id, target_block_id, rel_type) DO UPDATE SET
			metadata = EXCLUDED.metadata,
			last_edited_time = EXCLUDED.last_edited_time,
			last_edited_by = EXCLUDED.last_edited_by,
			version = %s.version + 1
	`, r.tables.Relationships, strings.Join(values, ","), r.tables.Relationships)

	executor := GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, sql, args...); err != nil {
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("upsert relationships: endpoint block missing: %w", err)
		}
		if IsPgDuplicateError(err) {
			return fmt.Errorf("upsert relationships: id collides with an existing edge: %w", err)
		}
		return fmt.Errorf("upsert relationships: %w", err)
	}

	return nil
}

// DeleteRelationships removes edges by composite key and reports whether any
// row was deleted. Absent keys are skipped silently.
func (r *PostgresRelationshipRepository) DeleteRelationships(ctx context.Context, keys []models.RelationshipKey) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}

	conditions := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*3)
	for _, key := range keys {
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(source_block_id = $%d AND target_block_id = $%d AND rel_type = $%d)",
			n+1, n+2, n+3,
		))
		args = append(args, key.SourceBlockID.String(), key.TargetBlockID.String(), key.RelType)
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE %s`, r.tables.Relationships, strings.Join(conditions, " OR "))

	executor := GetExecutor(ctx, r.pool)
	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("delete relationships: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// GetRelationships returns a block's edges filtered by direction. Unless
// includeTrashed is set, edges whose far endpoint is trashed are hidden, so
// navigation never surfaces links into the trash.
func (r *PostgresRelationshipRepository) GetRelationships(ctx context.Context, blockID uuid.UUID, direction models.RelationshipDirection, includeTrashed bool) ([]*models.Relationship, error) {
	var condition string
	switch direction {
	case models.DirectionOutgoing:
		condition = "r.source_block_id = $1"
	case models.DirectionIncoming:
		condition = "r.target_block_id = $1"
	case models.DirectionAll:
		condition = "(r.source_block_id = $1 OR r.target_block_id = $1)"
	default:
		return nil, fmt.Errorf("unknown relationship direction %q", direction)
	}

	sql := fmt.Sprintf(`
		SELECT %s FROM %s r
		JOIN %s sb ON r.source_block_id = sb.id
		JOIN %s tb ON r.target_block_id = tb.id
		WHERE %s
	`, relationshipColumns("r"), r.tables.Relationships, r.tables.Blocks, r.tables.Blocks, condition)
	if !includeTrashed {
		sql += ` AND sb.in_trash = FALSE AND tb.in_trash = FALSE`
	}
	sql += ` ORDER BY r.created_time`

	executor := GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, sql, blockID.String())
	if err != nil {
		return nil, fmt.Errorf("get relationships for %s: %w", blockID, err)
	}
	defer rows.Close()

	relationships := []*models.Relationship{}
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		relationships = append(relationships, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}

	return relationships, nil
}
