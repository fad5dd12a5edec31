package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CreateSchema creates the block and relationship tables plus the indexes
// the query paths depend on. Idempotent: everything is IF NOT EXISTS.
//
// children_ids is an ordered JSONB array; array position is the ordering
// contract. properties/metadata/content are JSONB so property filters can
// compile to path-indexed expressions, with a GIN index on properties.
func CreateSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			parent_id TEXT,
			root_id TEXT NOT NULL,
			children_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
			workspace_id TEXT,
			in_trash BOOLEAN NOT NULL DEFAULT FALSE,
			version INTEGER NOT NULL DEFAULT 0,
			created_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_edited_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_by TEXT,
			last_edited_by TEXT,
			properties JSONB NOT NULL DEFAULT '{}'::jsonb,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			content JSONB,
			properties_version INTEGER
		)`, tables.Blocks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_root_type ON %s (root_id, type)`, tables.Blocks, tables.Blocks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_parent ON %s (parent_id)`, tables.Blocks, tables.Blocks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_workspace_root ON %s (workspace_id, root_id)`, tables.Blocks, tables.Blocks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_in_trash ON %s (in_trash)`, tables.Blocks, tables.Blocks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_properties_gin ON %s USING GIN (properties)`, tables.Blocks, tables.Blocks),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			workspace_id TEXT,
			source_block_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			target_block_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			rel_type TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			version INTEGER NOT NULL DEFAULT 0,
			created_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_edited_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_by TEXT,
			last_edited_by TEXT
		)`, tables.Relationships, tables.Blocks, tables.Blocks),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_source ON %s (source_block_id)`, tables.Relationships, tables.Relationships),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_target ON %s (target_block_id)`, tables.Relationships, tables.Relationships),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS ix_%s_type ON %s (rel_type)`, tables.Relationships, tables.Relationships),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS ix_%s_unique ON %s (source_block_id, target_block_id, rel_type)`, tables.Relationships, tables.Relationships),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}

	return nil
}

// DropSchema removes the tables. Used by test environments only.
func DropSchema(ctx context.Context, pool *pgxpool.Pool, tables *TableNames) error {
	statements := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tables.Relationships),
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tables.Blocks),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("drop schema statement: %w", err)
		}
	}
	return nil
}
