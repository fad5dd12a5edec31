package models

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipDirection selects which edges of a block to fetch.
type RelationshipDirection string

const (
	DirectionOutgoing RelationshipDirection = "outgoing"
	DirectionIncoming RelationshipDirection = "incoming"
	DirectionAll      RelationshipDirection = "all"
)

// Relationship is a directed, typed edge between two blocks, independent of
// the tree. At most one relationship exists per (source, target, rel_type)
// triple; re-saving the triple updates metadata instead of duplicating.
type Relationship struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	WorkspaceID    *uuid.UUID     `json:"workspace_id,omitempty" db:"workspace_id"`
	SourceBlockID  uuid.UUID      `json:"source_block_id" db:"source_block_id"`
	TargetBlockID  uuid.UUID      `json:"target_block_id" db:"target_block_id"`
	RelType        string         `json:"rel_type" db:"rel_type"`
	Metadata       map[string]any `json:"metadata" db:"metadata"`
	Version        int            `json:"version" db:"version"`
	CreatedTime    time.Time      `json:"created_time" db:"created_time"`
	LastEditedTime time.Time      `json:"last_edited_time" db:"last_edited_time"`
	CreatedBy      *uuid.UUID     `json:"created_by,omitempty" db:"created_by"`
	LastEditedBy   *uuid.UUID     `json:"last_edited_by,omitempty" db:"last_edited_by"`
}

// RelationshipKey is the composite identity used for delete and conflict
// resolution.
type RelationshipKey struct {
	SourceBlockID uuid.UUID
	TargetBlockID uuid.UUID
	RelType       string
}

// Key returns the relationship's composite identity.
func (r *Relationship) Key() RelationshipKey {
	return RelationshipKey{
		SourceBlockID: r.SourceBlockID,
		TargetBlockID: r.TargetBlockID,
		RelType:       r.RelType,
	}
}
