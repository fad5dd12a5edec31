package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BlockType is the closed enumeration of block node kinds.
type BlockType string

const (
	BlockTypeWorkspace               BlockType = "workspace"
	BlockTypeCollection              BlockType = "collection"
	BlockTypeDocument                BlockType = "document"
	BlockTypeDataset                 BlockType = "dataset"
	BlockTypeDerivedContentContainer BlockType = "derived_content_container"
	BlockTypeHeading                 BlockType = "heading"
	BlockTypeParagraph               BlockType = "paragraph"
	BlockTypeBulletedListItem        BlockType = "bulleted_list_item"
	BlockTypeNumberedListItem        BlockType = "numbered_list_item"
	BlockTypeRecord                  BlockType = "record"
	BlockTypeQuote                   BlockType = "quote"
	BlockTypeCode                    BlockType = "code"
	BlockTypeTable                   BlockType = "table"
	BlockTypeHTML                    BlockType = "html"
	BlockTypeObject                  BlockType = "object"
	BlockTypeGroupIndex              BlockType = "group_index"
	BlockTypePageGroup               BlockType = "page_group"
	BlockTypeChunkGroup              BlockType = "chunk_group"
	BlockTypeSystemContainer         BlockType = "system_container"
	BlockTypeUnsupported             BlockType = "unsupported"
)

var blockTypes = map[BlockType]struct{}{
	BlockTypeWorkspace: {}, BlockTypeCollection: {}, BlockTypeDocument: {},
	BlockTypeDataset: {}, BlockTypeDerivedContentContainer: {}, BlockTypeHeading: {},
	BlockTypeParagraph: {}, BlockTypeBulletedListItem: {}, BlockTypeNumberedListItem: {},
	BlockTypeRecord: {}, BlockTypeQuote: {}, BlockTypeCode: {}, BlockTypeTable: {},
	BlockTypeHTML: {}, BlockTypeObject: {}, BlockTypeGroupIndex: {}, BlockTypePageGroup: {},
	BlockTypeChunkGroup: {}, BlockTypeSystemContainer: {}, BlockTypeUnsupported: {},
}

// Valid reports whether t is one of the declared block types.
func (t BlockType) Valid() bool {
	_, ok := blockTypes[t]
	return ok
}

func (t BlockType) String() string { return string(t) }

// Content is the optional unstructured payload of a block: plain text,
// a nested object map, tabular data, or a reference to a canonical block
// whose content this block mirrors.
type Content struct {
	PlainText  *string        `json:"plain_text,omitempty"`
	Object     map[string]any `json:"object,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	SyncedFrom *uuid.UUID     `json:"synced_from,omitempty"`
}

// ResolveOne loads a single block by id. A nil result with nil error means
// the block is absent or hidden by trash filtering.
type ResolveOne func(ctx context.Context, id uuid.UUID) (*Block, error)

// ResolveMany loads blocks for the given ids, dropping any that are absent.
type ResolveMany func(ctx context.Context, ids []uuid.UUID) ([]*Block, error)

// Block is a typed node in a document tree. A Block value is an immutable
// snapshot of one stored row: mutations always produce a new version through
// the repository, never in-place edits. Navigation runs through injected
// resolvers so a hydrated subgraph wires blocks together without any block
// owning another.
type Block struct {
	ID                uuid.UUID      `json:"id" db:"id"`
	Type              BlockType      `json:"type" db:"type"`
	ParentID          *uuid.UUID     `json:"parent_id" db:"parent_id"` // nil = root
	RootID            uuid.UUID      `json:"root_id" db:"root_id"`
	ChildrenIDs       []uuid.UUID    `json:"children_ids" db:"children_ids"` // canonical child order
	WorkspaceID       *uuid.UUID     `json:"workspace_id,omitempty" db:"workspace_id"`
	InTrash           bool           `json:"in_trash" db:"in_trash"`
	Version           int            `json:"version" db:"version"`
	CreatedTime       time.Time      `json:"created_time" db:"created_time"`
	LastEditedTime    time.Time      `json:"last_edited_time" db:"last_edited_time"`
	CreatedBy         *uuid.UUID     `json:"created_by,omitempty" db:"created_by"`
	LastEditedBy      *uuid.UUID     `json:"last_edited_by,omitempty" db:"last_edited_by"`
	Properties        map[string]any `json:"properties" db:"properties"`
	Metadata          map[string]any `json:"metadata" db:"metadata"`
	Content           *Content       `json:"content,omitempty" db:"content"`
	PropertiesVersion *int           `json:"properties_version,omitempty" db:"properties_version"`

	resolveOne  ResolveOne
	resolveMany ResolveMany
}

// IsRoot reports whether the block anchors its own tree.
func (b *Block) IsRoot() bool { return b.ParentID == nil }

// Parent resolves the canonical parent, or nil for roots.
func (b *Block) Parent(ctx context.Context) (*Block, error) {
	if b.ParentID == nil || b.resolveOne == nil {
		return nil, nil
	}
	return b.resolveOne(ctx, *b.ParentID)
}

// Children resolves the ordered children. Blocks hidden by trash filtering
// are silently dropped.
func (b *Block) Children(ctx context.Context) ([]*Block, error) {
	if len(b.ChildrenIDs) == 0 || b.resolveMany == nil {
		return []*Block{}, nil
	}
	return b.resolveMany(ctx, b.ChildrenIDs)
}

// WithResolvers returns a copy of the block wired to the given navigation
// resolvers. The receiver is left untouched.
func (b *Block) WithResolvers(one ResolveOne, many ResolveMany) *Block {
	clone := *b
	if one != nil {
		clone.resolveOne = one
	}
	if many != nil {
		clone.resolveMany = many
	}
	return &clone
}

// Clone returns a deep-enough copy for copy-on-write mutation: slices and
// maps referenced by the copy are fresh, nested values are shared.
func (b *Block) Clone() *Block {
	clone := *b
	if b.ChildrenIDs != nil {
		clone.ChildrenIDs = append([]uuid.UUID(nil), b.ChildrenIDs...)
	}
	if b.Properties != nil {
		clone.Properties = make(map[string]any, len(b.Properties))
		for k, v := range b.Properties {
			clone.Properties[k] = v
		}
	}
	if b.Metadata != nil {
		clone.Metadata = make(map[string]any, len(b.Metadata))
		for k, v := range b.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// WithVersion returns a copy carrying the given version.
func (b *Block) WithVersion(version int) *Block {
	clone := b.Clone()
	clone.Version = version
	return clone
}

// WithParentID returns a copy reparented under parentID (nil detaches).
func (b *Block) WithParentID(parentID *uuid.UUID) *Block {
	clone := b.Clone()
	if parentID == nil {
		clone.ParentID = nil
	} else {
		id := *parentID
		clone.ParentID = &id
	}
	return clone
}

// WithChildrenIDs returns a copy with the canonical child order replaced.
func (b *Block) WithChildrenIDs(childrenIDs []uuid.UUID) *Block {
	clone := b.Clone()
	clone.ChildrenIDs = append([]uuid.UUID(nil), childrenIDs...)
	return clone
}

// WithInTrash returns a copy with the trash flag set.
func (b *Block) WithInTrash(inTrash bool) *Block {
	clone := b.Clone()
	clone.InTrash = inTrash
	return clone
}

// WithProperties returns a copy with the properties payload replaced.
func (b *Block) WithProperties(properties map[string]any) *Block {
	clone := b.Clone()
	clone.Properties = properties
	return clone
}
