package models

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// BlockProperties is the typed payload carried by a block's properties
// column. Each block type maps to one concrete schema through the registry
// below; unknown or unregistered types fall back to the open GenericProps bag.
type BlockProperties interface {
	Validate() error
}

// GenericProps is the open schema used for types without dedicated fields
// (paragraph, quote, table, record and friends keep type-specific data in
// content/metadata instead).
type GenericProps map[string]any

func (p GenericProps) Validate() error { return nil }

// DocumentProps describes a document root.
type DocumentProps struct {
	Title    *string `json:"title,omitempty"`
	Category *string `json:"category,omitempty"`
}

func (p *DocumentProps) Validate() error { return nil }

// HeadingProps describes a heading with its outline level.
type HeadingProps struct {
	Level int `json:"level"`
}

func (p *HeadingProps) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Level, validation.Required, validation.Min(1), validation.Max(6)),
	)
}

// ListItemProps is shared by bulleted and numbered list items.
type ListItemProps struct {
	Indent int `json:"indent,omitempty"`
}

func (p *ListItemProps) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Indent, validation.Min(0)),
	)
}

// CodeProps describes a code block.
type CodeProps struct {
	Language *string     `json:"language,omitempty"`
	Groups   []uuid.UUID `json:"groups,omitempty"`
}

func (p *CodeProps) Validate() error { return nil }

// DatasetProps describes a dataset root.
type DatasetProps struct {
	DatasetType *string `json:"dataset_type,omitempty"`
}

func (p *DatasetProps) Validate() error { return nil }

// PageGroupProps describes a page-group container.
type PageGroupProps struct {
	PageNumber int `json:"page_number"`
}

func (p *PageGroupProps) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.PageNumber, validation.Required, validation.Min(1)),
	)
}

// ChunkGroupProps describes a chunk-group container.
type ChunkGroupProps struct {
	ChunkIndex int `json:"chunk_index,omitempty"`
}

func (p *ChunkGroupProps) Validate() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.ChunkIndex, validation.Min(0)),
	)
}

// propertiesRegistry is the type-tag -> schema dispatch table. Types absent
// from the map use GenericProps.
var propertiesRegistry = map[BlockType]func() BlockProperties{
	BlockTypeDocument:         func() BlockProperties { return &DocumentProps{} },
	BlockTypeDataset:          func() BlockProperties { return &DatasetProps{} },
	BlockTypeHeading:          func() BlockProperties { return &HeadingProps{} },
	BlockTypeBulletedListItem: func() BlockProperties { return &ListItemProps{} },
	BlockTypeNumberedListItem: func() BlockProperties { return &ListItemProps{} },
	BlockTypeCode:             func() BlockProperties { return &CodeProps{} },
	BlockTypePageGroup:        func() BlockProperties { return &PageGroupProps{} },
	BlockTypeChunkGroup:       func() BlockProperties { return &ChunkGroupProps{} },
}

// PropertiesFor returns a fresh, zero-valued schema instance for the type.
func PropertiesFor(t BlockType) BlockProperties {
	if factory, ok := propertiesRegistry[t]; ok {
		return factory()
	}
	return GenericProps{}
}

// DecodeProperties decodes a raw properties map into the schema registered
// for the block type and validates it. The decode is a JSON round trip so
// the same tags drive storage and typed access.
func DecodeProperties(t BlockType, raw map[string]any) (BlockProperties, error) {
	props := PropertiesFor(t)

	if generic, ok := props.(GenericProps); ok {
		for k, v := range raw {
			generic[k] = v
		}
		return generic, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode properties for %s: %w", t, err)
	}
	if err := json.Unmarshal(data, props); err != nil {
		return nil, fmt.Errorf("decode properties for %s: %w", t, err)
	}
	if err := props.Validate(); err != nil {
		return nil, fmt.Errorf("validate properties for %s: %w", t, err)
	}
	return props, nil
}

// EncodeProperties converts a typed schema back into the raw map persisted
// on the block row.
func EncodeProperties(props BlockProperties) (map[string]any, error) {
	if generic, ok := props.(GenericProps); ok {
		out := make(map[string]any, len(generic))
		for k, v := range generic {
			out[k] = v
		}
		return out, nil
	}

	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode properties payload: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
