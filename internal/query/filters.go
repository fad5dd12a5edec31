// Package query defines the filter expression AST accepted by block queries.
// Filters validate at construction so malformed predicates fail fast instead
// of surfacing as backing-store errors at execution time.
package query

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"blockstore/internal/domain/models"
)

// Operator is a comparison applied by a PropertyFilter.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpIn        Operator = "in"       // value must be a non-string slice; membership test
	OpContains  Operator = "contains" // value must be a string; substring test
)

// LogicalOperator composes filter expressions.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "and"
	LogicalOr  LogicalOperator = "or"
	LogicalNot LogicalOperator = "not"
)

// WhereClause is a conjunction of structural constraints. Each populated
// field is an independent AND'd constraint; a single element means equality,
// multiple elements a membership test.
type WhereClause struct {
	Types        []models.BlockType
	ParentIDs    []uuid.UUID
	RootIDs      []uuid.UUID
	WorkspaceIDs []uuid.UUID
}

// IsEmpty reports whether the clause constrains anything.
func (w *WhereClause) IsEmpty() bool {
	return w == nil ||
		(len(w.Types) == 0 && len(w.ParentIDs) == 0 && len(w.RootIDs) == 0 && len(w.WorkspaceIDs) == 0)
}

// FilterExpression is a semantic predicate over a block's JSON payloads:
// either a single PropertyFilter or a BooleanFilter composition.
type FilterExpression interface {
	filterExpression()
}

// pathSegmentPattern keeps path segments safe to embed in a JSON path
// literal: letters, digits, underscore, dash.
var pathSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// PropertyFilter matches one dotted JSON path against a value. The path's
// first segment selects the logical root (properties, content, metadata);
// a bare path defaults to properties.
type PropertyFilter struct {
	Path     string
	Value    any
	Operator Operator
}

func (*PropertyFilter) filterExpression() {}

// NewPropertyFilter builds a validated property filter.
func NewPropertyFilter(path string, value any, operator Operator) (*PropertyFilter, error) {
	f := &PropertyFilter{Path: path, Value: value, Operator: operator}

	if err := validation.Validate(strings.TrimSpace(path), validation.Required.Error("path cannot be empty")); err != nil {
		return nil, fmt.Errorf("property filter: %w", err)
	}
	for _, segment := range PathSegments(path) {
		if !pathSegmentPattern.MatchString(segment) {
			return nil, fmt.Errorf("property filter: invalid path segment %q", segment)
		}
	}

	switch operator {
	case OpEquals, OpNotEquals:
		// any scalar shape is acceptable; comparison type is inferred later
	case OpIn:
		rv := reflect.ValueOf(value)
		if _, isString := value.(string); isString || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return nil, fmt.Errorf("property filter: operator %q expects a non-string slice value", operator)
		}
		if rv.Len() == 0 {
			return nil, fmt.Errorf("property filter: operator %q requires at least one value", operator)
		}
	case OpContains:
		if _, ok := value.(string); !ok {
			return nil, fmt.Errorf("property filter: operator %q expects a string value", operator)
		}
	default:
		return nil, fmt.Errorf("property filter: unsupported operator %q", operator)
	}

	return f, nil
}

// BooleanFilter composes sub-filters with AND/OR/NOT. Arbitrarily nestable.
type BooleanFilter struct {
	Operator LogicalOperator
	Operands []FilterExpression
}

func (*BooleanFilter) filterExpression() {}

// And requires two or more operands, all of which must match.
func And(operands ...FilterExpression) (*BooleanFilter, error) {
	return newBooleanFilter(LogicalAnd, operands)
}

// Or requires two or more operands, any of which may match.
func Or(operands ...FilterExpression) (*BooleanFilter, error) {
	return newBooleanFilter(LogicalOr, operands)
}

// Not inverts exactly one operand.
func Not(operand FilterExpression) (*BooleanFilter, error) {
	if operand == nil {
		return nil, fmt.Errorf("boolean filter: %s requires exactly one operand", LogicalNot)
	}
	return &BooleanFilter{Operator: LogicalNot, Operands: []FilterExpression{operand}}, nil
}

func newBooleanFilter(op LogicalOperator, operands []FilterExpression) (*BooleanFilter, error) {
	if len(operands) < 2 {
		return nil, fmt.Errorf("boolean filter: %s requires two or more operands", op)
	}
	for _, operand := range operands {
		if operand == nil {
			return nil, fmt.Errorf("boolean filter: nil operand")
		}
	}
	return &BooleanFilter{Operator: op, Operands: operands}, nil
}

// ParentFilter constrains the single-hop joined parent row.
type ParentFilter struct {
	Where  *WhereClause
	Filter FilterExpression
}

// RootFilter constrains the joined root row.
type RootFilter struct {
	Where  *WhereClause
	Filter FilterExpression
}

// BlockQuery bundles every constraint a block query accepts.
type BlockQuery struct {
	Where          *WhereClause
	Filter         FilterExpression
	Parent         *ParentFilter
	Root           *RootFilter
	Limit          int // 0 = no limit
	IncludeTrashed bool
}

// PathSegments splits a dotted path, dropping empty segments.
func PathSegments(path string) []string {
	parts := strings.Split(path, ".")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}
