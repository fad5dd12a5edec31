package postgres

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"blockstore/internal/query"
)

// sqlArgs accumulates positional arguments while fragments are assembled.
type sqlArgs struct {
	args []any
}

func (a *sqlArgs) add(value any) string {
	a.args = append(a.args, value)
	return fmt.Sprintf("$%d", len(a.args))
}

// compileWhere translates a structural clause into AND'd conditions against
// the given table alias. Single values compile to equality, sets to = ANY.
func compileWhere(alias string, where *query.WhereClause, a *sqlArgs) []string {
	if where.IsEmpty() {
		return nil
	}

	var conditions []string

	if len(where.Types) == 1 {
		conditions = append(conditions, fmt.Sprintf("%s.type = %s", alias, a.add(string(where.Types[0]))))
	} else if len(where.Types) > 1 {
		values := make([]string, len(where.Types))
		for i, t := range where.Types {
			values[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("%s.type = ANY(%s)", alias, a.add(values)))
	}

	conditions = append(conditions, compileIDConstraint(alias, "parent_id", where.ParentIDs, a)...)
	conditions = append(conditions, compileIDConstraint(alias, "root_id", where.RootIDs, a)...)
	conditions = append(conditions, compileIDConstraint(alias, "workspace_id", where.WorkspaceIDs, a)...)

	return conditions
}

func compileIDConstraint(alias, column string, ids []uuid.UUID, a *sqlArgs) []string {
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return []string{fmt.Sprintf("%s.%s = %s", alias, column, a.add(ids[0].String()))}
	default:
		values := make([]string, len(ids))
		for i, id := range ids {
			values[i] = id.String()
		}
		return []string{fmt.Sprintf("%s.%s = ANY(%s)", alias, column, a.add(values))}
	}
}

// jsonColumnForPath maps the first path segment onto its backing column.
// A bare path with no recognized root defaults to properties.
func jsonColumnForPath(path string) (column string, segments []string, err error) {
	segments = query.PathSegments(path)
	if len(segments) == 0 {
		return "", nil, fmt.Errorf("json path cannot be empty")
	}

	switch segments[0] {
	case "properties", "content", "metadata":
		return segments[0], segments[1:], nil
	default:
		return "properties", segments, nil
	}
}

// jsonPathExpression builds the text extraction for a dotted path, e.g.
// b.content #>> '{data,category}'. Falls back to the column itself for an
// empty remainder (path named just the root).
func jsonPathExpression(alias, column string, segments []string) string {
	if len(segments) == 0 {
		return fmt.Sprintf("%s.%s #>> '{}'", alias, column)
	}
	return fmt.Sprintf("%s.%s #>> '{%s}'", alias, column, strings.Join(segments, ","))
}

type comparisonKind int

const (
	compareString comparisonKind = iota
	compareBool
	compareInt
	compareFloat
)

// comparisonKindOf infers the typed comparison from the shape of the
// supplied filter value. The JSON target is cast to this type, so a
// mismatched target fails typed at execution rather than silently false.
func comparisonKindOf(value any) (comparisonKind, error) {
	switch value.(type) {
	case bool:
		return compareBool, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return compareInt, nil
	case float32, float64:
		return compareFloat, nil
	case string:
		return compareString, nil
	default:
		return 0, fmt.Errorf("unsupported filter value type %T", value)
	}
}

func castExpression(textExpr string, kind comparisonKind) string {
	switch kind {
	case compareBool:
		return fmt.Sprintf("(%s)::boolean", textExpr)
	case compareInt:
		return fmt.Sprintf("(%s)::numeric", textExpr)
	case compareFloat:
		return fmt.Sprintf("(%s)::double precision", textExpr)
	default:
		return textExpr
	}
}

// compileFilterExpression translates a semantic filter into one SQL
// condition against the given alias.
func compileFilterExpression(alias string, expr query.FilterExpression, a *sqlArgs) (string, error) {
	switch f := expr.(type) {
	case *query.PropertyFilter:
		return compilePropertyFilter(alias, f, a)
	case *query.BooleanFilter:
		return compileBooleanFilter(alias, f, a)
	default:
		return "", fmt.Errorf("unsupported filter expression type %T", expr)
	}
}

func compilePropertyFilter(alias string, f *query.PropertyFilter, a *sqlArgs) (string, error) {
	column, segments, err := jsonColumnForPath(f.Path)
	if err != nil {
		return "", err
	}
	textExpr := jsonPathExpression(alias, column, segments)

	switch f.Operator {
	case query.OpEquals, query.OpNotEquals:
		kind, err := comparisonKindOf(f.Value)
		if err != nil {
			return "", err
		}
		op := "="
		if f.Operator == query.OpNotEquals {
			op = "<>"
		}
		return fmt.Sprintf("%s %s %s", castExpression(textExpr, kind), op, a.add(f.Value)), nil

	case query.OpIn:
		values, kind, err := normalizeMembershipValues(f.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = ANY(%s)", castExpression(textExpr, kind), a.add(values)), nil

	case query.OpContains:
		needle, ok := f.Value.(string)
		if !ok {
			return "", fmt.Errorf("contains operator expects a string value, got %T", f.Value)
		}
		return fmt.Sprintf("position(%s in (%s)) > 0", a.add(needle), textExpr), nil

	default:
		return "", fmt.Errorf("unsupported filter operator %q", f.Operator)
	}
}

// normalizeMembershipValues converts the filter's slice value into a typed
// array pgx can encode, inferring the comparison type from the first element.
func normalizeMembershipValues(value any) (any, comparisonKind, error) {
	switch vs := value.(type) {
	case []string:
		if len(vs) == 0 {
			return nil, 0, fmt.Errorf("membership filter requires at least one value")
		}
		return vs, compareString, nil
	case []bool:
		if len(vs) == 0 {
			return nil, 0, fmt.Errorf("membership filter requires at least one value")
		}
		return vs, compareBool, nil
	case []int:
		if len(vs) == 0 {
			return nil, 0, fmt.Errorf("membership filter requires at least one value")
		}
		out := make([]int64, len(vs))
		for i, v := range vs {
			out[i] = int64(v)
		}
		return out, compareInt, nil
	case []int64:
		if len(vs) == 0 {
			return nil, 0, fmt.Errorf("membership filter requires at least one value")
		}
		return vs, compareInt, nil
	case []float64:
		if len(vs) == 0 {
			return nil, 0, fmt.Errorf("membership filter requires at least one value")
		}
		return vs, compareFloat, nil
	case []any:
		if len(vs) == 0 {
			return nil, 0, fmt.Errorf("membership filter requires at least one value")
		}
		kind, err := comparisonKindOf(vs[0])
		if err != nil {
			return nil, 0, err
		}
		switch kind {
		case compareString:
			out := make([]string, len(vs))
			for i, v := range vs {
				s, ok := v.(string)
				if !ok {
					return nil, 0, fmt.Errorf("mixed value types in membership filter")
				}
				out[i] = s
			}
			return out, kind, nil
		case compareBool:
			out := make([]bool, len(vs))
			for i, v := range vs {
				b, ok := v.(bool)
				if !ok {
					return nil, 0, fmt.Errorf("mixed value types in membership filter")
				}
				out[i] = b
			}
			return out, kind, nil
		case compareInt:
			out := make([]int64, len(vs))
			for i, v := range vs {
				n, err := toInt64(v)
				if err != nil {
					return nil, 0, fmt.Errorf("mixed value types in membership filter")
				}
				out[i] = n
			}
			return out, kind, nil
		default:
			out := make([]float64, len(vs))
			for i, v := range vs {
				f, err := toFloat64(v)
				if err != nil {
					return nil, 0, fmt.Errorf("mixed value types in membership filter")
				}
				out[i] = f
			}
			return out, kind, nil
		}
	default:
		return nil, 0, fmt.Errorf("membership filter expects a slice value, got %T", value)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a float: %T", v)
	}
}

func compileBooleanFilter(alias string, f *query.BooleanFilter, a *sqlArgs) (string, error) {
	compiled := make([]string, 0, len(f.Operands))
	for _, operand := range f.Operands {
		fragment, err := compileFilterExpression(alias, operand, a)
		if err != nil {
			return "", err
		}
		compiled = append(compiled, fragment)
	}

	switch f.Operator {
	case query.LogicalAnd:
		return "(" + strings.Join(compiled, " AND ") + ")", nil
	case query.LogicalOr:
		return "(" + strings.Join(compiled, " OR ") + ")", nil
	case query.LogicalNot:
		if len(compiled) != 1 {
			return "", fmt.Errorf("NOT requires exactly one operand")
		}
		operand := compiled[0]
		// Boolean operands already compile parenthesized.
		if _, nested := f.Operands[0].(*query.BooleanFilter); !nested {
			operand = "(" + operand + ")"
		}
		return "NOT " + operand, nil
	default:
		return "", fmt.Errorf("unsupported logical operator %q", f.Operator)
	}
}

// blockColumns is the canonical select list for block rows.
func blockColumns(alias string) string {
	cols := []string{
		"id", "type", "parent_id", "root_id", "children_ids", "workspace_id",
		"in_trash", "version", "created_time", "last_edited_time",
		"created_by", "last_edited_by", "properties", "metadata", "content",
		"properties_version",
	}
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

// compileBlockQuery assembles the full SELECT for QueryBlocks: structural
// constraints on the block itself plus single-hop joins for parent and root
// sub-filters.
func compileBlockQuery(tables *TableNames, q *query.BlockQuery) (string, []any, error) {
	a := &sqlArgs{}

	var joins []string
	var conditions []string

	if q.Root != nil {
		joins = append(joins, fmt.Sprintf("JOIN %s rb ON b.root_id = rb.id", tables.Blocks))
		conditions = append(conditions, compileWhere("rb", q.Root.Where, a)...)
		if q.Root.Filter != nil {
			fragment, err := compileFilterExpression("rb", q.Root.Filter, a)
			if err != nil {
				return "", nil, fmt.Errorf("compile root filter: %w", err)
			}
			conditions = append(conditions, fragment)
		}
	}

	if q.Parent != nil {
		joins = append(joins, fmt.Sprintf("JOIN %s pb ON b.parent_id = pb.id", tables.Blocks))
		conditions = append(conditions, compileWhere("pb", q.Parent.Where, a)...)
		if q.Parent.Filter != nil {
			fragment, err := compileFilterExpression("pb", q.Parent.Filter, a)
			if err != nil {
				return "", nil, fmt.Errorf("compile parent filter: %w", err)
			}
			conditions = append(conditions, fragment)
		}
	}

	conditions = append(conditions, compileWhere("b", q.Where, a)...)
	if q.Filter != nil {
		fragment, err := compileFilterExpression("b", q.Filter, a)
		if err != nil {
			return "", nil, fmt.Errorf("compile property filter: %w", err)
		}
		conditions = append(conditions, fragment)
	}

	if !q.IncludeTrashed {
		conditions = append(conditions, "b.in_trash = FALSE")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s b", blockColumns("b"), tables.Blocks)
	if len(joins) > 0 {
		sql += " " + strings.Join(joins, " ")
	}
	if len(conditions) > 0 {
		sql += " WHERE " + strings.Join(conditions, " AND ")
	}
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %s", a.add(q.Limit))
	}

	return sql, a.args, nil
}
