// Package database builds parameterized, identifier-safe list queries.
package database

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	GreaterThanOrEqual ConditionType = ">="
	ILike              ConditionType = "ILIKE"
	Any                ConditionType = "ANY"
	defaultLimit                     = -1
	defaultOffset                    = -1
	// maxAliasParts is the maximum number of parts when splitting on " AS ".
	maxAliasParts = 2
)

var (
	asRegex   = regexp.MustCompile(`(?i)\s+AS\s+`)
	castRegex = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_.]*)::([a-z_][a-z0-9_]*)$`)
)

type Condition struct {
	Field string
	Type  ConditionType
	Value any
}

func WhereCond(field string, condType ConditionType, value any) Condition {
	return Condition{Field: field, Type: condType, Value: value}
}

type ListQueryOptions struct {
	Table      string
	Columns    []string
	CountOnly  bool
	Conditions []Condition
	OrderBy    string
	OrderDir   string
	Limit      int
	Offset     int
}

type ListQueryOption func(*ListQueryOptions)

func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	options := &ListQueryOptions{
		Table:  table,
		Limit:  defaultLimit,
		Offset: defaultOffset,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithColumns sets the columns to select. "col::type" casts and "expr AS alias" are supported.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Columns = cols
	}
}

// WithCondition adds a single condition. Conditions are ANDed.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.Conditions = append(o.Conditions, cond)
	}
}

// WithOrderBy sets the ordering column and direction.
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.OrderBy = column
		o.OrderDir = direction
	}
}

// WithLimit sets the limit. Accepts 0.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit >= 0 {
			o.Limit = limit
		}
	}
}

// WithOffset sets the offset. Accepts 0.
func WithOffset(offset int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if offset >= 0 {
			o.Offset = offset
		}
	}
}

// WithCountOnly sets the query to count only.
func WithCountOnly() ListQueryOption {
	return func(o *ListQueryOptions) {
		o.CountOnly = true
	}
}

// sanitizeQualifiedIdentifier quotes "table.column" style identifiers part by part.
func sanitizeQualifiedIdentifier(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}

// processColumnSpec handles "column", "table.column", "column::type" and any of those with " AS alias".
// Anything else is dropped.
func processColumnSpec(spec string) string {
	parts := asRegex.Split(spec, maxAliasParts)
	expr := processColumnExpression(strings.TrimSpace(parts[0]))
	if expr == "" {
		return ""
	}
	if len(parts) == maxAliasParts {
		return expr + " AS " + pgx.Identifier{strings.TrimSpace(parts[1])}.Sanitize()
	}
	return expr
}

func processColumnExpression(expr string) string {
	if m := castRegex.FindStringSubmatch(expr); m != nil {
		return sanitizeQualifiedIdentifier(m[1]) + "::" + m[2]
	}
	if strings.Contains(expr, "::") {
		return ""
	}
	return sanitizeQualifiedIdentifier(expr)
}

func buildSelectClause(options *ListQueryOptions) string {
	if options.CountOnly {
		return "SELECT COUNT(*) "
	}
	if len(options.Columns) == 0 {
		return "SELECT * "
	}
	cols := make([]string, 0, len(options.Columns))
	for _, c := range options.Columns {
		if p := processColumnSpec(c); p != "" {
			cols = append(cols, p)
		}
	}
	return fmt.Sprintf("SELECT %s ", strings.Join(cols, ", "))
}

func buildPaginationAndOrderClause(options *ListQueryOptions, paramCount int, args []any) (string, []any) {
	var clause strings.Builder

	if options.OrderBy != "" {
		clause.WriteString(" ORDER BY ")
		clause.WriteString(sanitizeQualifiedIdentifier(options.OrderBy))
		if dir := strings.ToUpper(options.OrderDir); dir == "ASC" || dir == "DESC" {
			clause.WriteString(" " + dir)
		}
	}
	if options.Limit != defaultLimit {
		fmt.Fprintf(&clause, " LIMIT $%d", paramCount)
		args = append(args, options.Limit)
		paramCount++
	}
	if options.Offset != defaultOffset {
		fmt.Fprintf(&clause, " OFFSET $%d", paramCount)
		args = append(args, options.Offset)
	}
	return clause.String(), args
}

// BuildListQuery constructs a SQL query string and arguments from options, sanitizing identifiers.
//
// Example usage:
//
//	options := NewListQueryOptions("principals",
//		WithColumns("id", "username", "role::text AS role"),
//		WithCondition(WhereCond("role", Any, []string{"admin", "manager"})),
//		WithOrderBy("id", "ASC"),
//		WithLimit(50),
//		WithOffset(0),
//	)
//	query, args := BuildListQuery(options)
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}

	var query strings.Builder
	query.WriteString(buildSelectClause(options))
	query.WriteString("FROM ")
	query.WriteString(pgx.Identifier{options.Table}.Sanitize())

	whereClause, args, next := buildWhereClause(options.Conditions, 1)
	if whereClause != "" {
		query.WriteString(" " + whereClause)
	}
	if options.CountOnly {
		return query.String(), args
	}

	tail, args := buildPaginationAndOrderClause(options, next, args)
	query.WriteString(tail)
	return query.String(), args
}

// processCondition renders one condition. Conditions with an empty field, unknown type or
// an empty slice for Any are skipped.
func processCondition(cond Condition, paramCount int) (string, []any, int) {
	if cond.Field == "" {
		return "", nil, paramCount
	}
	field := sanitizeQualifiedIdentifier(cond.Field)

	switch cond.Type {
	case Any:
		rv := reflect.ValueOf(cond.Value)
		if rv.Kind() != reflect.Slice || rv.Len() == 0 {
			return "", nil, paramCount
		}
		placeholders := make([]string, rv.Len())
		args := make([]any, rv.Len())
		for i := range rv.Len() {
			placeholders[i] = fmt.Sprintf("$%d", paramCount)
			args[i] = rv.Index(i).Interface()
			paramCount++
		}
		return fmt.Sprintf("%s = ANY (ARRAY[%s])", field, strings.Join(placeholders, ", ")), args, paramCount
	case Equal, NotEqual, GreaterThan, LessThan, LessThanOrEqual, GreaterThanOrEqual, ILike:
		return fmt.Sprintf("%s %s $%d", field, cond.Type, paramCount), []any{cond.Value}, paramCount + 1
	}
	return "", nil, paramCount
}

func buildWhereClause(input []Condition, startParamIndex int) (string, []any, int) {
	conditions := make([]string, 0, len(input))
	args := []any{}
	paramCount := startParamIndex

	for _, cond := range input {
		s, condArgs, next := processCondition(cond, paramCount)
		if s == "" {
			continue
		}
		conditions = append(conditions, s)
		args = append(args, condArgs...)
		paramCount = next
	}

	if len(conditions) == 0 {
		return "", args, paramCount
	}
	return "WHERE " + strings.Join(conditions, " AND "), args, paramCount
}
