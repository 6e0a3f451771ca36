// Package query provides the chainable query object used by repositories
// and the relation resolver
package query

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidOperator is returned for unknown comparison operators
	ErrInvalidOperator = errors.New("invalid operator")

	// ErrInvalidValue is returned when a predicate value has the wrong shape
	ErrInvalidValue = errors.New("invalid predicate value")

	// ErrInvalidDirection is returned for ORDER BY directions other than asc/desc
	ErrInvalidDirection = errors.New("invalid order direction")

	// ErrEmptyRow is returned when inserting or updating with no columns
	ErrEmptyRow = errors.New("no columns to write")
)

// Row is the unit exchanged with the database: column name to value
type Row = map[string]interface{}

// JoinType represents the type of SQL join
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

// String returns the string representation of the join type
func (j JoinType) String() string {
	if j == LeftJoin {
		return "LEFT"
	}
	return "INNER"
}

// Join represents a SQL join clause
type Join struct {
	Type  JoinType
	Table string
	Left  string
	Right string
}

type order struct {
	column    string
	direction string
}

// Query accumulates clauses against one table. A Query is mutable and
// must not be shared between goroutines; use Clone to fork it.
type Query struct {
	exec    Executor
	dialect Dialect
	table   string

	columns    []string
	conditions []*Condition
	joins      []*Join
	orderBy    []order
	groupBy    []string
	limit      *int
	offset     *int

	// first builder error, reported when the query is rendered
	err error
}

// New creates a query for table bound to exec
func New(exec Executor, dialect Dialect, table string) *Query {
	return &Query{
		exec:    exec,
		dialect: dialect,
		table:   table,
	}
}

// Table returns the table the query targets
func (q *Query) Table() string {
	return q.table
}

// Dialect returns the query's dialect
func (q *Query) Dialect() Dialect {
	return q.dialect
}

// Executor returns the executor the query runs against
func (q *Query) Executor() Executor {
	return q.exec
}

// Select sets the projected columns; repeated calls append
func (q *Query) Select(columns ...string) *Query {
	q.columns = append(q.columns, columns...)
	return q
}

// Where adds an equality predicate; a nil value renders IS NULL
func (q *Query) Where(column string, value interface{}) *Query {
	q.conditions = append(q.conditions, &Condition{Field: column, Operator: OpEqual, Value: value})
	return q
}

// OrWhere adds an OR-joined equality predicate
func (q *Query) OrWhere(column string, value interface{}) *Query {
	q.conditions = append(q.conditions, &Condition{Field: column, Operator: OpEqual, Value: value, Or: true})
	return q
}

// WhereOp adds a predicate with a textual operator such as ">=" or "like"
func (q *Query) WhereOp(column, op string, value interface{}) *Query {
	operator, err := ParseOperator(op)
	if err != nil {
		q.setErr(err)
		return q
	}
	q.conditions = append(q.conditions, &Condition{Field: column, Operator: operator, Value: value})
	return q
}

// WhereIn adds a column IN (...) predicate; an empty list matches nothing
func (q *Query) WhereIn(column string, values interface{}) *Query {
	q.conditions = append(q.conditions, &Condition{Field: column, Operator: OpIn, Value: values})
	return q
}

// WhereNotIn adds a column NOT IN (...) predicate
func (q *Query) WhereNotIn(column string, values interface{}) *Query {
	q.conditions = append(q.conditions, &Condition{Field: column, Operator: OpNotIn, Value: values})
	return q
}

// WhereNull adds a column IS NULL predicate
func (q *Query) WhereNull(column string) *Query {
	q.conditions = append(q.conditions, &Condition{Field: column, Operator: OpIsNull})
	return q
}

// WhereNotNull adds a column IS NOT NULL predicate
func (q *Query) WhereNotNull(column string) *Query {
	q.conditions = append(q.conditions, &Condition{Field: column, Operator: OpIsNotNull})
	return q
}

// WhereColumn compares two columns, used for correlated sub-selects
func (q *Query) WhereColumn(left, op, right string) *Query {
	operator, err := ParseOperator(op)
	if err != nil {
		q.setErr(err)
		return q
	}
	q.conditions = append(q.conditions, &Condition{Field: left, Operator: operator, Column: right})
	return q
}

// WhereRaw adds a raw predicate; use ? for placeholders. A ? outside
// quotes is always bound, so write the jsonb ? operators as
// jsonb_exists / jsonb_exists_any instead.
func (q *Query) WhereRaw(expr string, args ...interface{}) *Query {
	q.conditions = append(q.conditions, &Condition{Raw: expr, RawArgs: args})
	return q
}

// WhereExists adds EXISTS (sub)
func (q *Query) WhereExists(sub *Query) *Query {
	q.conditions = append(q.conditions, &Condition{Exists: sub})
	return q
}

// WhereNotExists adds NOT EXISTS (sub)
func (q *Query) WhereNotExists(sub *Query) *Query {
	q.conditions = append(q.conditions, &Condition{Exists: sub, NotExists: true})
	return q
}

// Join adds an INNER JOIN table ON left = right
func (q *Query) Join(table, left, right string) *Query {
	q.joins = append(q.joins, &Join{Type: InnerJoin, Table: table, Left: left, Right: right})
	return q
}

// LeftJoin adds a LEFT JOIN table ON left = right
func (q *Query) LeftJoin(table, left, right string) *Query {
	q.joins = append(q.joins, &Join{Type: LeftJoin, Table: table, Left: left, Right: right})
	return q
}

// OrderBy adds an ORDER BY clause; direction is "asc" or "desc"
func (q *Query) OrderBy(column, direction string) *Query {
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir == "" {
		dir = "ASC"
	}
	if dir != "ASC" && dir != "DESC" {
		q.setErr(fmt.Errorf("%w: %q", ErrInvalidDirection, direction))
		return q
	}
	q.orderBy = append(q.orderBy, order{column: column, direction: dir})
	return q
}

// GroupBy adds GROUP BY columns
func (q *Query) GroupBy(columns ...string) *Query {
	q.groupBy = append(q.groupBy, columns...)
	return q
}

// Limit sets the LIMIT clause
func (q *Query) Limit(n int) *Query {
	q.limit = &n
	return q
}

// Offset sets the OFFSET clause
func (q *Query) Offset(n int) *Query {
	q.offset = &n
	return q
}

// Err returns the first error recorded while building
func (q *Query) Err() error {
	return q.err
}

// Clone returns an independent copy of the query. Sub-queries used in
// EXISTS predicates are shared.
func (q *Query) Clone() *Query {
	c := &Query{
		exec:       q.exec,
		dialect:    q.dialect,
		table:      q.table,
		columns:    append([]string(nil), q.columns...),
		conditions: append([]*Condition(nil), q.conditions...),
		joins:      append([]*Join(nil), q.joins...),
		orderBy:    append([]order(nil), q.orderBy...),
		groupBy:    append([]string(nil), q.groupBy...),
		err:        q.err,
	}
	if q.limit != nil {
		n := *q.limit
		c.limit = &n
	}
	if q.offset != nil {
		n := *q.offset
		c.offset = &n
	}
	return c
}

func (q *Query) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

// ToSQL renders the SELECT statement with dialect placeholders
func (q *Query) ToSQL() (string, []interface{}, error) {
	args := make([]interface{}, 0)
	sql, err := q.renderSelect(&args)
	if err != nil {
		return "", nil, err
	}
	return q.dialect.Rebind(sql), args, nil
}

// CountSQL renders SELECT COUNT(*) over the query as a derived table
func (q *Query) CountSQL() (string, []interface{}, error) {
	args := make([]interface{}, 0)
	inner, err := q.renderSelect(&args)
	if err != nil {
		return "", nil, err
	}
	return q.dialect.Rebind("SELECT COUNT(*) FROM (" + inner + ") AS " + q.dialect.Quote("aggregate")), args, nil
}

// InsertSQL renders an INSERT of row; columns are written in sorted order
func (q *Query) InsertSQL(row Row) (string, []interface{}, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	if len(row) == 0 {
		return "", nil, ErrEmptyRow
	}

	columns := sortedKeys(row)
	quoted := make([]string, len(columns))
	holders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, col := range columns {
		quoted[i] = q.dialect.Quote(col)
		holders[i] = "?"
		args[i] = row[col]
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		q.dialect.Quote(q.table), strings.Join(quoted, ", "), strings.Join(holders, ", "))
	return q.dialect.Rebind(sql), args, nil
}

// UpdateSQL renders an UPDATE of row restricted by the query's predicates
func (q *Query) UpdateSQL(row Row) (string, []interface{}, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	if len(row) == 0 {
		return "", nil, ErrEmptyRow
	}

	columns := sortedKeys(row)
	sets := make([]string, len(columns))
	args := make([]interface{}, 0, len(columns))
	for i, col := range columns {
		sets[i] = q.dialect.Quote(col) + " = ?"
		args = append(args, row[col])
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(q.dialect.Quote(q.table))
	b.WriteString(" SET ")
	b.WriteString(strings.Join(sets, ", "))
	if err := q.writeWhere(&b, &args); err != nil {
		return "", nil, err
	}
	return q.dialect.Rebind(b.String()), args, nil
}

// DeleteSQL renders a DELETE restricted by the query's predicates
func (q *Query) DeleteSQL() (string, []interface{}, error) {
	if q.err != nil {
		return "", nil, q.err
	}

	args := make([]interface{}, 0)
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(q.dialect.Quote(q.table))
	if err := q.writeWhere(&b, &args); err != nil {
		return "", nil, err
	}
	return q.dialect.Rebind(b.String()), args, nil
}

func (q *Query) renderSelect(args *[]interface{}) (string, error) {
	if q.err != nil {
		return "", q.err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if len(q.columns) == 0 {
		b.WriteString("*")
	} else {
		quoted := make([]string, len(q.columns))
		for i, col := range q.columns {
			quoted[i] = q.dialect.Quote(col)
		}
		b.WriteString(strings.Join(quoted, ", "))
	}
	b.WriteString(" FROM ")
	b.WriteString(q.dialect.Quote(q.table))

	for _, join := range q.joins {
		fmt.Fprintf(&b, " %s JOIN %s ON %s = %s",
			join.Type, q.dialect.Quote(join.Table), q.dialect.Quote(join.Left), q.dialect.Quote(join.Right))
	}

	if err := q.writeWhere(&b, args); err != nil {
		return "", err
	}

	if len(q.groupBy) > 0 {
		quoted := make([]string, len(q.groupBy))
		for i, col := range q.groupBy {
			quoted[i] = q.dialect.Quote(col)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(quoted, ", "))
	}

	if len(q.orderBy) > 0 {
		parts := make([]string, len(q.orderBy))
		for i, o := range q.orderBy {
			parts[i] = q.dialect.Quote(o.column) + " " + o.direction
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}

	if q.limit != nil {
		b.WriteString(" LIMIT ?")
		*args = append(*args, *q.limit)
	}
	if q.offset != nil {
		b.WriteString(" OFFSET ?")
		*args = append(*args, *q.offset)
	}

	return b.String(), nil
}

func (q *Query) writeWhere(b *strings.Builder, args *[]interface{}) error {
	if len(q.conditions) == 0 {
		return nil
	}

	b.WriteString(" WHERE ")
	for i, cond := range q.conditions {
		if i > 0 {
			if cond.Or {
				b.WriteString(" OR ")
			} else {
				b.WriteString(" AND ")
			}
		}
		sql, err := q.conditionToSQL(cond, args)
		if err != nil {
			return fmt.Errorf("failed to build condition: %w", err)
		}
		b.WriteString(sql)
	}
	return nil
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
